// Package normalize canonicalizes phone numbers and free-text names into
// comparable keys.
package normalize

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/cases"
)

// MinPhoneDigits is the shortest normalized phone considered usable for
// matching.
const MinPhoneDigits = 10

// defaultRegion is used when formatting phones that carry no country code.
const defaultRegion = "BR"

// Phone strips every non-digit character. Length is not validated.
func Phone(raw string) string {
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UsablePhone returns the normalized phone and whether it has at least
// minDigits digits.
func UsablePhone(raw string, minDigits int) (string, bool) {
	p := Phone(raw)
	if p == "" || len(p) < minDigits {
		return p, false
	}
	return p, true
}

// Name trims surrounding whitespace and case-folds. No accent folding or
// fuzzy matching is applied: "São" and "Sao" stay distinct.
func Name(raw string) string {
	s := strings.TrimFunc(raw, unicode.IsSpace)
	if s == "" {
		return ""
	}
	// cases.Caser is stateful; a fresh one keeps Name safe for concurrent use.
	return cases.Fold().String(s)
}

// DisplayPhone formats a phone as E.164 for reports. If the number cannot be
// parsed it returns the digits-only form.
func DisplayPhone(raw string) string {
	digits := Phone(raw)
	if digits == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, defaultRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return digits
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}
