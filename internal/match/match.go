// Package match pairs target leads with source leads by normalized phone.
package match

import (
	"github.com/sells-group/lead-reconciler/internal/model"
	"github.com/sells-group/lead-reconciler/internal/normalize"
)

// Pair associates one target lead with the source lead that matched it.
type Pair struct {
	Target model.Lead
	Source model.Lead
	Phone  string // normalized phone shared by both sides
}

// Result is the output of Match.
type Result struct {
	// Pairs are emitted in target iteration order.
	Pairs []Pair
	// Unmatched holds the ids of target leads with no usable phone or no
	// source hit, in target iteration order.
	Unmatched []string
	// SourceShortPhone counts source leads dropped for an unusable phone.
	SourceShortPhone int
	// SourceSuperseded counts source leads replaced by a later lead with the
	// same normalized phone.
	SourceSuperseded int
}

// Match pairs every target lead with the source lead sharing its normalized
// phone. Phones shorter than minDigits are never matched. When several source
// leads share a phone the last one wins: source data is chronological and
// later entries are authoritative.
func Match(source, target []model.Lead, minDigits int) Result {
	if minDigits <= 0 {
		minDigits = normalize.MinPhoneDigits
	}

	var res Result
	byPhone := make(map[string]model.Lead, len(source))
	for _, s := range source {
		phone, ok := normalize.UsablePhone(s.Phone, minDigits)
		if !ok {
			res.SourceShortPhone++
			continue
		}
		if _, seen := byPhone[phone]; seen {
			res.SourceSuperseded++
		}
		byPhone[phone] = s
	}

	for _, t := range target {
		phone, ok := normalize.UsablePhone(t.Phone, minDigits)
		if !ok {
			res.Unmatched = append(res.Unmatched, t.ID)
			continue
		}
		s, hit := byPhone[phone]
		if !hit {
			res.Unmatched = append(res.Unmatched, t.ID)
			continue
		}
		res.Pairs = append(res.Pairs, Pair{Target: t, Source: s, Phone: phone})
	}
	return res
}
