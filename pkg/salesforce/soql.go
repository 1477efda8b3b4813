package salesforce

import (
	"sort"
	"strconv"
	"strings"
)

// Escape escapes a value for use inside a single-quoted SOQL literal.
func Escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// escapeLike additionally escapes LIKE wildcards.
func escapeLike(s string) string {
	return strings.NewReplacer(`%`, `\%`, `_`, `\_`).Replace(Escape(s))
}

// Select builds a SOQL query. Equality conditions compare exactly; contains
// conditions use LIKE, which SOQL evaluates case-insensitively. Conditions
// are rendered in column order so queries are stable.
type Select struct {
	Fields   []string
	From     string
	Equals   map[string]string
	Contains map[string]string
	OrderBy  []string
	Limit    int
}

// String renders the query.
func (s Select) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(s.Fields, ", "))
	b.WriteString(" FROM ")
	b.WriteString(s.From)

	var conds []string
	for _, col := range sortedKeys(s.Equals) {
		conds = append(conds, col+" = '"+Escape(s.Equals[col])+"'")
	}
	for _, col := range sortedKeys(s.Contains) {
		conds = append(conds, col+" LIKE '%"+escapeLike(s.Contains[col])+"%'")
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	if len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(s.OrderBy, ", "))
	}
	if s.Limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(s.Limit))
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

