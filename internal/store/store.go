// Package store adapts the record stores being reconciled (Postgres, SQLite,
// Salesforce, in-memory) to one typed interface.
package store

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-reconciler/internal/model"
)

// Filter narrows a listing. Equals matches exactly; Contains matches a
// case-insensitive substring. Keys are column names from the store's Schema.
type Filter struct {
	Equals   map[string]string `json:"equals,omitempty" yaml:"equals" mapstructure:"equals"`
	Contains map[string]string `json:"contains,omitempty" yaml:"contains" mapstructure:"contains"`
}

// And returns a filter holding both f's and other's conditions; other wins on
// conflicting keys.
func (f Filter) And(other Filter) Filter {
	out := Filter{Equals: map[string]string{}, Contains: map[string]string{}}
	for k, v := range f.Equals {
		out.Equals[k] = v
	}
	for k, v := range other.Equals {
		out.Equals[k] = v
	}
	for k, v := range f.Contains {
		out.Contains[k] = v
	}
	for k, v := range other.Contains {
		out.Contains[k] = v
	}
	return out
}

// validate checks every filter column with has.
func (f Filter) validate(has func(string) bool) error {
	for _, col := range f.columns() {
		if !has(col) {
			return eris.Errorf("store: filter on unknown column %q", col)
		}
	}
	return nil
}

// columns returns the filtered columns, sorted so generated queries are stable.
func (f Filter) columns() []string {
	var cols []string
	for k := range f.Equals {
		cols = append(cols, k)
	}
	for k := range f.Contains {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Store is the record store surface the reconciler needs.
type Store interface {
	ListLeads(ctx context.Context, f Filter) ([]model.Lead, error)
	ListCategories(ctx context.Context, kind model.CategoryKind, f Filter) ([]model.CategoryRecord, error)
	GetLead(ctx context.Context, id string) (model.Lookup[model.Lead], error)
	UpdateLead(ctx context.Context, id string, changes model.ChangeSet) error
	// Schema reports the table and column names the store was opened with.
	Schema() Schema
	Close() error
}

// ScopeFilter restricts a listing to one organization. It is empty when
// organizationID or the organization column is blank.
func ScopeFilter(column, organizationID string) Filter {
	if column == "" || organizationID == "" {
		return Filter{}
	}
	return Filter{Equals: map[string]string{column: organizationID}}
}

// validateChanges rejects empty change sets and writes outside the schema's
// attribute columns; id, phone and organization are never writable.
func validateChanges(t LeadTable, id string, changes model.ChangeSet) error {
	if id == "" {
		return eris.New("store: lead id is required")
	}
	if changes.Empty() {
		return eris.New("store: no fields to update")
	}
	for col := range changes {
		if !t.HasAttribute(col) {
			return eris.Errorf("store: column %q is not a writable lead attribute", col)
		}
	}
	return nil
}

// sortedKeys returns the change set's columns in a stable order.
func sortedKeys(changes model.ChangeSet) []string {
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// leadFromRow builds a Lead from values scanned in LeadTable.columns() order.
// NULLs arrive as nil.
func leadFromRow(t LeadTable, vals []*string) model.Lead {
	get := func(i int) string {
		if i >= len(vals) || vals[i] == nil {
			return ""
		}
		return *vals[i]
	}
	l := model.Lead{ID: get(0), Phone: get(1)}
	i := 2
	if t.Organization != "" {
		l.OrganizationID = get(i)
		i++
	}
	if len(t.Attributes) > 0 {
		l.Attributes = make(model.Attributes, len(t.Attributes))
		for _, a := range t.Attributes {
			if v := get(i); v != "" {
				l.Attributes[a] = v
			}
			i++
		}
	}
	return l
}

func categoryFromRow(t CategoryTable, kind model.CategoryKind, vals []*string) model.CategoryRecord {
	get := func(i int) string {
		if i >= len(vals) || vals[i] == nil {
			return ""
		}
		return *vals[i]
	}
	r := model.CategoryRecord{ID: get(0), Kind: kind, Name: get(1)}
	if t.Organization != "" {
		r.OrganizationID = get(2)
	}
	return r
}

// scanTargets allocates n nullable string destinations.
func scanTargets(n int) ([]*string, []any) {
	vals := make([]*string, n)
	dest := make([]any, n)
	for i := range vals {
		dest[i] = &vals[i]
	}
	return vals, dest
}
