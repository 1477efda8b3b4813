// Package model defines the record types reconciled between the source and
// target lead stores.
package model

// Lead is a prospective customer record. ID is store-assigned and is never
// compared across stores; matching happens on the normalized phone.
type Lead struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Phone          string     `json:"phone"`
	Attributes     Attributes `json:"attributes,omitempty"`
}

// Attr returns the lead's value for a mergeable attribute, or "" when unset.
func (l Lead) Attr(name string) string {
	return l.Attributes.Get(name)
}

// Attributes holds the nullable descriptive columns of a lead keyed by column
// name. A missing key and an empty string both mean null.
type Attributes map[string]string

// Get returns the value for name, or "" when absent.
func (a Attributes) Get(name string) string {
	if a == nil {
		return ""
	}
	return a[name]
}

// CategoryKind names a reference table a lead can point to by foreign key.
type CategoryKind string

// Known category kinds.
const (
	CategoryEnterprise CategoryKind = "enterprise"
	CategoryLeadSource CategoryKind = "lead_source"
)

// Valid reports whether k is a known kind.
func (k CategoryKind) Valid() bool {
	switch k {
	case CategoryEnterprise, CategoryLeadSource:
		return true
	default:
		return false
	}
}

// CategoryRecord is a named reference entity (enterprise or lead source)
// scoped to an owning organization.
type CategoryRecord struct {
	ID             string       `json:"id"`
	Kind           CategoryKind `json:"kind"`
	Name           string       `json:"name"`
	OrganizationID string       `json:"organization_id,omitempty"`
}

// ChangeSet maps a target lead attribute to its new value. An empty change
// set means the lead needs no write.
type ChangeSet map[string]string

// Empty reports whether the change set carries no changes.
func (c ChangeSet) Empty() bool {
	return len(c) == 0
}

// Fields returns the change set as a partial-update field map.
func (c ChangeSet) Fields() map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
