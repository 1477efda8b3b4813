package store

import (
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-reconciler/internal/model"
)

// LeadTable maps a store's lead table onto model.Lead.
type LeadTable struct {
	Table        string   `yaml:"table" mapstructure:"table"`
	ID           string   `yaml:"id" mapstructure:"id"`
	Phone        string   `yaml:"phone" mapstructure:"phone"`
	Organization string   `yaml:"organization" mapstructure:"organization"`
	Attributes   []string `yaml:"attributes" mapstructure:"attributes"`
	// OrderBy fixes listing order. Source listings rely on it being
	// chronological so that later duplicates win.
	OrderBy string `yaml:"order_by" mapstructure:"order_by"`
}

// CategoryTable maps a store's category table onto model.CategoryRecord.
type CategoryTable struct {
	Table        string `yaml:"table" mapstructure:"table"`
	ID           string `yaml:"id" mapstructure:"id"`
	Name         string `yaml:"name" mapstructure:"name"`
	Organization string `yaml:"organization" mapstructure:"organization"`
	OrderBy      string `yaml:"order_by" mapstructure:"order_by"`
}

// Schema describes where a store keeps leads and categories.
type Schema struct {
	Leads       LeadTable     `yaml:"leads" mapstructure:"leads"`
	Enterprises CategoryTable `yaml:"enterprises" mapstructure:"enterprises"`
	LeadSources CategoryTable `yaml:"lead_sources" mapstructure:"lead_sources"`
}

// DefaultTargetSchema is the active CRM's layout.
func DefaultTargetSchema() Schema {
	return Schema{
		Leads: LeadTable{
			Table:        "leads",
			ID:           "id",
			Phone:        "telefone",
			Organization: "organization_id",
			Attributes:   []string{"corretor", "empreendimento_id", "source_id"},
			OrderBy:      "created_at",
		},
		Enterprises: CategoryTable{Table: "empreendimentos", ID: "id", Name: "nome", Organization: "organization_id", OrderBy: "created_at"},
		LeadSources: CategoryTable{Table: "lead_sources", ID: "id", Name: "name", Organization: "organization_id", OrderBy: "created_at"},
	}
}

// DefaultSourceSchema is the legacy store's layout.
func DefaultSourceSchema() Schema {
	return Schema{
		Leads: LeadTable{
			Table:        "leads",
			ID:           "id",
			Phone:        "phone",
			Organization: "organization_id",
			Attributes:   []string{"corretor", "enterprise_id", "source_id"},
			OrderBy:      "created_at",
		},
		Enterprises: CategoryTable{Table: "enterprises", ID: "id", Name: "name", Organization: "organization_id", OrderBy: "created_at"},
		LeadSources: CategoryTable{Table: "lead_sources", ID: "id", Name: "name", Organization: "organization_id", OrderBy: "created_at"},
	}
}

// Category returns the table for kind.
func (s Schema) Category(kind model.CategoryKind) (CategoryTable, error) {
	switch kind {
	case model.CategoryEnterprise:
		return s.Enterprises, nil
	case model.CategoryLeadSource:
		return s.LeadSources, nil
	default:
		return CategoryTable{}, eris.Errorf("store: unknown category kind %q", kind)
	}
}

// Validate checks that the required columns are named.
func (s Schema) Validate() error {
	if s.Leads.Table == "" || s.Leads.ID == "" || s.Leads.Phone == "" {
		return eris.New("store: schema: leads table, id and phone are required")
	}
	for _, c := range []CategoryTable{s.Enterprises, s.LeadSources} {
		if c.Table == "" {
			continue
		}
		if c.ID == "" || c.Name == "" {
			return eris.Errorf("store: schema: %s: id and name are required", c.Table)
		}
	}
	return nil
}

// HasAttribute reports whether col is a writable attribute column.
func (t LeadTable) HasAttribute(col string) bool {
	return slices.Contains(t.Attributes, col)
}

// columns lists every readable lead column.
func (t LeadTable) columns() []string {
	cols := []string{t.ID, t.Phone}
	if t.Organization != "" {
		cols = append(cols, t.Organization)
	}
	return append(cols, t.Attributes...)
}

func (t LeadTable) hasColumn(col string) bool {
	return slices.Contains(t.columns(), col)
}

func (t CategoryTable) columns() []string {
	cols := []string{t.ID, t.Name}
	if t.Organization != "" {
		cols = append(cols, t.Organization)
	}
	return cols
}

func (t CategoryTable) hasColumn(col string) bool {
	return slices.Contains(t.columns(), col)
}
