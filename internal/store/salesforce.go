package store

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-reconciler/internal/model"
	"github.com/sells-group/lead-reconciler/pkg/salesforce"
)

// Salesforce implements Store over Salesforce SObjects. Schema tables are
// SObject API names and columns are field API names.
type Salesforce struct {
	client salesforce.Client
	schema Schema
}

// NewSalesforce wraps client.
func NewSalesforce(client salesforce.Client, schema Schema) (*Salesforce, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Salesforce{client: client, schema: schema}, nil
}

// Check verifies through describe calls that every attribute field exists on
// the lead SObject and is updateable.
func (s *Salesforce) Check(ctx context.Context) error {
	t := s.schema.Leads
	desc, err := s.client.DescribeSObject(ctx, t.Table)
	if err != nil {
		return eris.Wrapf(err, "salesforce: check %s", t.Table)
	}
	updateable := desc.UpdateableFields()
	for _, col := range t.columns() {
		if _, ok := desc.Field(col); !ok {
			return eris.Errorf("salesforce: %s has no field %s", t.Table, col)
		}
		if t.HasAttribute(col) && !slices.Contains(updateable, col) {
			return eris.Errorf("salesforce: %s.%s is not updateable", t.Table, col)
		}
	}
	return nil
}

func (s *Salesforce) Schema() Schema { return s.schema }

func (s *Salesforce) Close() error { return nil }

func (s *Salesforce) ListLeads(ctx context.Context, f Filter) ([]model.Lead, error) {
	t := s.schema.Leads
	if err := f.validate(t.hasColumn); err != nil {
		return nil, err
	}

	records, err := s.query(ctx, salesforce.Select{
		Fields:   t.columns(),
		From:     t.Table,
		Equals:   f.Equals,
		Contains: f.Contains,
		OrderBy:  soqlOrder(t.OrderBy, t.ID),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "salesforce: list leads from %s", t.Table)
	}

	leads := make([]model.Lead, 0, len(records))
	for _, r := range records {
		leads = append(leads, leadFromRow(t, recordValues(r, t.columns())))
	}
	return leads, nil
}

func (s *Salesforce) ListCategories(ctx context.Context, kind model.CategoryKind, f Filter) ([]model.CategoryRecord, error) {
	t, err := s.schema.Category(kind)
	if err != nil {
		return nil, err
	}
	if t.Table == "" {
		return nil, nil
	}
	if err := f.validate(t.hasColumn); err != nil {
		return nil, err
	}

	records, err := s.query(ctx, salesforce.Select{
		Fields:   t.columns(),
		From:     t.Table,
		Equals:   f.Equals,
		Contains: f.Contains,
		OrderBy:  soqlOrder(t.OrderBy, t.ID),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "salesforce: list %s", t.Table)
	}

	out := make([]model.CategoryRecord, 0, len(records))
	for _, r := range records {
		out = append(out, categoryFromRow(t, kind, recordValues(r, t.columns())))
	}
	return out, nil
}

func (s *Salesforce) GetLead(ctx context.Context, id string) (model.Lookup[model.Lead], error) {
	t := s.schema.Leads
	records, err := s.query(ctx, salesforce.Select{
		Fields: t.columns(),
		From:   t.Table,
		Equals: map[string]string{t.ID: id},
		Limit:  1,
	})
	if err != nil {
		return model.NotFound[model.Lead](), eris.Wrapf(err, "salesforce: get lead %s", id)
	}
	if len(records) == 0 {
		return model.NotFound[model.Lead](), nil
	}
	return model.Found(leadFromRow(t, recordValues(records[0], t.columns()))), nil
}

func (s *Salesforce) UpdateLead(ctx context.Context, id string, changes model.ChangeSet) error {
	t := s.schema.Leads
	if err := validateChanges(t, id, changes); err != nil {
		return err
	}
	if err := s.client.UpdateOne(ctx, t.Table, id, changes.Fields()); err != nil {
		return eris.Wrapf(err, "salesforce: update lead %s", id)
	}
	return nil
}

func (s *Salesforce) query(ctx context.Context, q salesforce.Select) ([]map[string]any, error) {
	var records []map[string]any
	if err := s.client.Query(ctx, q.String(), &records); err != nil {
		return nil, err
	}
	return records, nil
}

func soqlOrder(orderBy, id string) []string {
	if orderBy == "" || orderBy == id {
		return []string{id}
	}
	return []string{orderBy, id}
}

// recordValues pulls cols out of a decoded record as nullable strings.
func recordValues(r map[string]any, cols []string) []*string {
	vals := make([]*string, len(cols))
	for i, c := range cols {
		v, ok := r[c]
		if !ok || v == nil {
			continue
		}
		s := stringify(v)
		vals[i] = &s
	}
	return vals
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
