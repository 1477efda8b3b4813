package store

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-reconciler/internal/model"
	"github.com/sells-group/lead-reconciler/internal/normalize"
)

// Fixture is the JSON layout accepted by the memory driver.
type Fixture struct {
	Leads      []model.Lead           `json:"leads"`
	Categories []model.CategoryRecord `json:"categories"`
}

// Memory is an in-process Store. It keeps insertion order, which stands in
// for the chronological order a database listing would use.
type Memory struct {
	mu         sync.RWMutex
	schema     Schema
	leads      []model.Lead
	categories []model.CategoryRecord
	failures   map[string]error
	writes     []string
}

// NewMemory creates a Memory store seeded with copies of leads and categories.
func NewMemory(schema Schema, leads []model.Lead, categories []model.CategoryRecord) *Memory {
	m := &Memory{schema: schema, failures: map[string]error{}}
	for _, l := range leads {
		m.leads = append(m.leads, cloneLead(l))
	}
	m.categories = append(m.categories, categories...)
	return m
}

// LoadMemory reads a Fixture file into a Memory store.
func LoadMemory(path string, schema Schema) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "memory: read fixture %s", path)
	}
	var fx Fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, eris.Wrapf(err, "memory: decode fixture %s", path)
	}
	return NewMemory(schema, fx.Leads, fx.Categories), nil
}

// FailUpdates makes every UpdateLead for id return err.
func (m *Memory) FailUpdates(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = err
}

// Writes returns the ids UpdateLead was called with, in call order,
// including failed calls.
func (m *Memory) Writes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.writes...)
}

func (m *Memory) Schema() Schema { return m.schema }

func (m *Memory) Close() error { return nil }

func (m *Memory) ListLeads(_ context.Context, f Filter) ([]model.Lead, error) {
	t := m.schema.Leads
	if err := f.validate(t.hasColumn); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Lead
	for _, l := range m.leads {
		if matches(f, func(col string) string { return leadColumn(t, l, col) }) {
			out = append(out, cloneLead(l))
		}
	}
	return out, nil
}

func (m *Memory) ListCategories(_ context.Context, kind model.CategoryKind, f Filter) ([]model.CategoryRecord, error) {
	t, err := m.schema.Category(kind)
	if err != nil {
		return nil, err
	}
	if err := f.validate(t.hasColumn); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.CategoryRecord
	for _, c := range m.categories {
		if c.Kind != kind {
			continue
		}
		if matches(f, func(col string) string { return categoryColumn(t, c, col) }) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) GetLead(_ context.Context, id string) (model.Lookup[model.Lead], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, l := range m.leads {
		if l.ID == id {
			return model.Found(cloneLead(l)), nil
		}
	}
	return model.NotFound[model.Lead](), nil
}

func (m *Memory) UpdateLead(_ context.Context, id string, changes model.ChangeSet) error {
	if err := validateChanges(m.schema.Leads, id, changes); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes = append(m.writes, id)
	if err := m.failures[id]; err != nil {
		return eris.Wrapf(err, "memory: update lead %s", id)
	}
	for i := range m.leads {
		if m.leads[i].ID != id {
			continue
		}
		if m.leads[i].Attributes == nil {
			m.leads[i].Attributes = model.Attributes{}
		}
		for k, v := range changes {
			m.leads[i].Attributes[k] = v
		}
		return nil
	}
	return eris.Errorf("memory: lead not found: %s", id)
}

func matches(f Filter, value func(col string) string) bool {
	for col, want := range f.Equals {
		if value(col) != want {
			return false
		}
	}
	for col, sub := range f.Contains {
		if !strings.Contains(normalize.Name(value(col)), normalize.Name(sub)) {
			return false
		}
	}
	return true
}

func leadColumn(t LeadTable, l model.Lead, col string) string {
	switch col {
	case t.ID:
		return l.ID
	case t.Phone:
		return l.Phone
	case t.Organization:
		return l.OrganizationID
	default:
		return l.Attr(col)
	}
}

func categoryColumn(t CategoryTable, c model.CategoryRecord, col string) string {
	switch col {
	case t.ID:
		return c.ID
	case t.Name:
		return c.Name
	case t.Organization:
		return c.OrganizationID
	default:
		return ""
	}
}

func cloneLead(l model.Lead) model.Lead {
	if l.Attributes != nil {
		attrs := make(model.Attributes, len(l.Attributes))
		for k, v := range l.Attributes {
			attrs[k] = v
		}
		l.Attributes = attrs
	}
	return l
}
