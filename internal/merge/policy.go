package merge

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-reconciler/internal/model"
)

// Strategy selects how a field's candidate value is derived from the source.
type Strategy string

// Merge strategies.
const (
	// StrategyText copies the source attribute verbatim.
	StrategyText Strategy = "text"
	// StrategyReference translates a source foreign key into a target id by
	// way of the category's display name.
	StrategyReference Strategy = "reference"
)

// Field declares one target attribute eligible for merge.
type Field struct {
	Field       string             `yaml:"field" mapstructure:"field"`
	SourceField string             `yaml:"source_field" mapstructure:"source_field"`
	Strategy    Strategy           `yaml:"strategy" mapstructure:"strategy"`
	Category    model.CategoryKind `yaml:"category,omitempty" mapstructure:"category"`
}

// Policy is the merge configuration: the eligible fields and, per target
// field, the stored values treated as empty.
type Policy struct {
	Fields    []Field             `yaml:"fields" mapstructure:"fields"`
	Sentinels map[string][]string `yaml:"sentinels" mapstructure:"sentinels"`
}

// Target field names used by the CRM's lead table.
const (
	FieldBroker     = "corretor"
	FieldEnterprise = "empreendimento_id"
	FieldLeadSource = "source_id"
)

// SentinelNotInformed is the CRM's generic "not informed" lead source.
const SentinelNotInformed = "não informada"

// DefaultPolicy returns the policy used by the CRM migration: broker name by
// value, enterprise and lead source by reference, with "não informada" lead
// sources treated as empty.
func DefaultPolicy() Policy {
	return Policy{
		Fields: []Field{
			{Field: FieldBroker, SourceField: "corretor", Strategy: StrategyText},
			{Field: FieldEnterprise, SourceField: "enterprise_id", Strategy: StrategyReference, Category: model.CategoryEnterprise},
			{Field: FieldLeadSource, SourceField: "source_id", Strategy: StrategyReference, Category: model.CategoryLeadSource},
		},
		Sentinels: map[string][]string{
			FieldLeadSource: {SentinelNotInformed},
		},
	}
}

// Validate checks that every field is well formed and appears once.
func (p Policy) Validate() error {
	if len(p.Fields) == 0 {
		return eris.New("merge: policy has no fields")
	}
	seen := make(map[string]bool, len(p.Fields))
	for i, f := range p.Fields {
		if f.Field == "" || f.SourceField == "" {
			return eris.Errorf("merge: field %d: field and source_field are required", i)
		}
		if seen[f.Field] {
			return eris.Errorf("merge: field %q declared twice", f.Field)
		}
		seen[f.Field] = true

		switch f.Strategy {
		case StrategyText:
		case StrategyReference:
			if !f.Category.Valid() {
				return eris.Errorf("merge: field %q: unknown category %q", f.Field, f.Category)
			}
		default:
			return eris.Errorf("merge: field %q: unknown strategy %q", f.Field, f.Strategy)
		}
	}
	for field := range p.Sentinels {
		if !seen[field] {
			return eris.Errorf("merge: sentinels declared for unknown field %q", field)
		}
	}
	return nil
}

// Categories returns the distinct category kinds referenced by the policy.
func (p Policy) Categories() []model.CategoryKind {
	var out []model.CategoryKind
	seen := make(map[model.CategoryKind]bool)
	for _, f := range p.Fields {
		if f.Strategy != StrategyReference || seen[f.Category] {
			continue
		}
		seen[f.Category] = true
		out = append(out, f.Category)
	}
	return out
}

// LoadPolicy decodes a policy file. Unknown keys are rejected so a typo in a
// field definition cannot silently drop it.
func LoadPolicy(path string) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, eris.Wrapf(err, "merge: open policy %s", path)
	}
	defer f.Close() //nolint:errcheck

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var p Policy
	if err := dec.Decode(&p); err != nil {
		return Policy{}, eris.Wrapf(err, "merge: decode policy %s", path)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
