// Package merge computes the fill-if-empty changes a matched target lead
// needs. Fields the target already holds a real value for are never touched.
package merge

import (
	"strings"

	"github.com/sells-group/lead-reconciler/internal/match"
	"github.com/sells-group/lead-reconciler/internal/model"
	"github.com/sells-group/lead-reconciler/internal/normalize"
	"github.com/sells-group/lead-reconciler/internal/refindex"
)

// MissKind classifies a reference that could not be resolved.
type MissKind string

// Resolution misses. Both are soft: the field is left as is.
const (
	// MissSourceRef means the source foreign key has no known category name.
	MissSourceRef MissKind = "unknown_source_reference"
	// MissTargetName means no target category carries the source's name.
	MissTargetName MissKind = "no_target_name"
)

// Miss is a soft resolution failure for one field of one pair.
type Miss struct {
	Field string   `json:"field"`
	Kind  MissKind `json:"kind"`
	Value string   `json:"value"`
}

// References holds the per-run lookup tables, keyed by category kind. They
// are built once and shared read-only by every Plan call.
type References struct {
	// SourceNames maps source category ids to names.
	SourceNames map[model.CategoryKind]*refindex.Names
	// TargetIndex maps normalized target category names to ids.
	TargetIndex map[model.CategoryKind]*refindex.Index
	// TargetNames maps target category ids to names, so a reference to a
	// sentinel category ("Não Informada") counts as empty.
	TargetNames map[model.CategoryKind]*refindex.Names
}

// Plan is the planner's decision for one matched pair.
type Plan struct {
	TargetID string          `json:"target_id"`
	SourceID string          `json:"source_id"`
	Phone    string          `json:"phone"`
	Changes  model.ChangeSet `json:"changes,omitempty"`
	Locked   []string        `json:"locked,omitempty"`
	Misses   []Miss          `json:"misses,omitempty"`
}

// Planner applies a Policy to matched pairs.
type Planner struct {
	policy    Policy
	refs      References
	sentinels map[string]map[string]struct{}
}

// NewPlanner validates policy and prepares its sentinel table.
func NewPlanner(policy Policy, refs References) (*Planner, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	sentinels := make(map[string]map[string]struct{}, len(policy.Sentinels))
	for field, values := range policy.Sentinels {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			if k := normalize.Name(v); k != "" {
				set[k] = struct{}{}
			}
		}
		sentinels[field] = set
	}
	return &Planner{policy: policy, refs: refs, sentinels: sentinels}, nil
}

// Plan computes the minimal change set for pair.
func (p *Planner) Plan(pair match.Pair) Plan {
	plan := Plan{
		TargetID: pair.Target.ID,
		SourceID: pair.Source.ID,
		Phone:    pair.Phone,
	}

	for _, f := range p.policy.Fields {
		current := pair.Target.Attr(f.Field)
		if !p.isEmpty(f, current) {
			plan.Locked = append(plan.Locked, f.Field)
			continue
		}

		candidate, miss := p.candidate(f, pair.Source)
		if miss != nil {
			plan.Misses = append(plan.Misses, *miss)
			continue
		}
		if candidate == "" || candidate == current {
			continue
		}
		if plan.Changes == nil {
			plan.Changes = make(model.ChangeSet)
		}
		plan.Changes[f.Field] = candidate
	}
	return plan
}

// isEmpty reports whether a target value may be filled: blank, a sentinel,
// or a reference to a category whose name is a sentinel.
func (p *Planner) isEmpty(f Field, value string) bool {
	if strings.TrimSpace(value) == "" {
		return true
	}
	if p.isSentinel(f.Field, value) {
		return true
	}
	if f.Strategy == StrategyReference {
		if name, ok := p.refs.TargetNames[f.Category].Lookup(value).Get(); ok {
			return p.isSentinel(f.Field, name)
		}
	}
	return false
}

func (p *Planner) isSentinel(field, value string) bool {
	set, ok := p.sentinels[field]
	if !ok {
		return false
	}
	_, hit := set[normalize.Name(value)]
	return hit
}

// candidate derives the value the source offers for f. An empty candidate
// with a nil miss means the source has nothing to contribute. Sentinel values
// are never offered.
func (p *Planner) candidate(f Field, src model.Lead) (string, *Miss) {
	raw := strings.TrimSpace(src.Attr(f.SourceField))
	if raw == "" {
		return "", nil
	}

	if f.Strategy == StrategyText {
		if p.isSentinel(f.Field, raw) {
			return "", nil
		}
		return raw, nil
	}

	name, ok := p.refs.SourceNames[f.Category].Lookup(raw).Get()
	if !ok {
		return "", &Miss{Field: f.Field, Kind: MissSourceRef, Value: raw}
	}
	if strings.TrimSpace(name) == "" || p.isSentinel(f.Field, name) {
		return "", nil
	}
	id, ok := p.refs.TargetIndex[f.Category].Resolve(name).Get()
	if !ok {
		return "", &Miss{Field: f.Field, Kind: MissTargetName, Value: name}
	}
	return id, nil
}
