package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-reconciler/internal/match"
	"github.com/sells-group/lead-reconciler/internal/model"
	"github.com/sells-group/lead-reconciler/internal/refindex"
)

func testRefs(t *testing.T) References {
	t.Helper()
	srcEnterprises := []model.CategoryRecord{
		{ID: "E1", Name: "Residencial Sol"},
		{ID: "E2", Name: "Torre Norte"},
	}
	srcSources := []model.CategoryRecord{
		{ID: "S1", Name: "Facebook"},
		{ID: "S2", Name: "Não informada"},
	}
	tgtEnterprises := []model.CategoryRecord{{ID: "T9", Name: "Residencial Sol"}}
	tgtSources := []model.CategoryRecord{
		{ID: "F1", Name: "facebook"},
		{ID: "NI", Name: "Não Informada"},
	}

	entIdx, _ := refindex.Build(model.CategoryEnterprise, tgtEnterprises)
	srcIdx, _ := refindex.Build(model.CategoryLeadSource, tgtSources)
	return References{
		SourceNames: map[model.CategoryKind]*refindex.Names{
			model.CategoryEnterprise: refindex.BuildNames(srcEnterprises),
			model.CategoryLeadSource: refindex.BuildNames(srcSources),
		},
		TargetIndex: map[model.CategoryKind]*refindex.Index{
			model.CategoryEnterprise: entIdx,
			model.CategoryLeadSource: srcIdx,
		},
		TargetNames: map[model.CategoryKind]*refindex.Names{
			model.CategoryEnterprise: refindex.BuildNames(tgtEnterprises),
			model.CategoryLeadSource: refindex.BuildNames(tgtSources),
		},
	}
}

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	p, err := NewPlanner(DefaultPolicy(), testRefs(t))
	require.NoError(t, err)
	return p
}

func pair(target, source model.Attributes) match.Pair {
	return match.Pair{
		Target: model.Lead{ID: "t1", Phone: "11988887777", Attributes: target},
		Source: model.Lead{ID: "s1", Phone: "11988887777", Attributes: source},
		Phone:  "11988887777",
	}
}

func TestPlan_FillsEmptyFields(t *testing.T) {
	p := newTestPlanner(t)

	plan := p.Plan(pair(
		model.Attributes{},
		model.Attributes{"corretor": "Ana", "enterprise_id": "E1", "source_id": "S1"},
	))

	assert.Equal(t, model.ChangeSet{
		FieldBroker:     "Ana",
		FieldEnterprise: "T9",
		FieldLeadSource: "F1",
	}, plan.Changes)
	assert.Empty(t, plan.Misses)
	assert.Empty(t, plan.Locked)
	assert.Equal(t, "t1", plan.TargetID)
	assert.Equal(t, "s1", plan.SourceID)
}

func TestPlan_NeverOverwritesExistingValues(t *testing.T) {
	p := newTestPlanner(t)

	plan := p.Plan(pair(
		model.Attributes{"corretor": "Bruno", "empreendimento_id": "T7", "source_id": "F1"},
		model.Attributes{"corretor": "Ana", "enterprise_id": "E1", "source_id": "S1"},
	))

	assert.True(t, plan.Changes.Empty())
	assert.ElementsMatch(t, []string{FieldBroker, FieldEnterprise, FieldLeadSource}, plan.Locked)
}

func TestPlan_SentinelReferenceIsEmpty(t *testing.T) {
	p := newTestPlanner(t)

	plan := p.Plan(pair(
		model.Attributes{"corretor": "Bruno", "empreendimento_id": "T9", "source_id": "NI"},
		model.Attributes{"source_id": "S1"},
	))

	assert.Equal(t, model.ChangeSet{FieldLeadSource: "F1"}, plan.Changes)
}

func TestPlan_SentinelLiteralIsEmpty(t *testing.T) {
	p := newTestPlanner(t)

	plan := p.Plan(pair(
		model.Attributes{"source_id": "NÃO INFORMADA"},
		model.Attributes{"source_id": "S1"},
	))

	assert.Equal(t, "F1", plan.Changes[FieldLeadSource])
}

func TestPlan_SourceSentinelNotOffered(t *testing.T) {
	p := newTestPlanner(t)

	plan := p.Plan(pair(
		model.Attributes{},
		model.Attributes{"source_id": "S2"},
	))

	assert.True(t, plan.Changes.Empty())
	assert.Empty(t, plan.Misses)
}

func TestPlan_SoftMisses(t *testing.T) {
	p := newTestPlanner(t)

	plan := p.Plan(pair(
		model.Attributes{},
		model.Attributes{"corretor": "Ana", "enterprise_id": "E404", "source_id": "S1"},
	))
	assert.Equal(t, model.ChangeSet{FieldBroker: "Ana", FieldLeadSource: "F1"}, plan.Changes)
	require.Len(t, plan.Misses, 1)
	assert.Equal(t, Miss{Field: FieldEnterprise, Kind: MissSourceRef, Value: "E404"}, plan.Misses[0])

	plan = p.Plan(pair(
		model.Attributes{},
		model.Attributes{"enterprise_id": "E2"},
	))
	assert.True(t, plan.Changes.Empty())
	require.Len(t, plan.Misses, 1)
	assert.Equal(t, Miss{Field: FieldEnterprise, Kind: MissTargetName, Value: "Torre Norte"}, plan.Misses[0])
}

func TestPlan_BlankSourceContributesNothing(t *testing.T) {
	p := newTestPlanner(t)

	plan := p.Plan(pair(model.Attributes{}, model.Attributes{"corretor": "   "}))

	assert.True(t, plan.Changes.Empty())
	assert.Empty(t, plan.Misses)
}

func TestPlan_Idempotent(t *testing.T) {
	p := newTestPlanner(t)
	source := model.Attributes{"corretor": "Ana", "enterprise_id": "E1", "source_id": "S1"}
	target := model.Attributes{"source_id": "NI"}

	first := p.Plan(pair(target, source))
	require.False(t, first.Changes.Empty())

	applied := model.Attributes{}
	for k, v := range target {
		applied[k] = v
	}
	for k, v := range first.Changes {
		applied[k] = v
	}

	second := p.Plan(pair(applied, source))
	assert.True(t, second.Changes.Empty())
}

func TestPlan_MissingReferenceTables(t *testing.T) {
	p, err := NewPlanner(DefaultPolicy(), References{})
	require.NoError(t, err)

	plan := p.Plan(pair(model.Attributes{}, model.Attributes{"corretor": "Ana", "enterprise_id": "E1"}))

	assert.Equal(t, model.ChangeSet{FieldBroker: "Ana"}, plan.Changes)
	require.Len(t, plan.Misses, 1)
	assert.Equal(t, MissSourceRef, plan.Misses[0].Kind)
}

func TestNewPlanner_InvalidPolicy(t *testing.T) {
	_, err := NewPlanner(Policy{}, References{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fields")
}
