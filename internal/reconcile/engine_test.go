package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-reconciler/internal/converge"
	"github.com/sells-group/lead-reconciler/internal/merge"
	"github.com/sells-group/lead-reconciler/internal/model"
	"github.com/sells-group/lead-reconciler/internal/resilience"
	"github.com/sells-group/lead-reconciler/internal/store"
)

const org = "org-1"

func sourceStore(leads []model.Lead, cats ...model.CategoryRecord) *store.Memory {
	return store.NewMemory(store.DefaultSourceSchema(), leads, cats)
}

func targetStore(leads []model.Lead, cats ...model.CategoryRecord) *store.Memory {
	for i := range leads {
		if leads[i].OrganizationID == "" {
			leads[i].OrganizationID = org
		}
	}
	for i := range cats {
		if cats[i].OrganizationID == "" {
			cats[i].OrganizationID = org
		}
	}
	return store.NewMemory(store.DefaultTargetSchema(), leads, cats)
}

func testConfig(src, tgt store.Store) Config {
	return Config{
		Source:    Side{Store: src},
		Target:    Side{Store: tgt, OrganizationID: org},
		Policy:    merge.DefaultPolicy(),
		ReadRetry: resilience.RetryConfig{MaxAttempts: 1},
	}
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func mustRun(t *testing.T, cfg Config) reportView {
	t.Helper()
	e := newEngine(t, cfg)
	rep, err := e.Run(context.Background())
	require.NoError(t, err)
	return reportView{rep.Counts.Updated, rep.Counts.SkippedNoChange, rep.Counts.SkippedNoMatch, rep.Counts.Failed, rep.FailedIDs}
}

type reportView struct {
	updated, noChange, noMatch, failed int
	failedIDs                          []string
}

func getLead(t *testing.T, s store.Store, id string) model.Lead {
	t.Helper()
	found, err := s.GetLead(context.Background(), id)
	require.NoError(t, err)
	lead, ok := found.Get()
	require.True(t, ok, "lead %s", id)
	return lead
}

func TestRun_EndToEnd(t *testing.T) {
	src := sourceStore(
		[]model.Lead{{ID: "s1", Phone: "11988887777", Attributes: model.Attributes{"corretor": "Ana", "enterprise_id": "E1"}}},
		model.CategoryRecord{ID: "E1", Kind: model.CategoryEnterprise, Name: "Residencial Sol"},
	)
	tgt := targetStore(
		[]model.Lead{{ID: "t1", Phone: "11988887777"}},
		model.CategoryRecord{ID: "T9", Kind: model.CategoryEnterprise, Name: "Residencial Sol"},
	)

	first := mustRun(t, testConfig(src, tgt))
	assert.Equal(t, 1, first.updated)
	assert.Zero(t, first.noChange)

	lead := getLead(t, tgt, "t1")
	assert.Equal(t, "Ana", lead.Attr("corretor"))
	assert.Equal(t, "T9", lead.Attr("empreendimento_id"))

	second := mustRun(t, testConfig(src, tgt))
	assert.Zero(t, second.updated)
	assert.Equal(t, 1, second.noChange)
	assert.Len(t, tgt.Writes(), 1)
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	src := sourceStore([]model.Lead{
		{ID: "s1", Phone: "11911110000", Attributes: model.Attributes{"corretor": "Ana"}},
		{ID: "s2", Phone: "11922220000", Attributes: model.Attributes{"corretor": "Bia"}},
		{ID: "s3", Phone: "11933330000", Attributes: model.Attributes{"corretor": "Caio"}},
	})
	tgt := targetStore([]model.Lead{
		{ID: "t1", Phone: "(11) 91111-0000"},
		{ID: "t2", Phone: "(11) 92222-0000"},
		{ID: "t3", Phone: "(11) 93333-0000"},
	})
	tgt.FailUpdates("t2", errors.New("connection reset by peer"))

	e := newEngine(t, testConfig(src, tgt))
	rep, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Counts.PairsConsidered)
	assert.Equal(t, 2, rep.Counts.Updated)
	assert.Equal(t, 1, rep.Counts.Failed)
	assert.Equal(t, []string{"t2"}, rep.FailedIDs)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, resilience.ErrorTransient, rep.Failures[0].ErrorType)
	assert.Contains(t, rep.Failures[0].Error, "connection reset by peer")
	assert.Equal(t, []string{"t1", "t2", "t3"}, tgt.Writes())
	assert.Equal(t, "Caio", getLead(t, tgt, "t3").Attr("corretor"))
}

func TestRun_SentinelReferenceIsFilled(t *testing.T) {
	src := sourceStore(
		[]model.Lead{{ID: "s1", Phone: "11988887777", Attributes: model.Attributes{"source_id": "src-fb"}}},
		model.CategoryRecord{ID: "src-fb", Kind: model.CategoryLeadSource, Name: "Facebook"},
	)
	tgt := targetStore(
		[]model.Lead{{ID: "t1", Phone: "11988887777", Attributes: model.Attributes{"source_id": "ls-ni"}}},
		model.CategoryRecord{ID: "ls-ni", Kind: model.CategoryLeadSource, Name: "Não Informada"},
		model.CategoryRecord{ID: "ls-fb", Kind: model.CategoryLeadSource, Name: "facebook"},
	)

	got := mustRun(t, testConfig(src, tgt))
	assert.Equal(t, 1, got.updated)
	assert.Equal(t, "ls-fb", getLead(t, tgt, "t1").Attr("source_id"))
}

func TestRun_NonDestructive(t *testing.T) {
	src := sourceStore(
		[]model.Lead{{ID: "s1", Phone: "11988887777", Attributes: model.Attributes{"corretor": "Ana", "enterprise_id": "E1"}}},
		model.CategoryRecord{ID: "E1", Kind: model.CategoryEnterprise, Name: "Residencial Sol"},
	)
	tgt := targetStore(
		[]model.Lead{{ID: "t1", Phone: "11988887777", Attributes: model.Attributes{"corretor": "Carlos", "empreendimento_id": "T1"}}},
		model.CategoryRecord{ID: "T1", Kind: model.CategoryEnterprise, Name: "Parque Lua"},
		model.CategoryRecord{ID: "T9", Kind: model.CategoryEnterprise, Name: "Residencial Sol"},
	)

	got := mustRun(t, testConfig(src, tgt))
	assert.Zero(t, got.updated)
	assert.Equal(t, 1, got.noChange)
	assert.Empty(t, tgt.Writes())

	lead := getLead(t, tgt, "t1")
	assert.Equal(t, "Carlos", lead.Attr("corretor"))
	assert.Equal(t, "T1", lead.Attr("empreendimento_id"))
}

func TestRun_LastSourceDuplicateWins(t *testing.T) {
	src := sourceStore([]model.Lead{
		{ID: "s-old", Phone: "11999990000", Attributes: model.Attributes{"corretor": "Old"}},
		{ID: "s-new", Phone: "(11) 99999-0000", Attributes: model.Attributes{"corretor": "New"}},
	})
	tgt := targetStore([]model.Lead{{ID: "t1", Phone: "11999990000"}})

	e := newEngine(t, testConfig(src, tgt))
	rep, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Counts.PairsConsidered)
	assert.Equal(t, 1, rep.Counts.SourceSuperseded)
	require.Len(t, rep.Decisions, 1)
	assert.Equal(t, "s-new", rep.Decisions[0].SourceID)
	assert.Equal(t, "New", getLead(t, tgt, "t1").Attr("corretor"))
}

func TestRun_ScopesTargetOrganization(t *testing.T) {
	src := sourceStore([]model.Lead{{ID: "s1", Phone: "11988887777", Attributes: model.Attributes{"corretor": "Ana"}}})
	tgt := targetStore([]model.Lead{
		{ID: "t1", Phone: "11988887777"},
		{ID: "t-other", OrganizationID: "org-2", Phone: "11988887777"},
		{ID: "t-short", Phone: "9888-7777"},
	})

	got := mustRun(t, testConfig(src, tgt))
	assert.Equal(t, 1, got.updated)
	assert.Equal(t, 1, got.noMatch)
	assert.Equal(t, []string{"t1"}, tgt.Writes())
	assert.Empty(t, getLead(t, tgt, "t-other").Attr("corretor"))
}

func TestRun_SoftMissesAndCollisions(t *testing.T) {
	src := sourceStore(
		[]model.Lead{{ID: "s1", Phone: "11988887777", Attributes: model.Attributes{
			"corretor": "Ana", "enterprise_id": "E1", "source_id": "unknown",
		}}},
		model.CategoryRecord{ID: "E1", Kind: model.CategoryEnterprise, Name: "Parque Lua"},
	)
	tgt := targetStore(
		[]model.Lead{{ID: "t1", Phone: "11988887777"}},
		model.CategoryRecord{ID: "A", Kind: model.CategoryLeadSource, Name: "Facebook"},
		model.CategoryRecord{ID: "B", Kind: model.CategoryLeadSource, Name: "facebook"},
	)

	e := newEngine(t, testConfig(src, tgt))
	rep, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Counts.Updated)
	assert.Equal(t, 2, rep.Counts.SoftMisses)
	assert.Equal(t, 1, rep.Counts.Collisions)
	require.Len(t, rep.Collisions, 1)
	assert.Equal(t, "A", rep.Collisions[0].KeptID)

	lead := getLead(t, tgt, "t1")
	assert.Equal(t, "Ana", lead.Attr("corretor"))
	assert.Empty(t, lead.Attr("empreendimento_id"))
	assert.Empty(t, lead.Attr("source_id"))
}

func TestRun_EmptyInputs(t *testing.T) {
	got := mustRun(t, testConfig(sourceStore(nil), targetStore(nil)))
	assert.Equal(t, reportView{failedIDs: []string{}}, got)
}

func TestRun_DryRun(t *testing.T) {
	src := sourceStore([]model.Lead{{ID: "s1", Phone: "11988887777", Attributes: model.Attributes{"corretor": "Ana"}}})
	tgt := targetStore([]model.Lead{{ID: "t1", Phone: "11988887777"}})

	cfg := testConfig(src, tgt)
	cfg.DryRun = true
	e := newEngine(t, cfg)
	rep, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, rep.DryRun)
	assert.Equal(t, 1, rep.Counts.Planned)
	assert.Zero(t, rep.Counts.Updated)
	require.Len(t, rep.Decisions, 1)
	assert.Equal(t, converge.OutcomePlanned, rep.Decisions[0].Outcome)
	assert.Equal(t, model.ChangeSet{"corretor": "Ana"}, rep.Decisions[0].Changes)
	assert.Empty(t, tgt.Writes())
}

func TestRun_OnlyTargetIDs(t *testing.T) {
	src := sourceStore([]model.Lead{
		{ID: "s1", Phone: "11911110000", Attributes: model.Attributes{"corretor": "Ana"}},
		{ID: "s2", Phone: "11922220000", Attributes: model.Attributes{"corretor": "Bia"}},
	})
	tgt := targetStore([]model.Lead{
		{ID: "t1", Phone: "11911110000"},
		{ID: "t2", Phone: "11922220000"},
		{ID: "t-other", OrganizationID: "org-2", Phone: "11922220000"},
	})

	cfg := testConfig(src, tgt)
	cfg.OnlyTargetIDs = []string{"t2", "gone", "t-other"}
	e := newEngine(t, cfg)
	rep, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Counts.Updated)
	assert.Equal(t, 2, rep.Counts.SkippedMissing)
	assert.Equal(t, []string{"gone", "t-other"}, rep.MissingIDs)
	assert.Equal(t, []string{"t2"}, tgt.Writes())
	assert.Empty(t, getLead(t, tgt, "t1").Attr("corretor"))
}

// flakyStore fails the first n lead listings.
type flakyStore struct {
	*store.Memory
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flakyStore) ListLeads(ctx context.Context, filter store.Filter) ([]model.Lead, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	return f.Memory.ListLeads(ctx, filter)
}

func TestRun_RetriesTransientReads(t *testing.T) {
	src := &flakyStore{
		Memory:   sourceStore([]model.Lead{{ID: "s1", Phone: "11988887777", Attributes: model.Attributes{"corretor": "Ana"}}}),
		failures: 2,
		err:      errors.New("connection reset by peer"),
	}
	tgt := targetStore([]model.Lead{{ID: "t1", Phone: "11988887777"}})

	cfg := testConfig(src, tgt)
	cfg.ReadRetry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	got := mustRun(t, cfg)

	assert.Equal(t, 1, got.updated)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestRun_ReadFailureAbortsBeforeWrites(t *testing.T) {
	src := &flakyStore{
		Memory:   sourceStore(nil),
		failures: 100,
		err:      errors.New("permission denied for table leads"),
	}
	tgt := targetStore([]model.Lead{{ID: "t1", Phone: "11988887777"}})

	e := newEngine(t, testConfig(src, tgt))
	_, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile: snapshot")
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Empty(t, tgt.Writes())
}

// cancellingStore cancels the run after its first write.
type cancellingStore struct {
	*store.Memory
	cancel context.CancelFunc
}

func (c *cancellingStore) UpdateLead(ctx context.Context, id string, changes model.ChangeSet) error {
	defer c.cancel()
	return c.Memory.UpdateLead(ctx, id, changes)
}

func TestRun_CancelledReturnsPartialReport(t *testing.T) {
	src := sourceStore([]model.Lead{
		{ID: "s1", Phone: "11911110000", Attributes: model.Attributes{"corretor": "Ana"}},
		{ID: "s2", Phone: "11922220000", Attributes: model.Attributes{"corretor": "Bia"}},
	})
	mem := targetStore([]model.Lead{
		{ID: "t1", Phone: "11911110000"},
		{ID: "t2", Phone: "11922220000"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tgt := &cancellingStore{Memory: mem, cancel: cancel}

	e := newEngine(t, testConfig(src, tgt))
	rep, err := e.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.True(t, rep.Cancelled)
	assert.Equal(t, 2, rep.Counts.PairsConsidered)
	assert.Equal(t, 1, rep.Counts.Updated)
	assert.Equal(t, []string{"t1"}, mem.Writes())
}

func TestNew_Validation(t *testing.T) {
	mem := targetStore(nil)
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing source", func(c *Config) { c.Source.Store = nil }, "source store is required"},
		{"missing target", func(c *Config) { c.Target.Store = nil }, "target store is required"},
		{"missing organization", func(c *Config) { c.Target.OrganizationID = "" }, "target organization id is required"},
		{"empty policy", func(c *Config) { c.Policy = merge.Policy{} }, "policy has no fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(mem, mem)
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
