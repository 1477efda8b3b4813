// Package reconcile runs one reconciliation: it snapshots both stores,
// matches leads by phone, plans fill-if-empty changes and writes them to the
// target store one record at a time.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-reconciler/internal/converge"
	"github.com/sells-group/lead-reconciler/internal/match"
	"github.com/sells-group/lead-reconciler/internal/merge"
	"github.com/sells-group/lead-reconciler/internal/model"
	"github.com/sells-group/lead-reconciler/internal/refindex"
	"github.com/sells-group/lead-reconciler/internal/report"
	"github.com/sells-group/lead-reconciler/internal/resilience"
	"github.com/sells-group/lead-reconciler/internal/store"
)

// Side is one of the two stores taking part in a run.
type Side struct {
	Store store.Store
	// OrganizationID scopes leads and categories. Required on the target.
	OrganizationID string
	// Filter further narrows the lead listing.
	Filter store.Filter
}

// Config is everything a run needs. The engine keeps no other state.
type Config struct {
	Source Side
	Target Side
	Policy merge.Policy

	// MinPhoneDigits is the shortest usable normalized phone; 0 means 10.
	MinPhoneDigits int
	// WriteRateLimit caps target writes per second; 0 disables the cap.
	WriteRateLimit float64
	ReadRetry      resilience.RetryConfig
	DryRun         bool
	// OnlyTargetIDs restricts the run to these target leads, fetched one by
	// one. Used to retry the failures of an earlier run.
	OnlyTargetIDs []string
}

// Validate checks the fields a run cannot start without.
func (c Config) Validate() error {
	if c.Source.Store == nil {
		return eris.New("reconcile: source store is required")
	}
	if c.Target.Store == nil {
		return eris.New("reconcile: target store is required")
	}
	if c.Target.OrganizationID == "" {
		return eris.New("reconcile: target organization id is required")
	}
	return c.Policy.Validate()
}

// Engine runs reconciliations for one Config.
type Engine struct {
	cfg Config
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// snapshot is the read-only view of both stores taken at run start.
type snapshot struct {
	sourceLeads []model.Lead
	targetLeads []model.Lead
	missing     []string

	mu         sync.Mutex
	sourceCats map[model.CategoryKind][]model.CategoryRecord
	targetCats map[model.CategoryKind][]model.CategoryRecord
}

// Run executes one reconciliation. Store read failures abort the run before
// any write and return an error without a report. Write failures never
// abort: they are recorded on the report. If ctx is cancelled while writing,
// the partial report is returned together with the cancellation error.
func (e *Engine) Run(ctx context.Context) (report.Report, error) {
	start := time.Now()
	b := report.NewBuilder(e.cfg.DryRun)

	snap, err := e.load(ctx)
	if err != nil {
		return report.Report{}, err
	}
	b.AddMissing(snap.missing...)

	refs := e.references(snap, b)

	planner, err := merge.NewPlanner(e.cfg.Policy, refs)
	if err != nil {
		return report.Report{}, err
	}

	matched := match.Match(snap.sourceLeads, snap.targetLeads, e.cfg.MinPhoneDigits)
	b.AddMatch(matched)
	zap.L().Info("reconcile: matched leads",
		zap.Int("source_leads", len(snap.sourceLeads)),
		zap.Int("target_leads", len(snap.targetLeads)),
		zap.Int("pairs", len(matched.Pairs)),
		zap.Int("unmatched", len(matched.Unmatched)),
		zap.Int("source_short_phone", matched.SourceShortPhone),
		zap.Int("source_superseded", matched.SourceSuperseded),
	)

	plans := make([]merge.Plan, len(matched.Pairs))
	tasks := make([]converge.Task, len(matched.Pairs))
	for i, pair := range matched.Pairs {
		plans[i] = planner.Plan(pair)
		tasks[i] = converge.Task{TargetID: plans[i].TargetID, Changes: plans[i].Changes}
		for _, m := range plans[i].Misses {
			zap.L().Debug("reconcile: soft miss",
				zap.String("target_id", plans[i].TargetID),
				zap.String("field", m.Field),
				zap.String("kind", string(m.Kind)),
				zap.String("value", m.Value),
			)
		}
	}

	exec := converge.New(e.cfg.Target.Store,
		converge.WithRateLimit(e.cfg.WriteRateLimit),
		converge.WithDryRun(e.cfg.DryRun),
	)
	results, applyErr := exec.Apply(ctx, tasks)
	for i, res := range results {
		b.AddDecision(plans[i], res)
	}
	if applyErr != nil {
		b.MarkCancelled()
	}

	rep := b.Finish()
	logSummary(rep, time.Since(start))
	if applyErr != nil {
		return rep, eris.Wrap(applyErr, "reconcile: run interrupted")
	}
	return rep, nil
}

// load reads every collection the run needs, in parallel, retrying
// transient failures.
func (e *Engine) load(ctx context.Context) (*snapshot, error) {
	snap := &snapshot{
		sourceCats: map[model.CategoryKind][]model.CategoryRecord{},
		targetCats: map[model.CategoryKind][]model.CategoryRecord{},
	}
	src, tgt := e.cfg.Source, e.cfg.Target

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		leads, err := readWithRetry(gCtx, e.cfg.ReadRetry, "source", "leads", func(ctx context.Context) ([]model.Lead, error) {
			return src.Store.ListLeads(ctx, leadScope(src))
		})
		snap.sourceLeads = leads
		return err
	})

	g.Go(func() error {
		if len(e.cfg.OnlyTargetIDs) > 0 {
			leads, missing, err := e.loadTargetsByID(gCtx)
			snap.targetLeads, snap.missing = leads, missing
			return err
		}
		leads, err := readWithRetry(gCtx, e.cfg.ReadRetry, "target", "leads", func(ctx context.Context) ([]model.Lead, error) {
			return tgt.Store.ListLeads(ctx, leadScope(tgt))
		})
		snap.targetLeads = leads
		return err
	})

	for _, kind := range e.cfg.Policy.Categories() {
		g.Go(func() error {
			recs, err := loadCategories(gCtx, e.cfg.ReadRetry, "source", src, kind)
			snap.mu.Lock()
			snap.sourceCats[kind] = recs
			snap.mu.Unlock()
			return err
		})
		g.Go(func() error {
			recs, err := loadCategories(gCtx, e.cfg.ReadRetry, "target", tgt, kind)
			snap.mu.Lock()
			snap.targetCats[kind] = recs
			snap.mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "reconcile: snapshot")
	}
	return snap, nil
}

// loadTargetsByID fetches the requested target leads. Ids that no longer
// exist, or now belong to another organization, are returned as missing.
func (e *Engine) loadTargetsByID(ctx context.Context) ([]model.Lead, []string, error) {
	tgt := e.cfg.Target
	orgCol := tgt.Store.Schema().Leads.Organization

	var leads []model.Lead
	var missing []string
	for _, id := range e.cfg.OnlyTargetIDs {
		found, err := readWithRetry(ctx, e.cfg.ReadRetry, "target", "leads", func(ctx context.Context) (model.Lookup[model.Lead], error) {
			return tgt.Store.GetLead(ctx, id)
		})
		if err != nil {
			return nil, nil, err
		}
		lead, ok := found.Get()
		if !ok || (orgCol != "" && lead.OrganizationID != tgt.OrganizationID) {
			zap.L().Warn("reconcile: retry target missing", zap.String("target_id", id))
			missing = append(missing, id)
			continue
		}
		leads = append(leads, lead)
	}
	return leads, missing, nil
}

func loadCategories(ctx context.Context, retry resilience.RetryConfig, name string, side Side, kind model.CategoryKind) ([]model.CategoryRecord, error) {
	table, err := side.Store.Schema().Category(kind)
	if err != nil {
		return nil, err
	}
	f := store.ScopeFilter(table.Organization, side.OrganizationID)
	return readWithRetry(ctx, retry, name, string(kind), func(ctx context.Context) ([]model.CategoryRecord, error) {
		return side.Store.ListCategories(ctx, kind, f)
	})
}

func leadScope(side Side) store.Filter {
	return side.Filter.And(store.ScopeFilter(side.Store.Schema().Leads.Organization, side.OrganizationID))
}

func readWithRetry[T any](ctx context.Context, cfg resilience.RetryConfig, storeName, collection string, fn func(context.Context) (T, error)) (T, error) {
	cfg.OnRetry = resilience.RetryLogger(storeName, collection)
	v, err := resilience.DoVal(ctx, cfg, fn)
	if err != nil {
		return v, eris.Wrapf(err, "read %s %s", storeName, collection)
	}
	return v, nil
}

// references builds the per-kind lookup tables and records target-side name
// collisions on b.
func (e *Engine) references(snap *snapshot, b *report.Builder) merge.References {
	refs := merge.References{
		SourceNames: map[model.CategoryKind]*refindex.Names{},
		TargetIndex: map[model.CategoryKind]*refindex.Index{},
		TargetNames: map[model.CategoryKind]*refindex.Names{},
	}
	for _, kind := range e.cfg.Policy.Categories() {
		idx, collisions := refindex.Build(kind, snap.targetCats[kind])
		for _, c := range collisions {
			zap.L().Warn("reconcile: duplicate category name",
				zap.String("kind", string(c.Kind)),
				zap.String("name", c.Key),
				zap.String("kept_id", c.KeptID),
				zap.String("dropped_id", c.DroppedID),
			)
		}
		b.AddCollisions("target", collisions)

		refs.TargetIndex[kind] = idx
		refs.TargetNames[kind] = refindex.BuildNames(snap.targetCats[kind])
		refs.SourceNames[kind] = refindex.BuildNames(snap.sourceCats[kind])
	}
	return refs
}

func logSummary(r report.Report, elapsed time.Duration) {
	c := r.Counts
	zap.L().Info("reconcile: run complete",
		zap.String("run_id", r.RunID),
		zap.Bool("dry_run", r.DryRun),
		zap.Bool("cancelled", r.Cancelled),
		zap.Int("pairs_considered", c.PairsConsidered),
		zap.Int("updated", c.Updated),
		zap.Int("planned", c.Planned),
		zap.Int("skipped_no_change", c.SkippedNoChange),
		zap.Int("skipped_no_match", c.SkippedNoMatch),
		zap.Int("skipped_missing", c.SkippedMissing),
		zap.Int("failed", c.Failed),
		zap.Int("collisions", c.Collisions),
		zap.Int("soft_misses", c.SoftMisses),
		zap.Duration("elapsed", elapsed),
	)
}
