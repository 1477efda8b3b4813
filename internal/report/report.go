// Package report aggregates the outcome of a reconciliation run into one
// immutable Report and renders it as JSON, a console summary or a workbook.
package report

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/lead-reconciler/internal/converge"
	"github.com/sells-group/lead-reconciler/internal/match"
	"github.com/sells-group/lead-reconciler/internal/merge"
	"github.com/sells-group/lead-reconciler/internal/model"
	"github.com/sells-group/lead-reconciler/internal/normalize"
	"github.com/sells-group/lead-reconciler/internal/refindex"
)

// Counts holds the run counters.
type Counts struct {
	PairsConsidered  int `json:"pairs_considered"`
	Updated          int `json:"updated"`
	Planned          int `json:"planned"`
	SkippedNoChange  int `json:"skipped_no_change"`
	SkippedNoMatch   int `json:"skipped_no_match"`
	SkippedMissing   int `json:"skipped_missing"`
	Failed           int `json:"failed"`
	Collisions       int `json:"collisions"`
	SoftMisses       int `json:"soft_misses"`
	SourceShortPhone int `json:"source_short_phone"`
	SourceSuperseded int `json:"source_superseded"`
}

// Collision is a duplicate category name seen in one store.
type Collision struct {
	Store string `json:"store"`
	refindex.Collision
}

// SoftMissCount totals soft misses per field and kind.
type SoftMissCount struct {
	Field string         `json:"field"`
	Kind  merge.MissKind `json:"kind"`
	Count int            `json:"count"`
}

// Failure is one rejected write.
type Failure struct {
	TargetID  string `json:"target_id"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// Decision is the planner and executor outcome for one matched pair.
type Decision struct {
	TargetID string           `json:"target_id"`
	SourceID string           `json:"source_id"`
	Phone    string           `json:"phone"`
	Outcome  converge.Outcome `json:"outcome"`
	Changes  model.ChangeSet  `json:"changes,omitempty"`
	Locked   []string         `json:"locked,omitempty"`
	Misses   []merge.Miss     `json:"misses,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Report is the product of one run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`
	Cancelled  bool      `json:"cancelled"`

	Counts Counts `json:"counts"`

	// FailedIDs lists target ids whose write failed, in write order. A later
	// run can be restricted to them.
	FailedIDs  []string        `json:"failed_ids"`
	Failures   []Failure       `json:"failures,omitempty"`
	MissingIDs []string        `json:"missing_ids,omitempty"`
	Unmatched  []string        `json:"unmatched_ids,omitempty"`
	Collisions []Collision     `json:"collisions,omitempty"`
	SoftMisses []SoftMissCount `json:"soft_misses,omitempty"`
	Decisions  []Decision      `json:"decisions,omitempty"`
}

// Builder accumulates a Report during a run. It is not safe for concurrent
// use; the engine feeds it sequentially.
type Builder struct {
	r      Report
	misses map[SoftMissCount]int
}

// NewBuilder starts a report stamped with a fresh run id.
func NewBuilder(dryRun bool) *Builder {
	return &Builder{
		r: Report{
			RunID:     uuid.NewString(),
			StartedAt: time.Now().UTC(),
			DryRun:    dryRun,
			FailedIDs: []string{},
		},
		misses: map[SoftMissCount]int{},
	}
}

// AddCollisions records duplicate category names found in store.
func (b *Builder) AddCollisions(store string, cs []refindex.Collision) {
	for _, c := range cs {
		b.r.Collisions = append(b.r.Collisions, Collision{Store: store, Collision: c})
	}
	b.r.Counts.Collisions += len(cs)
}

// AddMatch records the matcher's output.
func (b *Builder) AddMatch(res match.Result) {
	b.r.Counts.PairsConsidered += len(res.Pairs)
	b.r.Counts.SkippedNoMatch += len(res.Unmatched)
	b.r.Counts.SourceShortPhone += res.SourceShortPhone
	b.r.Counts.SourceSuperseded += res.SourceSuperseded
	b.r.Unmatched = append(b.r.Unmatched, res.Unmatched...)
}

// AddMissing records requested target ids that no longer exist.
func (b *Builder) AddMissing(ids ...string) {
	b.r.MissingIDs = append(b.r.MissingIDs, ids...)
	b.r.Counts.SkippedMissing += len(ids)
}

// AddDecision records one pair's plan and its executor result.
func (b *Builder) AddDecision(p merge.Plan, res converge.Result) {
	for _, m := range p.Misses {
		b.misses[SoftMissCount{Field: m.Field, Kind: m.Kind}]++
	}
	b.r.Counts.SoftMisses += len(p.Misses)

	switch res.Outcome {
	case converge.OutcomeUpdated:
		b.r.Counts.Updated++
	case converge.OutcomePlanned:
		b.r.Counts.Planned++
	case converge.OutcomeSkippedNoChange:
		b.r.Counts.SkippedNoChange++
	case converge.OutcomeFailed:
		b.r.Counts.Failed++
		b.r.FailedIDs = append(b.r.FailedIDs, res.TargetID)
		b.r.Failures = append(b.r.Failures, Failure{
			TargetID:  res.TargetID,
			Error:     res.Error,
			ErrorType: res.ErrorType,
		})
	}

	b.r.Decisions = append(b.r.Decisions, Decision{
		TargetID: p.TargetID,
		SourceID: p.SourceID,
		Phone:    normalize.DisplayPhone(p.Phone),
		Outcome:  res.Outcome,
		Changes:  p.Changes,
		Locked:   p.Locked,
		Misses:   p.Misses,
		Error:    res.Error,
	})
}

// MarkCancelled flags the run as stopped before every pair was executed.
func (b *Builder) MarkCancelled() {
	b.r.Cancelled = true
}

// Finish stamps the end time and returns the report. The builder must not be
// used afterwards.
func (b *Builder) Finish() Report {
	b.r.FinishedAt = time.Now().UTC()

	b.r.SoftMisses = b.r.SoftMisses[:0]
	for k, n := range b.misses {
		k.Count = n
		b.r.SoftMisses = append(b.r.SoftMisses, k)
	}
	sort.Slice(b.r.SoftMisses, func(i, j int) bool {
		a, c := b.r.SoftMisses[i], b.r.SoftMisses[j]
		if a.Field != c.Field {
			return a.Field < c.Field
		}
		return a.Kind < c.Kind
	})
	if len(b.r.SoftMisses) == 0 {
		b.r.SoftMisses = nil
	}
	return b.r
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// HasFailures reports whether any write failed.
func (r Report) HasFailures() bool {
	return r.Counts.Failed > 0
}
