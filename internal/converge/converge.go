// Package converge applies planned change sets to the target store, one
// record at a time. A failed write is recorded and the run moves on.
package converge

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-reconciler/internal/model"
	"github.com/sells-group/lead-reconciler/internal/resilience"
)

// Writer is the target-store write surface the executor needs.
type Writer interface {
	UpdateLead(ctx context.Context, id string, changes model.ChangeSet) error
}

// Outcome is the terminal state of one record.
type Outcome string

// Record outcomes.
const (
	OutcomeUpdated         Outcome = "updated"
	OutcomeFailed          Outcome = "failed"
	OutcomeSkippedNoChange Outcome = "skipped_no_change"
	// OutcomePlanned is used instead of OutcomeUpdated in dry-run mode.
	OutcomePlanned Outcome = "planned"
)

// Task is one record to converge.
type Task struct {
	TargetID string
	Changes  model.ChangeSet
}

// Result is the outcome of one Task.
type Result struct {
	TargetID  string          `json:"target_id"`
	Outcome   Outcome         `json:"outcome"`
	Changes   model.ChangeSet `json:"changes,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
}

// Option configures an Executor.
type Option func(*Executor)

// WithRateLimit caps writes per second. Non-positive values disable the cap.
func WithRateLimit(rps float64) Option {
	return func(e *Executor) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithDryRun records non-empty change sets as planned without writing.
func WithDryRun(dryRun bool) Option {
	return func(e *Executor) {
		e.dryRun = dryRun
	}
}

// Executor writes change sets sequentially.
type Executor struct {
	w       Writer
	limiter *rate.Limiter
	dryRun  bool
}

// New creates an Executor writing through w.
func New(w Writer, opts ...Option) *Executor {
	e := &Executor{w: w}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply processes tasks in order and returns one Result per processed task.
// Write errors never stop the loop. Context cancellation does: the results
// gathered so far are returned with the context error.
func (e *Executor) Apply(ctx context.Context, tasks []Task) ([]Result, error) {
	results := make([]Result, 0, len(tasks))
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return results, eris.Wrap(err, "converge: cancelled")
		}

		if t.Changes.Empty() {
			results = append(results, Result{TargetID: t.TargetID, Outcome: OutcomeSkippedNoChange})
			continue
		}

		if e.dryRun {
			results = append(results, Result{TargetID: t.TargetID, Outcome: OutcomePlanned, Changes: t.Changes})
			continue
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return results, eris.Wrap(err, "converge: rate limit")
			}
		}

		results = append(results, e.write(ctx, t))
	}
	return results, nil
}

func (e *Executor) write(ctx context.Context, t Task) Result {
	err := e.w.UpdateLead(ctx, t.TargetID, t.Changes)
	if err != nil {
		errType := resilience.ClassifyError(err)
		zap.L().Warn("converge: write failed",
			zap.String("target_id", t.TargetID),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		return Result{
			TargetID:  t.TargetID,
			Outcome:   OutcomeFailed,
			Changes:   t.Changes,
			Error:     err.Error(),
			ErrorType: errType,
		}
	}

	zap.L().Debug("converge: updated",
		zap.String("target_id", t.TargetID),
		zap.Int("fields", len(t.Changes)),
	)
	return Result{TargetID: t.TargetID, Outcome: OutcomeUpdated, Changes: t.Changes}
}
