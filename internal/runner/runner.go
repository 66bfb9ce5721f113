package runner

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/torosent/rwrk/internal/metrics"
	"github.com/torosent/rwrk/internal/tracing"
)

// WorkerResult is what one worker handed back when it finished.
type WorkerResult struct {
	Slice   Slice
	Outcome Outcome
	Stats   metrics.WorkerStats
	Err     error
}

// Result captures execution summary.
type Result struct {
	Requested uint64
	Aggregate *metrics.Aggregate
	Workers   []WorkerResult
}

// Stats derives the run summary.
func (r Result) Stats() metrics.Stats {
	if r.Aggregate == nil {
		return metrics.NewAggregate().Stats(r.Requested)
	}
	return r.Aggregate.Stats(r.Requested)
}

// Runner splits the task range across a fixed pool of workers and runs them
// against a shared deadline.
type Runner struct {
	opt Options
}

func New(opt Options) (*Runner, error) {
	opt.normalize()
	if err := opt.validate(); err != nil {
		return nil, fmt.Errorf("runner options: %w", err)
	}
	return &Runner{opt: opt}, nil
}

// Run launches one goroutine per slice and waits for every one of them. The
// time budget starts when Run is called. Cancelling ctx trips the deadline
// early; requests never observe ctx's cancellation directly.
func (r *Runner) Run(ctx context.Context) Result {
	ctx, span := tracing.StartRunSpan(ctx, r.opt.Tracer, r.opt.Target, r.opt.Workers, r.opt.Total)

	slices := Partition(r.opt.Total, r.opt.Workers)
	results := make([]WorkerResult, len(slices))

	start := time.Now()
	deadline := NewDeadline(ctx, r.opt.Budget)
	workCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i, s := range slices {
		g.Go(func() error {
			results[i] = r.runWorker(workCtx, deadline, s)
			return results[i].Err
		})
	}
	firstErr := g.Wait()
	elapsed := time.Since(start)
	deadline.Trip()

	agg := metrics.NewAggregate()
	agg.Elapsed = elapsed
	for _, res := range results {
		if res.Outcome == OutcomeFaulted {
			agg.Fault()
			r.opt.Logger.Error("worker faulted", "worker", res.Slice.Worker, "error", res.Err)
			continue
		}
		agg.Add(res.Stats)
	}

	r.opt.Logger.Debug("run finished",
		"elapsed", elapsed,
		"completed", agg.Completed,
		"successful", agg.Successful,
		"faulted_workers", agg.FaultedWorkers,
	)

	tracing.EndSpan(span, firstErr,
		tracing.AttrCompleted.Int64(int64(agg.Completed)),
		tracing.AttrSuccessful.Int64(int64(agg.Successful)),
		tracing.AttrBytes.Int64(int64(agg.Bytes)),
	)

	return Result{
		Requested: r.opt.Total,
		Aggregate: agg,
		Workers:   results,
	}
}

func (r *Runner) runWorker(ctx context.Context, deadline *Deadline, s Slice) WorkerResult {
	ctx, span := tracing.StartWorkerSpan(ctx, r.opt.Tracer, s.Worker, s.Count, s.StartID)

	w := &worker{
		slice:    s,
		deadline: deadline,
		exec:     r.opt.Executor,
		builder:  r.opt.Builder,
		race:     r.opt.RaceInFlight,
		failures: r.opt.FailureLogger,
	}
	stats, outcome, err := w.run(ctx)

	tracing.EndSpan(span, err,
		tracing.AttrCompleted.Int64(int64(stats.Completed)),
		tracing.AttrSuccessful.Int64(int64(stats.Successful)),
		tracing.AttrBytes.Int64(int64(stats.Bytes)),
		tracing.AttrOutcome.String(outcome.String()),
	)
	r.opt.Logger.Debug("worker finished",
		"worker", s.Worker,
		"outcome", outcome.String(),
		"assigned", s.Count,
		"completed", stats.Completed,
	)

	return WorkerResult{Slice: s, Outcome: outcome, Stats: stats, Err: err}
}
