// Package runner provides the load test execution engine for rwrk.
//
// A run issues up to Total GET requests across a fixed pool of workers and
// stops when either every task was attempted or the time budget expires:
//   - [Partition] gives each worker a contiguous range of request identifiers
//   - [Deadline] is the one-way signal every worker polls between requests
//   - each worker tallies into its own [metrics.WorkerStats] without locks
//   - [Runner.Run] joins all workers and sums their stats
//
// # Basic Usage
//
//	r, err := runner.New(runner.Options{
//		Workers:      384,
//		Total:        5_000_000,
//		Budget:       10 * time.Second,
//		Executor:     client,
//		Builder:      builder,
//		RaceInFlight: true,
//	})
//	if err != nil {
//		return err
//	}
//	result := r.Run(ctx)
//	stats := result.Stats()
//
// # In-flight Requests
//
// With RaceInFlight set, a request still waiting on the executor when the
// deadline trips is cancelled and not counted, and its worker stops. Without
// it, workers only check the deadline between requests, so a run can overrun
// its budget by up to one request latency.
//
// # Failure Handling
//
// Build, transport and body read failures count as completed, unsuccessful
// requests and never stop a worker. A panicking worker is recorded as
// [OutcomeFaulted] and contributes nothing to the totals.
package runner
