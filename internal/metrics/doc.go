// Package metrics tallies request outcomes and derives the final run summary.
//
// Each worker owns a [WorkerStats] and records into it without locks:
//
//	ws := metrics.NewWorkerStats()
//	ws.RecordResponse(resp.StatusCode, n, latency)
//	ws.RecordFailure(metrics.FailureTransport, latency)
//
// When every worker has returned, the runner folds the values into an
// [Aggregate]. Latency histograms are merged and status and failure
// counters are summed:
//
//	agg := metrics.NewAggregate()
//	for _, ws := range results {
//		agg.Add(ws)
//	}
//	agg.Elapsed = time.Since(start)
//	stats := agg.Stats(requested)
//
// # Statistics
//
// [Stats] carries completed/successful/error counts, bytes read,
// requests per second, MB per second (1 MB = 1,048,576 bytes), the success
// rate and whether the run fell short of the requested task count. Latency
// percentiles come from HdrHistogram. Rates are zero when nothing completed
// or no time elapsed.
package metrics
