package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/rwrk/internal/history"
	"github.com/torosent/rwrk/internal/metrics"
	"github.com/torosent/rwrk/internal/threshold"
)

const bytesPerMB = 1_048_576

// PrintBanner outputs the run header printed before workers start.
func PrintBanner(w io.Writer, target string, budget time.Duration, workers int, total uint64) {
	fmt.Fprintf(w, "Running %s test @ %s\n", budget, target)
	fmt.Fprintf(w, "  %d workers, %d tasks\n", workers, total)
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, stats metrics.Stats) {
	fmt.Fprintf(w, "  %d requests in %.2fs, %.2fMB read\n",
		stats.Completed, stats.ElapsedSeconds, float64(stats.Bytes)/bytesPerMB)
	if stats.Errors > 0 {
		fmt.Fprintf(w, "  Non-2xx responses: %d\n", stats.Errors)
	}
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", stats.RequestsPerSec)
	fmt.Fprintf(w, "Transfer/sec:      %.2fMB\n", stats.MBPerSec)
	if stats.ShortFall {
		fmt.Fprintf(w, "Completed:         %d/%d tasks\n", stats.Completed, stats.Requested)
	}
	if stats.FaultedWorkers > 0 {
		fmt.Fprintf(w, "Faulted workers:   %d\n", stats.FaultedWorkers)
	}

	if stats.Completed == 0 {
		return
	}

	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.Latency.Min)
	fmt.Fprintf(w, "  Max:             %s\n", stats.Latency.Max)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.Latency.Mean)
	fmt.Fprintf(w, "  P50:             %s\n", stats.Latency.P50)
	fmt.Fprintf(w, "  P90:             %s\n", stats.Latency.P90)
	fmt.Fprintf(w, "  P99:             %s\n", stats.Latency.P99)

	if len(stats.StatusCodes) > 0 {
		fmt.Fprintln(w, "\nStatus Codes:")
		for _, row := range stats.StatusCodes {
			fmt.Fprintf(w, "  %s: %d\n", row.Label(), row.Count)
		}
	}

	if len(stats.Failures) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		kinds := make([]string, 0, len(stats.Failures))
		for kind := range stats.Failures {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Fprintf(w, "  %s: %d\n", kind, stats.Failures[kind])
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, stats metrics.Stats) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, stats metrics.Stats) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(stats); err != nil {
		return err
	}
	return enc.Close()
}

// PrintThresholdResults lists every threshold outcome and reports whether all passed.
func PrintThresholdResults(w io.Writer, results []threshold.Result) bool {
	if len(results) == 0 {
		return true
	}
	passed := true
	fmt.Fprintln(w, "\nThresholds:")
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
		if !r.Pass {
			passed = false
		}
	}
	return passed
}

// PrintComparison shows how this run's throughput compares to prev.
func PrintComparison(w io.Writer, prev history.Summary, stats metrics.Stats) {
	change := history.RequestsPerSecChange(prev, stats) * 100
	fmt.Fprintf(w, "\nPrevious run %s (%s): %.2f req/s, %+.1f%%\n",
		prev.ID, prev.Timestamp.Format(time.RFC3339), prev.RequestsPerSec, change)
}
