package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const bytesPerMB = 1_048_576

// Aggregate is the element-wise sum of every worker's stats plus the
// wall-clock time of the run. It is built after all workers have joined.
type Aggregate struct {
	Completed      uint64
	Successful     uint64
	Bytes          uint64
	Elapsed        time.Duration
	FaultedWorkers int

	hist        *hdrhistogram.Histogram
	statusCodes map[int]uint64
	failures    [numFailureKinds]uint64
}

func NewAggregate() *Aggregate {
	return &Aggregate{
		hist:        newLatencyHistogram(),
		statusCodes: make(map[int]uint64),
	}
}

// Add folds one worker's stats into the aggregate. Order does not matter.
func (a *Aggregate) Add(w WorkerStats) {
	a.Completed += w.Completed
	a.Successful += w.Successful
	a.Bytes += w.Bytes

	if w.hist != nil {
		a.hist.Merge(w.hist)
	}
	for code, n := range w.statusCodes {
		a.statusCodes[code] += n
	}
	for i, n := range w.failures {
		a.failures[i] += n
	}
}

// Fault records a worker that stopped abnormally and contributed nothing.
func (a *Aggregate) Fault() {
	a.FaultedWorkers++
}

// LatencyStats summarizes the merged latency histogram.
type LatencyStats struct {
	Min  time.Duration `json:"-" yaml:"-"`
	Max  time.Duration `json:"-" yaml:"-"`
	Mean time.Duration `json:"-" yaml:"-"`
	P50  time.Duration `json:"-" yaml:"-"`
	P90  time.Duration `json:"-" yaml:"-"`
	P95  time.Duration `json:"-" yaml:"-"`
	P99  time.Duration `json:"-" yaml:"-"`

	// JSON-friendly millisecond fields.
	MinMs  float64 `json:"min_ms" yaml:"min_ms"`
	MaxMs  float64 `json:"max_ms" yaml:"max_ms"`
	MeanMs float64 `json:"mean_ms" yaml:"mean_ms"`
	P50Ms  float64 `json:"p50_ms" yaml:"p50_ms"`
	P90Ms  float64 `json:"p90_ms" yaml:"p90_ms"`
	P95Ms  float64 `json:"p95_ms" yaml:"p95_ms"`
	P99Ms  float64 `json:"p99_ms" yaml:"p99_ms"`
}

// Stats is the derived summary of a run.
type Stats struct {
	Requested      uint64        `json:"requested" yaml:"requested"`
	Completed      uint64        `json:"completed" yaml:"completed"`
	Successful     uint64        `json:"successful" yaml:"successful"`
	Errors         uint64        `json:"errors" yaml:"errors"`
	Bytes          uint64        `json:"bytes" yaml:"bytes"`
	Elapsed        time.Duration `json:"-" yaml:"-"`
	ElapsedSeconds float64       `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	RequestsPerSec float64       `json:"requests_per_sec" yaml:"requests_per_sec"`
	MBPerSec       float64       `json:"mb_per_sec" yaml:"mb_per_sec"`
	SuccessRate    float64       `json:"success_rate" yaml:"success_rate"`
	ShortFall      bool          `json:"short_fall" yaml:"short_fall"`
	FaultedWorkers int           `json:"faulted_workers,omitempty" yaml:"faulted_workers,omitempty"`

	Latency     LatencyStats      `json:"latency" yaml:"latency"`
	StatusCodes []StatusBucket    `json:"status_codes,omitempty" yaml:"status_codes,omitempty"`
	Failures    map[string]uint64 `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Stats derives the run summary for a run that was asked to perform
// requested tasks. It is pure: zero elapsed time or zero completions give
// zero rates rather than NaN or Inf.
func (a *Aggregate) Stats(requested uint64) Stats {
	stats := Stats{
		Requested:      requested,
		Completed:      a.Completed,
		Successful:     a.Successful,
		Bytes:          a.Bytes,
		Elapsed:        a.Elapsed,
		ElapsedSeconds: a.Elapsed.Seconds(),
		ShortFall:      a.Completed < requested,
		FaultedWorkers: a.FaultedWorkers,
	}
	if a.Completed > a.Successful {
		stats.Errors = a.Completed - a.Successful
	}

	if secs := a.Elapsed.Seconds(); secs > 0 {
		stats.RequestsPerSec = float64(a.Completed) / secs
		stats.MBPerSec = float64(a.Bytes) / bytesPerMB / secs
	}
	if a.Completed > 0 {
		stats.SuccessRate = float64(a.Successful) / float64(a.Completed)
	}

	if a.hist != nil {
		stats.Latency = latencyStats(a.hist)
	}
	stats.StatusCodes = FlattenStatusCodes(a.statusCodes)

	for i, n := range a.failures {
		if n == 0 {
			continue
		}
		if stats.Failures == nil {
			stats.Failures = make(map[string]uint64)
		}
		stats.Failures[FailureKind(i).String()] = n
	}

	return stats
}

// BytesPerSec returns the transfer rate in bytes per second.
func (s Stats) BytesPerSec() float64 {
	return s.MBPerSec * bytesPerMB
}

// FailureRate returns the fraction of completed requests that did not succeed.
func (s Stats) FailureRate() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Completed)
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	if h.TotalCount() == 0 {
		return LatencyStats{}
	}

	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	ls := LatencyStats{
		Min:  us(h.Min()),
		Max:  us(h.Max()),
		Mean: time.Duration(h.Mean() * float64(time.Microsecond)),
		P50:  us(h.ValueAtQuantile(50)),
		P90:  us(h.ValueAtQuantile(90)),
		P95:  us(h.ValueAtQuantile(95)),
		P99:  us(h.ValueAtQuantile(99)),
	}

	ls.MinMs = toMs(ls.Min)
	ls.MaxMs = toMs(ls.Max)
	ls.MeanMs = toMs(ls.Mean)
	ls.P50Ms = toMs(ls.P50)
	ls.P90Ms = toMs(ls.P90)
	ls.P95Ms = toMs(ls.P95)
	ls.P99Ms = toMs(ls.P99)
	return ls
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
