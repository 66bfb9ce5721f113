package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Latencies are tracked in microseconds from 1µs up to 60s. Two significant
// figures keep one histogram per worker affordable at high worker counts.
const (
	lowestLatencyUs  = 1
	highestLatencyUs = 60_000_000
	latencySigFigs   = 2
)

// FailureKind classifies a request that completed without succeeding for a
// reason other than its status code.
type FailureKind int

const (
	FailureBuild     FailureKind = iota // request could not be constructed
	FailureTransport                    // no response was received
	FailureBody                         // response body could not be fully read

	numFailureKinds
)

func (k FailureKind) String() string {
	switch k {
	case FailureBuild:
		return "build"
	case FailureTransport:
		return "transport"
	case FailureBody:
		return "body"
	default:
		return "unknown"
	}
}

// WorkerStats is the tally one worker accumulates over its slice. It is owned
// by a single goroutine and handed to the aggregator by value once the worker
// finishes, so none of its methods synchronize.
type WorkerStats struct {
	Completed  uint64
	Successful uint64
	Bytes      uint64

	hist        *hdrhistogram.Histogram
	statusCodes map[int]uint64
	failures    [numFailureKinds]uint64
}

func NewWorkerStats() WorkerStats {
	return WorkerStats{
		hist:        newLatencyHistogram(),
		statusCodes: make(map[int]uint64),
	}
}

func newLatencyHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(lowestLatencyUs, highestLatencyUs, latencySigFigs)
}

// IsSuccess reports whether status is in the 2xx range.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// RecordFailure counts a request that ended with a build or transport
// failure. A zero latency is not added to the histogram.
func (w *WorkerStats) RecordFailure(kind FailureKind, latency time.Duration) {
	w.Completed++
	w.failures[kind]++
	w.recordLatency(latency)
}

// RecordBodyFailure counts a response whose body could not be drained. Bytes
// read before the failure are discarded and the request never succeeds.
func (w *WorkerStats) RecordBodyFailure(status int, latency time.Duration) {
	w.Completed++
	w.failures[FailureBody]++
	w.recordStatus(status)
	w.recordLatency(latency)
}

// RecordResponse counts a response whose body was fully drained.
func (w *WorkerStats) RecordResponse(status int, bytes int64, latency time.Duration) {
	w.Completed++
	if bytes > 0 {
		w.Bytes += uint64(bytes)
	}
	if IsSuccess(status) {
		w.Successful++
	}
	w.recordStatus(status)
	w.recordLatency(latency)
}

// Failures returns the count for kind.
func (w *WorkerStats) Failures(kind FailureKind) uint64 {
	if kind < 0 || kind >= numFailureKinds {
		return 0
	}
	return w.failures[kind]
}

// StatusCount returns how many responses carried status.
func (w *WorkerStats) StatusCount(status int) uint64 {
	return w.statusCodes[status]
}

func (w *WorkerStats) recordStatus(status int) {
	if w.statusCodes == nil {
		w.statusCodes = make(map[int]uint64)
	}
	w.statusCodes[status]++
}

func (w *WorkerStats) recordLatency(latency time.Duration) {
	if latency <= 0 {
		return
	}
	if w.hist == nil {
		w.hist = newLatencyHistogram()
	}
	_ = w.hist.RecordValue(clampLatency(w.hist, latency))
}

func clampLatency(h *hdrhistogram.Histogram, latency time.Duration) int64 {
	us := latency.Microseconds()
	if us < h.LowestTrackableValue() {
		us = h.LowestTrackableValue()
	}
	if us > h.HighestTrackableValue() {
		us = h.HighestTrackableValue()
	}
	return us
}
