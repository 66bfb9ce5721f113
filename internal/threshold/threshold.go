// Package threshold turns pass/fail assertions such as "p99 < 250ms" or
// "success_rate >= 0.99" into checks against a run summary.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/rwrk/internal/metrics"
)

type unit int

const (
	unitCount   unit = iota // plain number
	unitRatio               // 0..1, also written as a percentage
	unitRate                // per second
	unitLatency             // milliseconds, also written as a Go duration
)

type measure struct {
	unit  unit
	value func(metrics.Stats) float64
}

// measures maps every name accepted on the left of an assertion to the
// summary value it reads.
var measures = map[string]measure{
	"completed":       {unitCount, func(s metrics.Stats) float64 { return float64(s.Completed) }},
	"successful":      {unitCount, func(s metrics.Stats) float64 { return float64(s.Successful) }},
	"errors":          {unitCount, func(s metrics.Stats) float64 { return float64(s.Errors) }},
	"bytes":           {unitCount, func(s metrics.Stats) float64 { return float64(s.Bytes) }},
	"shortfall":       {unitCount, shortfall},
	"faulted_workers": {unitCount, func(s metrics.Stats) float64 { return float64(s.FaultedWorkers) }},

	"success_rate": {unitRatio, func(s metrics.Stats) float64 { return s.SuccessRate }},
	"error_rate":   {unitRatio, func(s metrics.Stats) float64 { return s.FailureRate() }},

	"rps":           {unitRate, func(s metrics.Stats) float64 { return s.RequestsPerSec }},
	"mb_per_sec":    {unitRate, func(s metrics.Stats) float64 { return s.MBPerSec }},
	"bytes_per_sec": {unitRate, func(s metrics.Stats) float64 { return s.BytesPerSec() }},

	"min":  {unitLatency, func(s metrics.Stats) float64 { return s.Latency.MinMs }},
	"mean": {unitLatency, func(s metrics.Stats) float64 { return s.Latency.MeanMs }},
	"max":  {unitLatency, func(s metrics.Stats) float64 { return s.Latency.MaxMs }},
	"p50":  {unitLatency, func(s metrics.Stats) float64 { return s.Latency.P50Ms }},
	"p90":  {unitLatency, func(s metrics.Stats) float64 { return s.Latency.P90Ms }},
	"p95":  {unitLatency, func(s metrics.Stats) float64 { return s.Latency.P95Ms }},
	"p99":  {unitLatency, func(s metrics.Stats) float64 { return s.Latency.P99Ms }},
}

// shortfall is the number of tasks the run did not get to.
func shortfall(s metrics.Stats) float64 {
	if s.Completed >= s.Requested {
		return 0
	}
	return float64(s.Requested - s.Completed)
}

// Names lists the accepted measure names in sorted order.
func Names() []string {
	names := make([]string, 0, len(measures))
	for name := range measures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Operator compares an observed value with a limit.
type Operator string

const (
	Less         Operator = "<"
	LessEqual    Operator = "<="
	Greater      Operator = ">"
	GreaterEqual Operator = ">="
	Equal        Operator = "=="
	NotEqual     Operator = "!="
)

const tolerance = 1e-9

func (op Operator) holds(actual, limit float64) bool {
	near := math.Abs(actual-limit) <= tolerance*math.Max(1, math.Abs(limit))
	switch op {
	case Less:
		return actual < limit && !near
	case LessEqual:
		return actual <= limit || near
	case Greater:
		return actual > limit && !near
	case GreaterEqual:
		return actual >= limit || near
	case Equal:
		return near
	case NotEqual:
		return !near
	default:
		return false
	}
}

// Threshold is one parsed assertion. Latency limits are held in
// milliseconds and ratio limits as fractions.
type Threshold struct {
	Measure string
	Op      Operator
	Limit   float64
	Raw     string
}

// Result is the outcome of checking one Threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Parse reads "<measure> <op> <limit>", e.g. "p99 < 250ms", "rps >= 1000" or
// "success_rate > 99.5%". Latency limits accept a Go duration or a bare
// number of milliseconds.
func Parse(expr string) (Threshold, error) {
	raw := strings.TrimSpace(expr)
	at := strings.IndexAny(raw, "<>=!")
	if at <= 0 {
		return Threshold{}, fmt.Errorf("expected <measure> <op> <limit>, e.g. 'p99 < 250ms'")
	}

	name := strings.ToLower(strings.TrimSpace(raw[:at]))
	m, ok := measures[name]
	if !ok {
		return Threshold{}, fmt.Errorf("unknown measure %q (known: %s)", name, strings.Join(Names(), ", "))
	}

	rest := raw[at:]
	op := Operator(rest[:1])
	if len(rest) > 1 && rest[1] == '=' {
		op = Operator(rest[:2])
	}
	switch op {
	case Less, LessEqual, Greater, GreaterEqual, Equal, NotEqual:
	default:
		return Threshold{}, fmt.Errorf("unknown operator %q", op)
	}

	limit, err := parseLimit(m.unit, strings.TrimSpace(rest[len(op):]))
	if err != nil {
		return Threshold{}, fmt.Errorf("%s: %w", name, err)
	}
	return Threshold{Measure: name, Op: op, Limit: limit, Raw: raw}, nil
}

func parseLimit(u unit, text string) (float64, error) {
	if text == "" {
		return 0, errors.New("missing limit")
	}

	var (
		v   float64
		err error
	)
	switch {
	case u == unitRatio && strings.HasSuffix(text, "%"):
		v, err = strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(text, "%")), 64)
		v /= 100
	case u == unitLatency:
		v, err = strconv.ParseFloat(text, 64)
		if err != nil {
			var d time.Duration
			if d, err = time.ParseDuration(text); err == nil {
				v = float64(d) / float64(time.Millisecond)
			}
		}
	default:
		v, err = strconv.ParseFloat(text, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("limit %q is not finite", text)
	}
	if u == unitRatio && (v < 0 || v > 1) {
		return 0, fmt.Errorf("limit %q must be between 0 and 1 (or 0%% and 100%%)", text)
	}
	return v, nil
}

// ParseAll parses every expression and reports all malformed ones together.
func ParseAll(exprs []string) ([]Threshold, error) {
	var (
		out  []Threshold
		errs []error
	)
	for _, expr := range exprs {
		t, err := Parse(expr)
		if err != nil {
			errs = append(errs, fmt.Errorf("threshold %q: %w", expr, err))
			continue
		}
		out = append(out, t)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Evaluate checks each threshold against stats, in order.
func Evaluate(thresholds []Threshold, stats metrics.Stats) []Result {
	if len(thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(thresholds))
	for _, t := range thresholds {
		m, ok := measures[t.Measure]
		if !ok {
			results = append(results, Result{
				Threshold: t,
				Message:   fmt.Sprintf("✗ %s (unknown measure %q)", t.Raw, t.Measure),
			})
			continue
		}
		actual := m.value(stats)
		pass := t.Op.holds(actual, t.Limit)

		mark := "✓"
		if !pass {
			mark = "✗"
		}
		results = append(results, Result{
			Threshold: t,
			Actual:    actual,
			Pass:      pass,
			Message:   fmt.Sprintf("%s %s (actual %s)", mark, t.Raw, format(m.unit, actual)),
		})
	}
	return results
}

func format(u unit, v float64) string {
	switch u {
	case unitRatio:
		return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
	case unitRate:
		return strconv.FormatFloat(v, 'f', 2, 64) + "/s"
	case unitLatency:
		return time.Duration(v * float64(time.Millisecond)).String()
	default:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
}
