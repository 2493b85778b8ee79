package collector

import (
	"sort"
	"strings"
	"time"

	"shopload/internal/core"
)

// Metrics summarises a run.
type Metrics struct {
	TotalRequests  int
	SuccessCount   int
	FailureCount   int
	ToleratedCount int
	SuccessRate    float64 // percent
	RequestsPerSec float64
	TestDuration   time.Duration
	Duration       DurationMetrics
	// Operations is keyed by metric name, including any profile prefix.
	Operations map[string]*OperationMetrics
}

// DurationMetrics contains latency statistics.
type DurationMetrics struct {
	Min time.Duration
	Max time.Duration
	Avg time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// OperationMetrics contains statistics for one metric name.
type OperationMetrics struct {
	Count     int
	Success   int
	Failed    int
	Tolerated int
	Duration  DurationMetrics
	// Errors counts failure reasons.
	Errors map[string]int
}

// ErrorRate is the failed share of requests, in percent.
func (o *OperationMetrics) ErrorRate() float64 {
	if o.Count == 0 {
		return 0
	}
	return float64(o.Failed) / float64(o.Count) * 100
}

// Names returns the operation names in sorted order.
func (m *Metrics) Names() []string {
	names := make([]string, 0, len(m.Operations))
	for name := range m.Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrorRate is the overall failed share of requests, in percent.
func (m *Metrics) ErrorRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.FailureCount) / float64(m.TotalRequests) * 100
}

// BaseName strips a profile prefix such as "[Read] " from a metric name.
func BaseName(name string) string {
	if strings.HasPrefix(name, "[") {
		if i := strings.Index(name, "] "); i > 0 {
			return name[i+2:]
		}
	}
	return name
}

// ComputeMetrics computes metrics from events. Pure function, no side effects.
func ComputeMetrics(events []core.Event, testDuration time.Duration) *Metrics {
	m := &Metrics{
		Operations:   make(map[string]*OperationMetrics),
		TestDuration: testDuration,
	}
	if len(events) == 0 {
		return m
	}

	all := make([]time.Duration, 0, len(events))
	byName := make(map[string][]time.Duration)

	for _, e := range events {
		m.TotalRequests++
		op, ok := m.Operations[e.Name]
		if !ok {
			op = &OperationMetrics{Errors: make(map[string]int)}
			m.Operations[e.Name] = op
		}
		op.Count++

		switch {
		case !e.Success:
			m.FailureCount++
			op.Failed++
			op.Errors[e.Error]++
		case e.Tolerated:
			m.SuccessCount++
			m.ToleratedCount++
			op.Success++
			op.Tolerated++
		default:
			m.SuccessCount++
			op.Success++
		}

		all = append(all, e.Duration)
		byName[e.Name] = append(byName[e.Name], e.Duration)
	}

	m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalRequests) * 100
	if m.TestDuration > 0 {
		m.RequestsPerSec = float64(m.TotalRequests) / m.TestDuration.Seconds()
	}

	m.Duration = ComputeDurationMetrics(all)
	for name, durations := range byName {
		m.Operations[name].Duration = ComputeDurationMetrics(durations)
	}
	return m
}

// ComputePercentile returns the p-th percentile (0..1) of an ascending
// slice using the nearest-rank method.
func ComputePercentile(sorted []time.Duration, p float64) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 1:
		return sorted[len(sorted)-1]
	}
	return sorted[int(float64(len(sorted)-1)*p)]
}

// ComputeDurationMetrics calculates all duration statistics from a slice of
// durations. The input is not modified.
func ComputeDurationMetrics(durations []time.Duration) DurationMetrics {
	if len(durations) == 0 {
		return DurationMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return DurationMetrics{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / time.Duration(len(sorted)),
		P50: ComputePercentile(sorted, 0.50),
		P90: ComputePercentile(sorted, 0.90),
		P95: ComputePercentile(sorted, 0.95),
		P99: ComputePercentile(sorted, 0.99),
	}
}
