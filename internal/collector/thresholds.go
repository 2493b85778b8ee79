package collector

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Thresholds defines pass/fail criteria for a run.
type Thresholds struct {
	HTTPReqDuration *DurationThresholds `yaml:"http_req_duration"`
	HTTPReqFailed   *FailureThresholds  `yaml:"http_req_failed"`
	// Operations holds limits per operation name, e.g. "Browse Products".
	// A limit applies to every metric with that name, with or without a
	// profile prefix.
	Operations map[string]OperationThresholds `yaml:"operations"`
}

// DurationThresholds defines latency limits over all requests.
type DurationThresholds struct {
	Avg time.Duration `yaml:"avg"`
	P50 time.Duration `yaml:"p50"`
	P90 time.Duration `yaml:"p90"`
	P95 time.Duration `yaml:"p95"`
	P99 time.Duration `yaml:"p99"`
}

// FailureThresholds defines the overall error rate limit, e.g. "1%".
type FailureThresholds struct {
	Rate string `yaml:"rate"`
}

// OperationThresholds limits one operation. Zero values are unchecked.
type OperationThresholds struct {
	MaxAvg       time.Duration `yaml:"max_avg"`
	MaxP95       time.Duration `yaml:"max_p95"`
	MaxErrorRate float64       `yaml:"max_error_rate"` // percent
}

// DefaultOperationThresholds are the latency and error budgets the
// e-commerce services are expected to meet.
func DefaultOperationThresholds() map[string]OperationThresholds {
	return map[string]OperationThresholds{
		"Browse Products":      {MaxAvg: 200 * time.Millisecond, MaxP95: 500 * time.Millisecond, MaxErrorRate: 1},
		"View Product Details": {MaxAvg: 200 * time.Millisecond, MaxP95: 500 * time.Millisecond, MaxErrorRate: 2},
		"Create Order":         {MaxAvg: 500 * time.Millisecond, MaxP95: time.Second, MaxErrorRate: 1},
		"Add to Favourites":    {MaxAvg: 300 * time.Millisecond, MaxP95: 800 * time.Millisecond, MaxErrorRate: 1},
	}
}

// ThresholdResult is the outcome of a single threshold check.
type ThresholdResult struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Threshold string `json:"threshold"`
	Actual    string `json:"actual"`
}

// ThresholdResults contains all threshold check results.
type ThresholdResults struct {
	Passed  bool              `json:"passed"`
	Results []ThresholdResult `json:"results"`
}

// Validate reports malformed thresholds.
func (t *Thresholds) Validate() error {
	if t == nil || t.HTTPReqFailed == nil || t.HTTPReqFailed.Rate == "" {
		return nil
	}
	if _, err := parsePercentage(t.HTTPReqFailed.Rate); err != nil {
		return fmt.Errorf("http_req_failed.rate: %w", err)
	}
	return nil
}

// Check evaluates all thresholds against computed metrics.
func (t *Thresholds) Check(m *Metrics) *ThresholdResults {
	results := &ThresholdResults{Passed: true}
	if t == nil {
		return results
	}

	if t.HTTPReqDuration != nil {
		results.checkDurations(t.HTTPReqDuration, &m.Duration)
	}
	if t.HTTPReqFailed != nil && t.HTTPReqFailed.Rate != "" {
		results.checkFailureRate(t.HTTPReqFailed, m)
	}
	if len(t.Operations) > 0 {
		for _, name := range m.Names() {
			limits, ok := t.Operations[BaseName(name)]
			if !ok {
				continue
			}
			results.checkOperation(name, limits, m.Operations[name])
		}
	}
	return results
}

func (r *ThresholdResults) add(name string, passed bool, threshold, actual string) {
	if !passed {
		r.Passed = false
	}
	r.Results = append(r.Results, ThresholdResult{
		Name:      name,
		Passed:    passed,
		Threshold: threshold,
		Actual:    actual,
	})
}

func (r *ThresholdResults) checkDurations(limits *DurationThresholds, actual *DurationMetrics) {
	checks := []struct {
		name      string
		threshold time.Duration
		actual    time.Duration
	}{
		{"http_req_duration.avg", limits.Avg, actual.Avg},
		{"http_req_duration.p50", limits.P50, actual.P50},
		{"http_req_duration.p90", limits.P90, actual.P90},
		{"http_req_duration.p95", limits.P95, actual.P95},
		{"http_req_duration.p99", limits.P99, actual.P99},
	}
	for _, c := range checks {
		if c.threshold == 0 {
			continue
		}
		r.add(c.name, c.actual < c.threshold, FormatDuration(c.threshold), FormatDuration(c.actual))
	}
}

func (r *ThresholdResults) checkFailureRate(limits *FailureThresholds, m *Metrics) {
	limit, err := parsePercentage(limits.Rate)
	if err != nil {
		return
	}
	actual := m.ErrorRate()
	r.add("http_req_failed.rate", actual < limit, limits.Rate, fmt.Sprintf("%.2f%%", actual))
}

func (r *ThresholdResults) checkOperation(name string, limits OperationThresholds, om *OperationMetrics) {
	if limits.MaxAvg > 0 {
		r.add(name+" avg", om.Duration.Avg <= limits.MaxAvg,
			FormatDuration(limits.MaxAvg), FormatDuration(om.Duration.Avg))
	}
	if limits.MaxP95 > 0 {
		r.add(name+" p95", om.Duration.P95 <= limits.MaxP95,
			FormatDuration(limits.MaxP95), FormatDuration(om.Duration.P95))
	}
	if limits.MaxErrorRate > 0 {
		rate := om.ErrorRate()
		r.add(name+" error rate", rate <= limits.MaxErrorRate,
			fmt.Sprintf("%.2f%%", limits.MaxErrorRate), fmt.Sprintf("%.2f%%", rate))
	}
}

// Violations returns only the failed threshold results.
func (r *ThresholdResults) Violations() []ThresholdResult {
	var violations []ThresholdResult
	for _, result := range r.Results {
		if !result.Passed {
			violations = append(violations, result)
		}
	}
	return violations
}

func parsePercentage(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "%") {
		return 0, fmt.Errorf("invalid percentage format: %s", s)
	}
	return strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
}

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}
