package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"
)

// maxErrorsShown bounds the failure reasons listed per operation.
const maxErrorsShown = 3

// FormatText writes the summary in human-readable form.
func FormatText(w io.Writer, m *Metrics, thresholds *ThresholdResults) {
	if m.TotalRequests == 0 {
		fmt.Fprintln(w, "No events collected")
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Shopload - Load Test Results")
	fmt.Fprintln(w, "============================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Duration:       %v\n", m.TestDuration.Round(time.Millisecond))
	fmt.Fprintf(w, "Total Requests: %s\n", formatNumber(m.TotalRequests))
	fmt.Fprintf(w, "Success Rate:   %.1f%% (%s / %s)\n",
		m.SuccessRate, formatNumber(m.SuccessCount), formatNumber(m.TotalRequests))
	if m.ToleratedCount > 0 {
		fmt.Fprintf(w, "Tolerated:      %s (404 on detail, 409 on favourite)\n", formatNumber(m.ToleratedCount))
	}
	fmt.Fprintf(w, "Requests/sec:   %.1f\n", m.RequestsPerSec)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Response Times:")
	fmt.Fprintf(w, "  Min:    %s\n", FormatDuration(m.Duration.Min))
	fmt.Fprintf(w, "  Avg:    %s\n", FormatDuration(m.Duration.Avg))
	fmt.Fprintf(w, "  P50:    %s\n", FormatDuration(m.Duration.P50))
	fmt.Fprintf(w, "  P90:    %s\n", FormatDuration(m.Duration.P90))
	fmt.Fprintf(w, "  P95:    %s\n", FormatDuration(m.Duration.P95))
	fmt.Fprintf(w, "  P99:    %s\n", FormatDuration(m.Duration.P99))
	fmt.Fprintf(w, "  Max:    %s\n", FormatDuration(m.Duration.Max))
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "By Operation:")
	for _, name := range m.Names() {
		om := m.Operations[name]
		fmt.Fprintf(w, "  %-32s %s reqs  fail=%.1f%%  avg=%s  p95=%s  p99=%s\n",
			name, formatNumber(om.Count), om.ErrorRate(),
			FormatDuration(om.Duration.Avg),
			FormatDuration(om.Duration.P95),
			FormatDuration(om.Duration.P99))
		for _, e := range topErrors(om.Errors, maxErrorsShown) {
			fmt.Fprintf(w, "      %dx %s\n", e.count, e.reason)
		}
	}

	if thresholds != nil && len(thresholds.Results) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Thresholds:")
		for _, result := range thresholds.Results {
			symbol := "✓"
			if !result.Passed {
				symbol = "✗"
			}
			fmt.Fprintf(w, "  %s %s <= %s (actual: %s)\n",
				symbol, result.Name, result.Threshold, result.Actual)
		}
	}
}

type errorCount struct {
	reason string
	count  int
}

func topErrors(errs map[string]int, n int) []errorCount {
	out := make([]errorCount, 0, len(errs))
	for reason, count := range errs {
		out = append(out, errorCount{reason, count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].reason < out[j].reason
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// FormatJSON writes the summary as indented JSON.
func FormatJSON(w io.Writer, m *Metrics, thresholds *ThresholdResults) error {
	output := struct {
		Duration       string                   `json:"duration"`
		TotalRequests  int                      `json:"totalRequests"`
		SuccessCount   int                      `json:"successCount"`
		FailureCount   int                      `json:"failureCount"`
		ToleratedCount int                      `json:"toleratedCount"`
		SuccessRate    float64                  `json:"successRate"`
		RequestsPerSec float64                  `json:"requestsPerSec"`
		Durations      jsonDurations            `json:"durations"`
		Operations     map[string]jsonOperation `json:"operations"`
		Thresholds     *ThresholdResults        `json:"thresholds,omitempty"`
	}{
		Duration:       m.TestDuration.Round(time.Millisecond).String(),
		TotalRequests:  m.TotalRequests,
		SuccessCount:   m.SuccessCount,
		FailureCount:   m.FailureCount,
		ToleratedCount: m.ToleratedCount,
		SuccessRate:    m.SuccessRate,
		RequestsPerSec: m.RequestsPerSec,
		Durations:      toJSONDurations(m.Duration),
		Operations:     make(map[string]jsonOperation, len(m.Operations)),
		Thresholds:     thresholds,
	}

	for name, om := range m.Operations {
		output.Operations[name] = jsonOperation{
			Count:     om.Count,
			Success:   om.Success,
			Failed:    om.Failed,
			Tolerated: om.Tolerated,
			ErrorRate: om.ErrorRate(),
			Durations: toJSONDurations(om.Duration),
			Errors:    om.Errors,
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

type jsonDurations struct {
	Min string `json:"min"`
	Max string `json:"max"`
	Avg string `json:"avg"`
	P50 string `json:"p50"`
	P90 string `json:"p90"`
	P95 string `json:"p95"`
	P99 string `json:"p99"`
}

type jsonOperation struct {
	Count     int            `json:"count"`
	Success   int            `json:"success"`
	Failed    int            `json:"failed"`
	Tolerated int            `json:"tolerated"`
	ErrorRate float64        `json:"errorRate"`
	Durations jsonDurations  `json:"durations"`
	Errors    map[string]int `json:"errors,omitempty"`
}

func toJSONDurations(d DurationMetrics) jsonDurations {
	return jsonDurations{
		Min: FormatDuration(d.Min),
		Max: FormatDuration(d.Max),
		Avg: FormatDuration(d.Avg),
		P50: FormatDuration(d.P50),
		P90: FormatDuration(d.P90),
		P95: FormatDuration(d.P95),
		P99: FormatDuration(d.P99),
	}
}

func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
