package collector

import (
	"testing"
	"time"

	"shopload/internal/core"
)

func TestComputeMetrics_EmptyEvents(t *testing.T) {
	m := ComputeMetrics(nil, time.Second)

	if m.TotalRequests != 0 || m.SuccessRate != 0 || len(m.Operations) != 0 {
		t.Errorf("expected empty metrics, got %+v", m)
	}
	if m.ErrorRate() != 0 {
		t.Errorf("expected zero error rate, got %f", m.ErrorRate())
	}
}

func TestComputeMetrics_ToleratedCountsAsSuccess(t *testing.T) {
	events := []core.Event{
		{Name: "View Product Details", Success: true, Duration: time.Millisecond},
		{Name: "View Product Details", Success: true, Tolerated: true, StatusCode: 404, Duration: time.Millisecond},
		{Name: "View Product Details", Success: false, Error: "invalid product data", Duration: time.Millisecond},
		{Name: "Add to Favourites", Success: true, Tolerated: true, StatusCode: 409, Duration: time.Millisecond},
	}

	m := ComputeMetrics(events, time.Second)

	if m.SuccessCount != 3 || m.FailureCount != 1 || m.ToleratedCount != 2 {
		t.Errorf("unexpected totals: success=%d failure=%d tolerated=%d", m.SuccessCount, m.FailureCount, m.ToleratedCount)
	}
	detail := m.Operations["View Product Details"]
	if detail.Count != 3 || detail.Success != 2 || detail.Failed != 1 || detail.Tolerated != 1 {
		t.Errorf("unexpected detail metrics: %+v", detail)
	}
	if rate := detail.ErrorRate(); rate < 33.3 || rate > 33.4 {
		t.Errorf("expected error rate ~33.3%%, got %.2f", rate)
	}
	if m.SuccessRate != 75 {
		t.Errorf("expected 75%% success, got %.1f", m.SuccessRate)
	}
}

func TestComputeMetrics_PrefixedNamesKeptApart(t *testing.T) {
	events := []core.Event{
		{Name: "Browse Products", Success: true},
		{Name: "[Read] Browse Products", Success: true},
		{Name: "[Read] Browse Products", Success: true},
	}

	m := ComputeMetrics(events, time.Second)

	if got := m.Names(); len(got) != 2 || got[0] != "Browse Products" || got[1] != "[Read] Browse Products" {
		t.Errorf("unexpected names %v", got)
	}
	if m.Operations["[Read] Browse Products"].Count != 2 {
		t.Errorf("expected 2 prefixed events")
	}
}

func TestBaseName(t *testing.T) {
	cases := map[string]string{
		"[Read] Browse Products": "Browse Products",
		"[Write] Create Order":   "Create Order",
		"Create Order":           "Create Order",
		"[broken":                "[broken",
		"panic":                  "panic",
	}
	for in, want := range cases {
		if got := BaseName(in); got != want {
			t.Errorf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestComputeDurationMetrics(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	d := ComputeDurationMetrics(durations)

	if d.Min != time.Millisecond || d.Max != 100*time.Millisecond {
		t.Errorf("unexpected min/max %v/%v", d.Min, d.Max)
	}
	if d.Avg != 50500*time.Microsecond {
		t.Errorf("expected avg 50.5ms, got %v", d.Avg)
	}
	// Nearest rank over 100 samples: index int(99*p).
	if d.P50 != 50*time.Millisecond || d.P95 != 95*time.Millisecond || d.P99 != 99*time.Millisecond {
		t.Errorf("unexpected percentiles p50=%v p95=%v p99=%v", d.P50, d.P95, d.P99)
	}
	if durations[0] != 100*time.Millisecond {
		t.Error("input slice was modified")
	}
}

func TestComputePercentile_Edges(t *testing.T) {
	if ComputePercentile(nil, 0.5) != 0 {
		t.Error("expected 0 for empty input")
	}
	one := []time.Duration{7}
	if ComputePercentile(one, 0.99) != 7 {
		t.Error("expected single value")
	}
	sorted := []time.Duration{1, 2, 3}
	if ComputePercentile(sorted, -1) != 1 || ComputePercentile(sorted, 2) != 3 {
		t.Error("expected clamping to min and max")
	}
}

func BenchmarkComputeMetrics(b *testing.B) {
	events := make([]core.Event, 10000)
	for i := range events {
		events[i] = core.Event{
			Name:     "Browse Products",
			Success:  i%10 != 0,
			Duration: time.Duration(i%500) * time.Millisecond,
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ComputeMetrics(events, time.Minute)
	}
}
