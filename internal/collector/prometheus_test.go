package collector

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"shopload/internal/core"
)

func TestPromReporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPromReporter(reg, "run-1")
	if err != nil {
		t.Fatalf("NewPromReporter: %v", err)
	}

	p.Report(core.Event{Name: "Browse Products", Success: true, StatusCode: 200, Duration: 50 * time.Millisecond, BytesRecv: 300})
	p.Report(core.Event{Name: "Browse Products", Success: false, StatusCode: 500, Duration: 10 * time.Millisecond})
	p.Report(core.Event{Name: "Add to Favourites", Success: true, Tolerated: true, StatusCode: 409, BytesSent: 60})

	if got := testutil.ToFloat64(p.requests.WithLabelValues("run-1", "Browse Products", "success", "200")); got != 1 {
		t.Errorf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(p.requests.WithLabelValues("run-1", "Browse Products", "failure", "500")); got != 1 {
		t.Errorf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(p.requests.WithLabelValues("run-1", "Add to Favourites", "tolerated", "409")); got != 1 {
		t.Errorf("expected 1 tolerated, got %v", got)
	}
	if got := testutil.ToFloat64(p.bytes.WithLabelValues("run-1", "received")); got != 300 {
		t.Errorf("expected 300 received bytes, got %v", got)
	}
	if n := testutil.CollectAndCount(p.duration); n != 2 {
		t.Errorf("expected 2 histogram series, got %d", n)
	}
}

func TestPromReporter_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromReporter(reg, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPromReporter(reg, "b"); err == nil {
		t.Error("expected duplicate registration error")
	}
}
