package collector

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"shopload/internal/core"
)

// PromReporter exports events as Prometheus metrics labelled by run id,
// operation name and outcome. It implements core.Reporter and is meant to
// be combined with a Collector through core.MultiReporter.
type PromReporter struct {
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	runID    string
}

// NewPromReporter registers its collectors with reg.
func NewPromReporter(reg prometheus.Registerer, runID string) (*PromReporter, error) {
	p := &PromReporter{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shopload",
			Name:      "request_duration_seconds",
			Help:      "Latency of requests issued by virtual users.",
			Buckets:   []float64{.01, .025, .05, .1, .2, .3, .5, .8, 1, 2, 5},
		}, []string{"run_id", "operation"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopload",
			Name:      "requests_total",
			Help:      "Requests issued by virtual users, by outcome.",
		}, []string{"run_id", "operation", "outcome", "status"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shopload",
			Name:      "transferred_bytes_total",
			Help:      "Request and response body bytes.",
		}, []string{"run_id", "direction"}),
		runID: runID,
	}
	for _, c := range []prometheus.Collector{p.duration, p.requests, p.bytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *PromReporter) Report(e core.Event) {
	outcome := "success"
	switch {
	case !e.Success:
		outcome = "failure"
	case e.Tolerated:
		outcome = "tolerated"
	}
	p.duration.WithLabelValues(p.runID, e.Name).Observe(e.Duration.Seconds())
	p.requests.WithLabelValues(p.runID, e.Name, outcome, strconv.Itoa(e.StatusCode)).Inc()
	if e.BytesSent > 0 {
		p.bytes.WithLabelValues(p.runID, "sent").Add(float64(e.BytesSent))
	}
	if e.BytesRecv > 0 {
		p.bytes.WithLabelValues(p.runID, "received").Add(float64(e.BytesRecv))
	}
}
