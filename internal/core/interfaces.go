// Package core defines the fundamental types shared by the shopload engine.
package core

import (
	"context"
	"time"
)

// Event represents a single measured operation issued by a virtual user.
type Event struct {
	UserID     int
	Profile    string
	Timestamp  time.Time
	Name       string // metric name, e.g. "Browse Products" or "[Read] View Orders"
	Duration   time.Duration
	Success    bool
	Tolerated  bool // success by policy (404 on detail view, 409 on favourite)
	Error      string
	StatusCode int
	BytesSent  int64
	BytesRecv  int64
}

// Actor is one virtual user's execution unit. Iterate runs a single
// scheduling step and is only ever called from the actor's own goroutine.
type Actor interface {
	Iterate(ctx context.Context, rep Reporter) error
}

// ActorFactory builds the actor for a freshly spawned virtual user.
type ActorFactory interface {
	NewActor(userID int) Actor
}

// Reporter is the metrics sink actors record outcomes into.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(e Event) { f(e) }

// MultiReporter fans every event out to all of its reporters in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(e Event) {
	for _, r := range m {
		if r != nil {
			r.Report(e)
		}
	}
}
