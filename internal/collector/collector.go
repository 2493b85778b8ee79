// Package collector aggregates virtual-user events into per-operation
// latency and error statistics, checks them against thresholds and renders
// the end-of-run summary.
package collector

import (
	"sync"
	"time"

	"shopload/internal/core"
)

// eventBuffer sizes the channel between virtual users and the collecting
// goroutine.
const eventBuffer = 1000

// Collector aggregates events from virtual users. Report is safe for
// concurrent use; it must not be called after Close.
type Collector struct {
	events    []core.Event
	ch        chan core.Event
	done      chan struct{}
	mu        sync.Mutex
	clock     core.Clock
	startTime time.Time
	endTime   time.Time
	closeOnce sync.Once
}

func NewCollector() *Collector {
	return NewCollectorWithClock(core.RealClock{})
}

// NewCollectorWithClock creates a collector that measures the run with
// clock.
func NewCollectorWithClock(clock core.Clock) *Collector {
	c := &Collector{
		ch:        make(chan core.Event, eventBuffer),
		done:      make(chan struct{}),
		clock:     clock,
		startTime: clock.Now(),
	}
	go c.collect()
	return c
}

func (c *Collector) collect() {
	for event := range c.ch {
		c.mu.Lock()
		c.events = append(c.events, event)
		c.mu.Unlock()
	}
	close(c.done)
}

// Report queues an event. It blocks only while the buffer is full, so no
// measurement is lost under load.
func (c *Collector) Report(event core.Event) {
	c.ch <- event
}

// Close stops collection and waits until every queued event is stored.
// Calling it more than once is harmless.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.endTime = c.clock.Now()
		c.mu.Unlock()
		close(c.ch)
		<-c.done
	})
}

// Events returns a copy of the collected events.
func (c *Collector) Events() []core.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]core.Event, len(c.events))
	copy(result, c.events)
	return result
}

// Duration is the run time so far, or the full run time once closed.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	end := c.endTime
	c.mu.Unlock()
	if !end.IsZero() {
		return end.Sub(c.startTime)
	}
	return c.clock.Since(c.startTime)
}

// Compute returns metrics over everything collected so far.
func (c *Collector) Compute() *Metrics {
	return ComputeMetrics(c.Events(), c.Duration())
}
