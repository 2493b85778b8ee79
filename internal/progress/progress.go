// Package progress prints a live status line while a run is in progress.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"shopload/internal/collector"
)

// Source provides the running totals shown on the status line.
type Source interface {
	Compute() *collector.Metrics
}

type Progress struct {
	source    Source
	users     func() int
	interval  time.Duration
	startTime time.Time
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopped   atomic.Bool
	quiet     bool
	output    io.Writer
	mu        sync.Mutex
}

func NewProgress(source Source, quiet bool) *Progress {
	return &Progress{
		source:   source,
		quiet:    quiet,
		interval: time.Second,
		output:   os.Stderr,
	}
}

func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

// SetUsers installs a function reporting the live virtual user count.
func (p *Progress) SetUsers(users func() int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = users
}

func (p *Progress) Start() {
	if p.quiet {
		return
	}
	p.startTime = time.Now()
	p.stopCh = make(chan struct{})
	p.ticker = time.NewTicker(p.interval)
	go p.run()
}

func (p *Progress) run() {
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			p.printProgress(time.Since(p.startTime))
		}
	}
}

func (p *Progress) printProgress(elapsed time.Duration) {
	m := p.source.Compute()
	elapsed = elapsed.Round(time.Second)

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.output, "\033[K[%02d:%02d] ", int(elapsed.Minutes()), int(elapsed.Seconds())%60)
	if p.users != nil {
		fmt.Fprintf(p.output, "Users: %d | ", p.users())
	}
	fmt.Fprintf(p.output, "Requests: %d | RPS: %.1f | Errors: %d (%.1f%%)\r",
		m.TotalRequests, m.RequestsPerSec, m.FailureCount, m.ErrorRate())
}

func (p *Progress) Stop() {
	if p.quiet || p.stopped.Swap(true) {
		return
	}
	if p.ticker != nil {
		p.ticker.Stop()
	}
	if p.stopCh != nil {
		close(p.stopCh)
	}
	p.mu.Lock()
	fmt.Fprint(p.output, "\033[K")
	p.mu.Unlock()
}

// Printf prints a message on its own line without disturbing the status
// line.
func (p *Progress) Printf(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\033[K"+format+"\n", args...)
	p.mu.Unlock()
}
