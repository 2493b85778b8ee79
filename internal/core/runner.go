package core

import (
	"context"
	"errors"
)

// ErrMaxIterationsReached indicates the runner hit its iteration limit.
var ErrMaxIterationsReached = errors.New("max iterations reached")

// NullReporter discards all events (used during warmup).
var NullReporter Reporter = nullReporter{}

type nullReporter struct{}

func (nullReporter) Report(Event) {}

// RunnerConfig controls per-user iteration limits.
type RunnerConfig struct {
	MaxIterations int // 0 = unlimited
	WarmupIters   int // iterations before metrics count (per user)
}

// Enabled reports whether any limit is configured.
func (c RunnerConfig) Enabled() bool {
	return c.MaxIterations > 0 || c.WarmupIters > 0
}

// Runner wraps one actor with iteration accounting.
// A Runner is NOT safe for concurrent use; each user goroutine owns its own.
type Runner struct {
	actor     Actor
	reporter  Reporter
	config    RunnerConfig
	iteration int
}

func NewRunner(actor Actor, reporter Reporter, config RunnerConfig) *Runner {
	return &Runner{
		actor:    actor,
		reporter: reporter,
		config:   config,
	}
}

// RunIteration executes one scheduling step of the actor.
// Returns nil on success, ErrMaxIterationsReached when the limit is hit,
// or the actor's error.
func (r *Runner) RunIteration(ctx context.Context) error {
	if r.config.MaxIterations > 0 && r.iteration >= r.config.MaxIterations {
		return ErrMaxIterationsReached
	}

	rep := r.reporter
	if r.iteration < r.config.WarmupIters {
		rep = NullReporter
	}

	err := r.actor.Iterate(ctx, rep)
	r.iteration++
	return err
}

// Iteration returns the number of completed iterations.
func (r *Runner) Iteration() int {
	return r.iteration
}

// IsWarmup returns true while events are still being discarded.
func (r *Runner) IsWarmup() bool {
	return r.iteration < r.config.WarmupIters
}
