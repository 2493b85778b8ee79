// Package vuser runs the lifecycle of a single virtual user: resolve an
// identity, pick or step to the next task, run it, think, repeat.
package vuser

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"shopload/internal/core"
	"shopload/internal/profile"
	"shopload/internal/task"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type state int

const (
	stateNew state = iota // identity not resolved yet
	stateRunning
)

// VirtualUser is one simulated client. It implements core.Actor and must
// only be driven from its own goroutine.
type VirtualUser struct {
	profile profile.Profile
	picker  *profile.Picker
	catalog *task.Catalog
	sleep   SleepFunc
	scope   task.Scope
	state   state
	step    int // next journey step
}

// New builds a virtual user for p. rng must not be shared.
func New(id int, p profile.Profile, catalog *task.Catalog, rng *rand.Rand, sleep SleepFunc) (*VirtualUser, error) {
	if sleep == nil {
		sleep = Sleep
	}
	u := &VirtualUser{
		profile: p,
		catalog: catalog,
		sleep:   sleep,
		scope: task.Scope{
			UserID:  id,
			Profile: p.Name,
			Prefix:  p.Prefix,
			Rng:     rng,
		},
	}
	switch p.Selection.Kind {
	case profile.Weighted:
		picker, err := profile.NewPicker(p.Selection.Weighted)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Name, err)
		}
		u.picker = picker
	case profile.Sequential:
		if len(p.Selection.Sequence) == 0 {
			return nil, fmt.Errorf("profile %q: journey has no steps", p.Name)
		}
	default:
		return nil, fmt.Errorf("profile %q: unknown selection kind %d", p.Name, p.Selection.Kind)
	}
	return u, nil
}

// Session returns a copy of the user's session state.
func (u *VirtualUser) Session() task.Session {
	return u.scope.Session
}

// Iterate performs one scheduling step: resolve the identity if needed,
// run the next task, then wait for the pacing delay. Task failures are
// reported, never returned; the only error is ctx ending during pacing.
func (u *VirtualUser) Iterate(ctx context.Context, rep core.Reporter) error {
	u.scope.Reporter = rep

	if u.state == stateNew {
		u.scope.Session = task.Session{}
		u.catalog.ResolveUser(ctx, &u.scope)
		u.state = stateRunning
	}

	u.catalog.Run(ctx, u.next(), &u.scope)

	return u.sleep(ctx, u.profile.Pacing.Draw(u.scope.Rng))
}

// next selects the task for this iteration and advances journey state.
func (u *VirtualUser) next() *task.Task {
	if u.profile.Selection.Kind == profile.Weighted {
		return u.picker.Pick(u.scope.Rng)
	}
	steps := u.profile.Selection.Sequence
	t := steps[u.step]
	u.step++
	if u.step == len(steps) {
		// Journey complete: start over as a freshly resolved shopper.
		u.step = 0
		u.state = stateNew
	}
	return t
}
