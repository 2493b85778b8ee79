package task

import (
	"math/rand"

	"shopload/internal/core"
)

// Session is the private state one virtual user carries between tasks so
// that later calls can chain on earlier results. Zero means unknown.
type Session struct {
	UserID    int
	ProductID int
	OrderID   int
	CartID    int
}

// Scope is everything a task needs from the virtual user running it.
// A Scope is owned by a single goroutine.
type Scope struct {
	UserID   int // virtual user number, not the backend user id
	Profile  string
	Prefix   string // prepended to metric names, e.g. "[Read] "
	Session  Session
	Rng      *rand.Rand
	Reporter core.Reporter
}

// Gate names the feature switch a task depends on.
type Gate int

const (
	Always Gate = iota
	FavouriteWrites
	OrderFlow
)

func (g Gate) String() string {
	switch g {
	case FavouriteWrites:
		return "favourite-writes"
	case OrderFlow:
		return "order-flow"
	default:
		return "always"
	}
}

// Features are the externally configured write switches. Both default off
// so a run against a shared environment only reads unless asked otherwise.
type Features struct {
	FavouriteWrites bool
	OrderFlow       bool
}

// Allows reports whether tasks behind g may run.
func (f Features) Allows(g Gate) bool {
	switch g {
	case FavouriteWrites:
		return f.FavouriteWrites
	case OrderFlow:
		return f.OrderFlow
	default:
		return true
	}
}

// AnyWrites reports whether at least one write flow is enabled.
func (f Features) AnyWrites() bool {
	return f.FavouriteWrites || f.OrderFlow
}
