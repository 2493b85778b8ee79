// Package profile describes the classes of virtual users: how many of each
// run, how long they think between requests and how they choose the next
// task.
package profile

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"shopload/internal/task"
)

// Kind tags how a profile selects its tasks.
type Kind int

const (
	// Weighted draws every task independently with probability
	// proportional to its weight.
	Weighted Kind = iota
	// Sequential runs a fixed journey in order and then starts over.
	Sequential
)

func (k Kind) String() string {
	if k == Sequential {
		return "sequential"
	}
	return "weighted"
}

// WeightedTask pairs a task with its relative frequency.
type WeightedTask struct {
	Task   *task.Task
	Weight int
}

// Selection is the task-selection policy of a profile. Exactly one of
// Weighted or Sequence is used, according to Kind.
type Selection struct {
	Kind     Kind
	Weighted []WeightedTask
	Sequence []*task.Task
}

// WeightedSelection builds a Weighted selection.
func WeightedSelection(tasks ...WeightedTask) Selection {
	return Selection{Kind: Weighted, Weighted: tasks}
}

// SequentialSelection builds a Sequential selection.
func SequentialSelection(tasks ...*task.Task) Selection {
	return Selection{Kind: Sequential, Sequence: tasks}
}

// Pacing is the think-time range drawn after every task.
type Pacing struct {
	Min time.Duration
	Max time.Duration
}

// Draw returns a uniformly distributed delay in [Min, Max].
func (p Pacing) Draw(rng *rand.Rand) time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + time.Duration(rng.Int63n(int64(p.Max-p.Min)+1))
}

// Profile is an immutable class of virtual users.
type Profile struct {
	Name      string
	Prefix    string // metric name prefix, may be empty
	Weight    int    // relative population share; 0 disables the profile
	Pacing    Pacing
	Selection Selection
}

// Validate checks that the profile can be scheduled.
func (p Profile) Validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if p.Weight < 0 {
		errs = append(errs, fmt.Errorf("weight must be >= 0, got %d", p.Weight))
	}
	if p.Pacing.Min < 0 || p.Pacing.Max < p.Pacing.Min {
		errs = append(errs, fmt.Errorf("invalid pacing %s-%s", p.Pacing.Min, p.Pacing.Max))
	}
	switch p.Selection.Kind {
	case Weighted:
		if _, err := NewPicker(p.Selection.Weighted); err != nil {
			errs = append(errs, err)
		}
	case Sequential:
		if len(p.Selection.Sequence) == 0 {
			errs = append(errs, errors.New("journey has no steps"))
		}
		for i, t := range p.Selection.Sequence {
			if t == nil {
				errs = append(errs, fmt.Errorf("journey step %d is nil", i+1))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("unknown selection kind %d", p.Selection.Kind))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return nil
}

// Active returns the profiles with a positive weight, in order.
func Active(profiles []Profile) []Profile {
	var out []Profile
	for _, p := range profiles {
		if p.Weight > 0 {
			out = append(out, p)
		}
	}
	return out
}

// Shares returns each active profile's fraction of the population.
func Shares(profiles []Profile) map[string]float64 {
	total := 0
	for _, p := range profiles {
		if p.Weight > 0 {
			total += p.Weight
		}
	}
	shares := make(map[string]float64, len(profiles))
	for _, p := range profiles {
		if p.Weight > 0 && total > 0 {
			shares[p.Name] = float64(p.Weight) / float64(total)
		}
	}
	return shares
}
