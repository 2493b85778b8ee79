package profile

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"shopload/internal/task"
)

// Picker draws tasks with probability weight/sum(weights). It is immutable
// and safe to share; randomness comes from the caller's rng.
type Picker struct {
	tasks      []*task.Task
	cumulative []int
	total      int
}

// NewPicker builds a picker. Zero-weight tasks are never drawn.
func NewPicker(weighted []WeightedTask) (*Picker, error) {
	p := &Picker{}
	for _, w := range weighted {
		if w.Task == nil {
			return nil, errors.New("weighted task is nil")
		}
		if w.Weight < 0 {
			return nil, fmt.Errorf("task %q has negative weight %d", w.Task.Key, w.Weight)
		}
		if w.Weight == 0 {
			continue
		}
		p.total += w.Weight
		p.tasks = append(p.tasks, w.Task)
		p.cumulative = append(p.cumulative, p.total)
	}
	if p.total == 0 {
		return nil, errors.New("no task has a positive weight")
	}
	return p, nil
}

// Pick returns the next task. Draws are independent.
func (p *Picker) Pick(rng *rand.Rand) *task.Task {
	n := rng.Intn(p.total)
	i := sort.SearchInts(p.cumulative, n+1)
	return p.tasks[i]
}

// Probability returns the chance t is drawn.
func (p *Picker) Probability(t *task.Task) float64 {
	prev := 0
	var sum int
	for i, c := range p.cumulative {
		if p.tasks[i] == t {
			sum += c - prev
		}
		prev = c
	}
	return float64(sum) / float64(p.total)
}
