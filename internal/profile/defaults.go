package profile

import (
	"fmt"
	"sort"
	"time"

	"shopload/internal/task"
)

const (
	ReadHeavy  = "read-heavy"
	WriteHeavy = "write-heavy"
	Journey    = "journey"
)

// Defaults returns the standard population: mostly browsers, some buyers
// and a few end-to-end shoppers. Write profiles whose flows are switched
// off get weight 0 so no users are spawned for them.
func Defaults(features task.Features) []Profile {
	writeWeight := 3
	if !features.AnyWrites() {
		writeWeight = 0
	}
	journeyWeight := 2
	if !features.OrderFlow {
		journeyWeight = 0
	}

	return []Profile{
		{
			Name:   ReadHeavy,
			Prefix: "[Read] ",
			Weight: 7,
			Pacing: Pacing{Min: time.Second, Max: 3 * time.Second},
			Selection: WeightedSelection(
				WeightedTask{Task: task.BrowseProducts, Weight: 10},
				WeightedTask{Task: task.ViewProduct, Weight: 5},
				WeightedTask{Task: task.ViewOrders, Weight: 2},
			),
		},
		{
			Name:   WriteHeavy,
			Prefix: "[Write] ",
			Weight: writeWeight,
			Pacing: Pacing{Min: 2 * time.Second, Max: 5 * time.Second},
			Selection: WeightedSelection(
				WeightedTask{Task: task.CreateOrder, Weight: 5},
				WeightedTask{Task: task.AddFavourite, Weight: 3},
				WeightedTask{Task: task.CreatePayment, Weight: 2},
				WeightedTask{Task: task.CreateCart, Weight: 1},
			),
		},
		{
			Name:   Journey,
			Weight: journeyWeight,
			Pacing: Pacing{Min: time.Second, Max: 4 * time.Second},
			Selection: SequentialSelection(
				task.BrowseProducts,
				task.ViewProduct,
				task.AddFavourite,
				task.CreateOrder,
				task.ViewOrders,
			),
		},
	}
}

// Override adjusts a profile from configuration. Nil fields keep the
// default.
type Override struct {
	Weight    *int
	PacingMin *time.Duration
	PacingMax *time.Duration
	// Tasks replaces the weights of a weighted profile, keyed by task key.
	Tasks map[string]int
	// Steps replaces the journey of a sequential profile.
	Steps []string
}

// Apply returns a copy of profiles with overrides applied and validated.
// Overrides naming unknown profiles or tasks are errors.
func Apply(profiles []Profile, overrides map[string]Override) ([]Profile, error) {
	out := make([]Profile, len(profiles))
	copy(out, profiles)

	byName := make(map[string]int, len(out))
	for i, p := range out {
		byName[p.Name] = i
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		i, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown profile %q", name)
		}
		o := overrides[name]
		p := &out[i]
		if o.Weight != nil {
			p.Weight = *o.Weight
		}
		if o.PacingMin != nil {
			p.Pacing.Min = *o.PacingMin
		}
		if o.PacingMax != nil {
			p.Pacing.Max = *o.PacingMax
		}
		if len(o.Tasks) > 0 {
			if p.Selection.Kind != Weighted {
				return nil, fmt.Errorf("profile %q: task weights need a weighted profile", name)
			}
			sel, err := weightedFromKeys(o.Tasks)
			if err != nil {
				return nil, fmt.Errorf("profile %q: %w", name, err)
			}
			p.Selection = sel
		}
		if len(o.Steps) > 0 {
			if p.Selection.Kind != Sequential {
				return nil, fmt.Errorf("profile %q: steps need a sequential profile", name)
			}
			seq := make([]*task.Task, 0, len(o.Steps))
			for _, key := range o.Steps {
				t, ok := task.Lookup(key)
				if !ok {
					return nil, fmt.Errorf("profile %q: unknown task %q", name, key)
				}
				seq = append(seq, t)
			}
			p.Selection = SequentialSelection(seq...)
		}
	}

	for _, p := range out {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func weightedFromKeys(weights map[string]int) (Selection, error) {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ws := make([]WeightedTask, 0, len(keys))
	for _, key := range keys {
		t, ok := task.Lookup(key)
		if !ok {
			return Selection{}, fmt.Errorf("unknown task %q", key)
		}
		ws = append(ws, WeightedTask{Task: t, Weight: weights[key]})
	}
	return WeightedSelection(ws...), nil
}
