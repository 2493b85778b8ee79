package idcache

import "math/rand"

// Fallback produces synthetic identifiers in the closed range [Min, Max].
// Synthetic ids keep the load running against an empty backend, at the cost
// of deliberately exercising not-found paths.
type Fallback struct {
	Min int
	Max int
}

// DefaultFallback is the range used for product and user ids.
var DefaultFallback = Fallback{Min: 1, Max: 10}

func (f Fallback) Pick(rng *rand.Rand) int {
	if f.Max <= f.Min {
		return f.Min
	}
	return f.Min + rng.Intn(f.Max-f.Min+1)
}

// Contains reports whether id lies in the fallback range.
func (f Fallback) Contains(id int) bool {
	return id >= f.Min && id <= f.Max
}
