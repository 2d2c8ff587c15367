package rewards

import (
	"math/rand/v2"
	"sync"
)

// Selector picks the category a scan is credited for.
type Selector interface {
	Select(t CategoryTable) Category
}

// WeightedSelector draws categories in proportion to their weights.
// Safe for concurrent use.
type WeightedSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewWeightedSelector(seed uint64) *WeightedSelector {
	return &WeightedSelector{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *WeightedSelector) Select(t CategoryTable) Category {
	s.mu.Lock()
	n := s.rng.IntN(t.TotalWeight())
	s.mu.Unlock()

	for _, c := range t.Categories {
		if n < c.Weight {
			return c
		}
		n -= c.Weight
	}
	return t.Categories[len(t.Categories)-1]
}

// FixedSelector always returns the named category. Used by tests and demos.
type FixedSelector string

func (f FixedSelector) Select(t CategoryTable) Category {
	if c, ok := t.Lookup(string(f)); ok {
		return c
	}
	return t.Categories[0]
}
