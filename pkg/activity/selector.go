package activity

import (
	"fmt"
	"math/rand"
	"sync"
)

// Selector performs weighted-random selection over an immutable catalog.
// The catalog never changes after construction; only the rng needs guarding
// for concurrent use.
type Selector struct {
	defs  []Definition
	total int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector validates the catalog and builds a selector. The rng may be
// shared-seeded for reproducible runs; if nil, a time-seeded source is used.
func NewSelector(defs []Definition, rng *rand.Rand) (*Selector, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("activity catalog is empty")
	}

	total := 0
	for _, d := range defs {
		if d.Weight <= 0 {
			return nil, fmt.Errorf("activity %q has non-positive weight %d", d.Kind, d.Weight)
		}
		total += d.Weight
	}
	if total <= 0 {
		return nil, fmt.Errorf("activity weights sum to %d, want > 0", total)
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	catalog := make([]Definition, len(defs))
	copy(catalog, defs)

	return &Selector{defs: catalog, total: total, rng: rng}, nil
}

// Select draws one activity kind. The draw lands in the first definition
// whose cumulative weight strictly exceeds it; a boundary draw equal to the
// total falls back to the last catalog entry, so Select never fails.
func (s *Selector) Select() Kind {
	s.mu.Lock()
	draw := s.rng.Intn(s.total)
	s.mu.Unlock()

	cumulative := 0
	for _, d := range s.defs {
		cumulative += d.Weight
		if draw < cumulative {
			return d.Kind
		}
	}
	return s.defs[len(s.defs)-1].Kind
}

// TotalWeight returns the catalog's summed weight.
func (s *Selector) TotalWeight() int {
	return s.total
}

// Catalog returns a copy of the definitions the selector draws from.
func (s *Selector) Catalog() []Definition {
	out := make([]Definition, len(s.defs))
	copy(out, s.defs)
	return out
}
