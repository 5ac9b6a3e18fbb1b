package facts

import (
	"sort"
	"sync"
)

// Store accumulates facts from concurrent work units. Each unit hands over its
// whole output in one Add call; that call is the only synchronization point.
type Store struct {
	mu     sync.Mutex
	facts  map[Key]Fact
	sealed bool
	units  int
}

func NewStore() *Store {
	return &Store{facts: map[Key]Fact{}}
}

// Add merges a unit's facts. It returns false when the store was sealed, in
// which case the facts are discarded.
//
// When two facts share a key the one with the lexicographically smallest
// provenance wins, so the result does not depend on scheduling order.
func (s *Store) Add(facts []Fact) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return false
	}
	s.units++
	for _, f := range facts {
		key := f.Key()
		existing, ok := s.facts[key]
		if ok && !provenanceLess(f.Provenance, existing.Provenance) {
			continue
		}
		s.facts[key] = f
	}
	return true
}

// Seal stops the store from accepting results from units still in flight and
// returns the number of units merged so far.
func (s *Store) Seal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	return s.units
}

// Facts returns every fact sorted by key.
func (s *Store) Facts() []Fact {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Fact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, f)
	}
	SortFacts(out)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.facts)
}

func SortFacts(facts []Fact) {
	sort.Slice(facts, func(i, j int) bool {
		return facts[i].Key() < facts[j].Key()
	})
}

func provenanceLess(a, b Provenance) bool {
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	return a.Line < b.Line
}
