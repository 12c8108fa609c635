package timers

import (
	"sort"
	"sync"
)

// IDSet is a concurrency-safe set of message ids. Sessions use it for the
// viewed, played-audio and deleted guards.
type IDSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewIDSet creates an empty set.
func NewIDSet() *IDSet {
	return &IDSet{ids: make(map[string]struct{})}
}

// Add inserts id and reports whether it was not already present.
func (s *IDSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// AddAll inserts every id.
func (s *IDSet) AddAll(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

// Has reports membership.
func (s *IDSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids.
func (s *IDSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.ids)
}

// Clear removes every id.
func (s *IDSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids = make(map[string]struct{})
}

// Slice returns the ids in sorted order.
func (s *IDSet) Slice() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}
