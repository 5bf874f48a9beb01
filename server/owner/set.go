// Package owner tracks which jobs this replica is responsible for probing.
// The reconciler refreshes the assignment from the store; probers consult it
// each tick and shut down when their job disappears from it.
package owner

import (
	"sync"
)

// Set is the replica's published owned set. Reads see a point-in-time
// consistent snapshot; Replace swaps the whole set at once.
type Set struct {
	mu  sync.RWMutex
	ids map[int64]struct{}
}

// NewSet returns an empty owned set.
func NewSet() *Set {
	return &Set{ids: make(map[int64]struct{})}
}

// Contains reports whether the job is currently owned by this replica.
func (s *Set) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Replace installs a fresh snapshot. The map is owned by the Set afterwards.
func (s *Set) Replace(ids map[int64]struct{}) {
	if ids == nil {
		ids = make(map[int64]struct{})
	}
	s.mu.Lock()
	s.ids = ids
	s.mu.Unlock()
}

// Add inserts a single job id. The admin add path calls this so a freshly
// registered job survives its prober's first tick instead of waiting for the
// next refresh to confirm ownership.
func (s *Set) Add(id int64) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

// Len returns the current number of owned jobs.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
