// ABOUTME: Thread-safe set of joined space names.
// ABOUTME: Listing is sorted so resubscriptions are deterministic.

package transport

import (
	"slices"
	"sync"

	"github.com/2389/hive/internal/frame"
)

// SpaceSet tracks the spaces a connection has joined.
type SpaceSet struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewSpaceSet creates an empty set.
func NewSpaceSet() *SpaceSet {
	return &SpaceSet{set: make(map[string]struct{})}
}

// Add validates and inserts a space. Returns false if already present.
func (s *SpaceSet) Add(space string) (bool, error) {
	if err := frame.ValidateName(space); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[space]; ok {
		return false, nil
	}
	s.set[space] = struct{}{}
	return true, nil
}

// Remove deletes a space. Returns false if it was not present.
func (s *SpaceSet) Remove(space string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[space]; !ok {
		return false
	}
	delete(s.set, space)
	return true
}

// Contains reports membership.
func (s *SpaceSet) Contains(space string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[space]
	return ok
}

// List returns the spaces in sorted order.
func (s *SpaceSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.set))
	for space := range s.set {
		out = append(out, space)
	}
	slices.Sort(out)
	return out
}
