// ABOUTME: Thread-safe scaling bloom filter for tracking seen frame ids.
// ABOUTME: Used by agents to enforce at-most-once handling per frame id.

package dedupe

import (
	"math"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	// DefaultErrorRate is the target compound false-positive rate.
	DefaultErrorRate = 0.001
	// DefaultInitialCapacity is the capacity of the first layer.
	DefaultInitialCapacity = 100
	// SmallSetGrowth doubles capacity for each new layer.
	SmallSetGrowth = 2
	// LargeSetGrowth quadruples capacity for each new layer.
	LargeSetGrowth = 4

	// tighteningRatio shrinks each new layer's error rate so the sum converges.
	tighteningRatio = 0.9
)

// layer is one fixed-capacity bloom filter in the chain.
type layer struct {
	filter   *bloom.BloomFilter
	capacity uint
	count    uint
}

// Set is a scaling approximate-membership set of frame ids.
type Set struct {
	mu              sync.Mutex
	layers          []*layer
	errorRate       float64
	initialCapacity uint
	growth          uint
	count           int
}

// Option configures a Set.
type Option func(*Set)

// WithErrorRate sets the target false-positive rate, in (0, 1).
func WithErrorRate(rate float64) Option {
	return func(s *Set) {
		if rate > 0 && rate < 1 {
			s.errorRate = rate
		}
	}
}

// WithInitialCapacity sets the first layer's capacity.
func WithInitialCapacity(n uint) Option {
	return func(s *Set) {
		if n > 0 {
			s.initialCapacity = n
		}
	}
}

// WithGrowth sets the capacity multiplier between layers.
func WithGrowth(factor uint) Option {
	return func(s *Set) {
		if factor >= 2 {
			s.growth = factor
		}
	}
}

// New creates an empty set. Defaults favour large sets.
func New(opts ...Option) *Set {
	s := &Set{
		errorRate:       DefaultErrorRate,
		initialCapacity: DefaultInitialCapacity,
		growth:          LargeSetGrowth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check reports whether id has (probably) been seen.
func (s *Set) Check(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containsLocked(id)
}

// CheckAndMark atomically checks whether id has been seen and marks it if not.
// Returns true if id was already seen (duplicate), false if it's new and now marked.
func (s *Set) CheckAndMark(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.containsLocked(id) {
		return true
	}
	s.addLocked(id)
	return false
}

// Mark records id as seen.
func (s *Set) Mark(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.containsLocked(id) {
		s.addLocked(id)
	}
}

// Len returns the number of ids added. Ids hidden by false positives are not counted.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Layers returns the number of chained filters.
func (s *Set) Layers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layers)
}

// ErrorRate returns the configured compound false-positive bound.
func (s *Set) ErrorRate() float64 {
	return s.errorRate
}

func (s *Set) containsLocked(id string) bool {
	// Newest layers hold the most recent ids; scan them first.
	for i := len(s.layers) - 1; i >= 0; i-- {
		if s.layers[i].filter.TestString(id) {
			return true
		}
	}
	return false
}

// addLocked must be called with mu held and only for ids not yet contained.
func (s *Set) addLocked(id string) {
	current := s.currentLocked()
	current.filter.AddString(id)
	current.count++
	s.count++
}

// currentLocked returns the newest layer, appending a new one when full.
func (s *Set) currentLocked() *layer {
	n := len(s.layers)
	if n > 0 && s.layers[n-1].count < s.layers[n-1].capacity {
		return s.layers[n-1]
	}
	capacity := s.initialCapacity * uint(math.Pow(float64(s.growth), float64(n)))
	rate := s.errorRate * (1 - tighteningRatio) * math.Pow(tighteningRatio, float64(n))
	l := &layer{
		filter:   bloom.NewWithEstimates(capacity, rate),
		capacity: capacity,
	}
	s.layers = append(s.layers, l)
	return l
}
