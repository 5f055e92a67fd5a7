// ABOUTME: Thread-safe registry indexing handlers by kind in registration order.
// ABOUTME: Resolves the handlers matching a frame and applies veto filters.

package handler

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/pattern"
)

// Filter receives the candidate handlers for a frame and returns the
// subset allowed to run. Returned handlers outside the candidate set are
// ignored and order is always registration order.
type Filter func(candidates []*Handler) []*Handler

// Match is a handler selected for a frame along with its captures.
type Match struct {
	Handler  *Handler
	Captures pattern.Captures
}

// Registry maps (kind, pattern) to an ordered handler list.
type Registry struct {
	mu      sync.RWMutex
	byKind  map[frame.Kind][]*Handler
	filters []Filter
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byKind: make(map[frame.Kind][]*Handler),
		logger: logger,
	}
}

// Register appends a handler to its kind's index.
func (r *Registry) Register(h *Handler) error {
	if h == nil {
		return fmt.Errorf("%w: nil handler", ErrInvalidHandler)
	}
	if !h.Kind().Transmittable() {
		return fmt.Errorf("%w: %s handlers belong to the timer registry", ErrInvalidHandler, h.Kind())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byKind[h.Kind()] = append(r.byKind[h.Kind()], h)
	r.logger.Debug("handler registered",
		"handler", h.Name(),
		"kind", h.Kind().String(),
		"pattern", h.Pattern().String(),
	)
	return nil
}

// AddFilter attaches a veto predicate consulted by FindMatches.
func (r *Registry) AddFilter(f Filter) {
	if f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, f)
}

// Handlers returns the handlers registered for a kind in order.
func (r *Registry) Handlers(kind frame.Kind) []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byKind[kind])
}

// Len returns the total number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, hs := range r.byKind {
		n += len(hs)
	}
	return n
}

// FindMatches returns the handlers whose kind and pattern match the frame,
// in registration order, after filters. No match yields an empty slice.
func (r *Registry) FindMatches(f *frame.Frame) []Match {
	r.mu.RLock()
	candidates := r.byKind[f.Kind()]
	filters := r.filters
	r.mu.RUnlock()

	var matches []Match
	for _, h := range candidates {
		captures, ok := h.Pattern().Match(f.Name())
		if !ok {
			continue
		}
		matches = append(matches, Match{Handler: h, Captures: captures})
	}
	if len(matches) == 0 || len(filters) == 0 {
		return matches
	}
	return applyFilters(matches, filters)
}

// Allowed runs the filters against a single handler.
func (r *Registry) Allowed(h *Handler) bool {
	r.mu.RLock()
	filters := r.filters
	r.mu.RUnlock()
	return len(applyFilters([]Match{{Handler: h}}, filters)) == 1
}

func applyFilters(matches []Match, filters []Filter) []Match {
	for _, filter := range filters {
		if len(matches) == 0 {
			break
		}
		handlers := make([]*Handler, len(matches))
		for i, m := range matches {
			handlers[i] = m.Handler
		}
		allowed := filter(handlers)
		kept := matches[:0:0]
		for _, m := range matches {
			if slices.Contains(allowed, m.Handler) {
				kept = append(kept, m)
			}
		}
		matches = kept
	}
	return matches
}

// FeatureFlags returns a filter vetoing handlers whose required flags are
// not all enabled.
func FeatureFlags(enabled func(flag string) bool) Filter {
	return func(candidates []*Handler) []*Handler {
		allowed := candidates[:0:0]
		for _, h := range candidates {
			ok := true
			for _, flag := range h.requires {
				if !enabled(flag) {
					ok = false
					break
				}
			}
			if ok {
				allowed = append(allowed, h)
			}
		}
		return allowed
	}
}
