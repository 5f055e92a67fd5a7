// ABOUTME: Registry of recurring timers feeding handlers into the dispatch engine.
// ABOUTME: One ticking goroutine per interval; handlers may be added before or after start.

// Package timer schedules recurring triggers for timer handlers.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/handler"
)

// Trigger dispatches one timer firing for a handler. Timer triggers carry no frame.
type Trigger func(ctx context.Context, h *handler.Handler)

// Spawner runs fn on a goroutine owned by the caller.
type Spawner func(fn func(ctx context.Context))

// Registry maps intervals to ordered handler lists, each interval owning a ticking task.
type Registry struct {
	mu        sync.Mutex
	intervals []time.Duration
	handlers  map[time.Duration][]*handler.Handler
	trigger   Trigger
	spawn     Spawner
	started   bool
	stopped   bool
	done      chan struct{}
	logger    *slog.Logger
}

// NewRegistry creates a timer registry invoking trigger on every firing.
func NewRegistry(trigger Trigger, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[time.Duration][]*handler.Handler),
		trigger:  trigger,
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// AddHandler registers a timer handler. Before Start it is queued; after
// Start a new interval begins ticking immediately.
func (r *Registry) AddHandler(h *handler.Handler) error {
	if h == nil || h.Kind() != frame.KindTimer {
		return fmt.Errorf("%w: expected a timer handler", handler.ErrInvalidHandler)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	interval := h.Interval()
	_, exists := r.handlers[interval]
	r.handlers[interval] = append(r.handlers[interval], h)
	if !exists {
		r.intervals = append(r.intervals, interval)
		if r.started && !r.stopped {
			r.launchLocked(interval)
		}
	}
	return nil
}

// Start launches one recurring task per registered interval.
// Calling Start more than once has no effect.
func (r *Registry) Start(spawn Spawner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || r.stopped {
		return
	}
	r.started = true
	r.spawn = spawn
	for _, interval := range r.intervals {
		r.launchLocked(interval)
	}
	r.logger.Debug("timers started", "intervals", len(r.intervals))
}

// Stop prevents further firings. In-flight handler calls are not cancelled.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true
	close(r.done)
}

// Intervals returns registered intervals in registration order.
func (r *Registry) Intervals() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.intervals)
}

// Handlers returns the handlers registered for an interval.
func (r *Registry) Handlers(interval time.Duration) []*handler.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.handlers[interval])
}

func (r *Registry) launchLocked(interval time.Duration) {
	r.spawn(func(ctx context.Context) {
		r.run(ctx, interval)
	})
}

func (r *Registry) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			for _, h := range r.Handlers(interval) {
				select {
				case <-r.done:
					return
				default:
				}
				r.trigger(context.WithoutCancel(ctx), h)
			}
		}
	}
}
