// ABOUTME: Handler records binding a frame kind and name pattern to a function.
// ABOUTME: Flags control capture parsing, async execution, and owner passing.

package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/pattern"
)

// ErrInvalidHandler indicates a handler that cannot be registered.
var ErrInvalidHandler = errors.New("invalid handler")

// Self is the view of the owning agent handed to handlers registered with PassSelf.
type Self interface {
	Name() string
	Emit(ctx context.Context, name string, data frame.Data, opts ...frame.Option) (*frame.Frame, error)
	Message(ctx context.Context, name string, data frame.Data, opts ...frame.Option) (*frame.Frame, error)
	Join(ctx context.Context, space string, tags ...string) error
	Leave(ctx context.Context, space string, tags ...string) error
	Stop()
}

// Func is a handler body. self is nil unless the handler was registered
// with PassSelf; f is nil for timer handlers. A non-empty returned Data is
// sent back as a response correlated to f.
type Func func(ctx context.Context, self Self, f *frame.Frame) (frame.Data, error)

// Handler is an immutable registration record.
type Handler struct {
	kind     frame.Kind
	pattern  *pattern.Pattern
	interval time.Duration
	fn       Func
	name     string
	parse    bool
	async    bool
	passSelf bool
	requires []string
}

// Option configures a handler at construction.
type Option func(*Handler)

// Parse merges template captures into the data seen by the handler.
func Parse() Option {
	return func(h *Handler) { h.parse = true }
}

// Async runs the handler on its own goroutine instead of inline.
func Async() Option {
	return func(h *Handler) { h.async = true }
}

// PassSelf hands the owning agent to the handler.
func PassSelf() Option {
	return func(h *Handler) { h.passSelf = true }
}

// Named sets the name used in logs.
func Named(name string) Option {
	return func(h *Handler) { h.name = name }
}

// Requires gates the handler behind feature flags; see FeatureFlags.
func Requires(flags ...string) Option {
	return func(h *Handler) { h.requires = append(h.requires, flags...) }
}

// New builds a handler for a transmittable frame kind.
func New(kind frame.Kind, raw string, fn Func, opts ...Option) (*Handler, error) {
	if !kind.Transmittable() {
		return nil, fmt.Errorf("%w: kind %s", ErrInvalidHandler, kind)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: nil func for %s %q", ErrInvalidHandler, kind, raw)
	}
	p, err := pattern.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHandler, err)
	}
	h := &Handler{kind: kind, pattern: p, fn: fn}
	for _, opt := range opts {
		opt(h)
	}
	if h.name == "" {
		h.name = kind.String() + ":" + raw
	}
	return h, nil
}

// NewTimer builds a handler fired every interval.
func NewTimer(interval time.Duration, fn Func, opts ...Option) (*Handler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: timer interval must be positive, got %s", ErrInvalidHandler, interval)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: nil func for timer %s", ErrInvalidHandler, interval)
	}
	h := &Handler{
		kind:     frame.KindTimer,
		pattern:  pattern.MustCompile(interval.String()),
		interval: interval,
		fn:       fn,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.name == "" {
		h.name = "timer:" + interval.String()
	}
	return h, nil
}

// Kind returns the frame kind the handler reacts to.
func (h *Handler) Kind() frame.Kind { return h.kind }

// Pattern returns the compiled name pattern.
func (h *Handler) Pattern() *pattern.Pattern { return h.pattern }

// Interval returns the firing interval of a timer handler.
func (h *Handler) Interval() time.Duration { return h.interval }

// Name returns the handler's log name.
func (h *Handler) Name() string { return h.name }

// ParsesCaptures reports whether template captures are merged into data.
func (h *Handler) ParsesCaptures() bool { return h.parse }

// IsAsync reports whether the handler runs on its own goroutine.
func (h *Handler) IsAsync() bool { return h.async }

// PassesSelf reports whether the handler receives the owning agent.
func (h *Handler) PassesSelf() bool { return h.passSelf }

// Requirements returns the feature flags the handler needs.
func (h *Handler) Requirements() []string {
	return append([]string(nil), h.requires...)
}

// Call invokes the handler body.
func (h *Handler) Call(ctx context.Context, self Self, f *frame.Frame) (frame.Data, error) {
	return h.fn(ctx, self, f)
}

func (h *Handler) String() string {
	var b strings.Builder
	b.WriteString(h.name)
	if h.async {
		b.WriteString(" (async)")
	}
	return b.String()
}
