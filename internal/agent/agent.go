// ABOUTME: Agent type, construction options and lifecycle phases.
// ABOUTME: Owns the handler registry, timer registry, dedup set and connections.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/hive/internal/dedupe"
	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/handler"
	"github.com/2389/hive/internal/timer"
	"github.com/2389/hive/internal/transport/inmemory"
	"github.com/2389/hive/internal/transport/redis"
)

// Lifecycle event names. They are always internal.
const (
	LifecycleStarted  = frame.LifecyclePrefix + " started"
	LifecycleStopping = frame.LifecyclePrefix + " stopping"
	LifecycleStopped  = frame.LifecyclePrefix + " stopped"
)

// Built-in state names.
const (
	StateRunning    = "running"
	StateShouldStop = "should_stop"
)

// DefaultStopPollInterval is how often a running agent checks should_stop.
const DefaultStopPollInterval = time.Second

// Phase is the agent's lifecycle position.
type Phase int32

const (
	Created Phase = iota
	Running
	Stopping
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithDialer replaces the connection factory used by Connect and Bind.
func WithDialer(d Dialer) Option {
	return func(a *Agent) { a.dialer = d }
}

// WithNetwork sets the in-process network for inmemory:// endpoints.
func WithNetwork(n *inmemory.Network) Option {
	return func(a *Agent) { a.network = n }
}

// WithStopPollInterval overrides DefaultStopPollInterval.
func WithStopPollInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.stopPoll = d
		}
	}
}

// WithJoinTimeout bounds how long broker joins wait for a pending connect.
func WithJoinTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.joinTimeout = d
		}
	}
}

// WithDedupe tunes the dedup set.
func WithDedupe(opts ...dedupe.Option) Option {
	return func(a *Agent) { a.dedupeOpts = append(a.dedupeOpts, opts...) }
}

// Agent is a named participant exchanging frames over connections.
type Agent struct {
	name        string
	logger      *slog.Logger
	registry    *handler.Registry
	timers      *timer.Registry
	seen        *dedupe.Set
	dedupeOpts  []dedupe.Option
	pending     *pendingCalls
	dialer      Dialer
	network     *inmemory.Network
	stopPoll    time.Duration
	joinTimeout time.Duration

	stopping atomic.Bool
	phase    atomic.Int32

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	queue  []func(ctx context.Context)
	done   chan struct{}
	states map[string]any
	conns  []*taggedConn
}

var _ handler.Self = (*Agent)(nil)

// New creates an agent. The name must be a valid frame name.
func New(name string, opts ...Option) (*Agent, error) {
	if err := frame.ValidateName(name); err != nil {
		return nil, fmt.Errorf("agent name: %w", err)
	}

	a := &Agent{
		name:        name,
		logger:      slog.Default(),
		stopPoll:    DefaultStopPollInterval,
		joinTimeout: redis.DefaultJoinTimeout,
		done:        make(chan struct{}),
		states: map[string]any{
			StateRunning:    false,
			StateShouldStop: false,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "agent", "agent", name)
	a.registry = handler.NewRegistry(a.logger)
	a.timers = timer.NewRegistry(a.trigger, a.logger)
	a.seen = dedupe.New(a.dedupeOpts...)
	a.pending = newPendingCalls(a.logger)
	if a.dialer == nil {
		a.dialer = DefaultDialer(a.network, a.joinTimeout)
	}

	if err := a.OnState(StateShouldStop, a.onShouldStop, handler.Named("builtin:should_stop")); err != nil {
		return nil, err
	}
	return a, nil
}

// Name returns the agent's name, used as the source of every frame it sends.
func (a *Agent) Name() string { return a.name }

// Phase returns the current lifecycle phase.
func (a *Agent) Phase() Phase { return Phase(a.phase.Load()) }

// Done is closed once the agent reaches Stopped.
func (a *Agent) Done() <-chan struct{} { return a.done }

// GetState returns a state value set with SetState.
func (a *Agent) GetState(name string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.states[name]
	return v, ok
}

// ShouldStop reports whether Stop has been requested.
func (a *Agent) ShouldStop() bool {
	v, _ := a.GetState(StateShouldStop)
	b, _ := v.(bool)
	return b
}
