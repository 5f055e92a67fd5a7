// ABOUTME: Tracks a group of agents and runs them on a shared endpoint and space.
// ABOUTME: Chooses bind/connect per topology and propagates the last agent's shutdown.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/2389/hive/internal/agent"
	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/handler"
	"github.com/2389/hive/internal/transport"
)

// ErrAgentAlreadyRegistered indicates an agent with the same name is already in the group.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// ErrNoAgents indicates Run was called on an empty group.
var ErrNoAgents = errors.New("no agents to run")

// Orchestrator runs a group of agents in registration order.
type Orchestrator struct {
	agents map[string]*agent.Agent
	order  []*agent.Agent
	mu     sync.RWMutex
	logger *slog.Logger
}

// New creates an empty orchestrator. Pass nil logger for default.
func New(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		agents: make(map[string]*agent.Agent),
		logger: logger.With("component", "orchestrator"),
	}
}

// Register adds an agent. The last registered agent is the one whose Run
// blocks in Run.
func (o *Orchestrator) Register(a *agent.Agent) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.agents[a.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrAgentAlreadyRegistered, a.Name())
	}
	o.agents[a.Name()] = a
	o.order = append(o.order, a)
	o.logger.Info("=== AGENT REGISTERED ===",
		"name", a.Name(),
		"total_agents", len(o.order),
	)
	return nil
}

// Get returns an agent by name.
func (o *Orchestrator) Get(name string) (*agent.Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.agents[name]
	return a, ok
}

// List returns the agents in registration order.
func (o *Orchestrator) List() []*agent.Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*agent.Agent, len(o.order))
	copy(out, o.order)
	return out
}

// Run connects every registered agent to endpoint, joins space and blocks
// in the last agent's Run. Every agent is stopped before Run returns.
func (o *Orchestrator) Run(ctx context.Context, endpoint, space string, opts ...agent.ConnectOption) error {
	agents := o.List()
	if len(agents) == 0 {
		return ErrNoAgents
	}
	endpoint, err := transport.NormalizeEndpoint(endpoint)
	if err != nil {
		return err
	}
	if err := frame.ValidateName(space); err != nil {
		return fmt.Errorf("space: %w", err)
	}

	last := agents[len(agents)-1]
	others := agents[:len(agents)-1]

	if len(others) > 0 {
		if err := last.OnEvent(agent.LifecycleStopping, stopAll(others, o.logger)); err != nil {
			return err
		}
	}

	if err := o.setup(ctx, agents, endpoint, space, opts); err != nil {
		for _, a := range agents {
			a.Stop()
		}
		return err
	}

	o.logger.Info("running agents",
		"endpoint", endpoint,
		"space", space,
		"agents", len(agents),
		"blocking", last.Name(),
	)
	runErr := last.Run(ctx)

	for _, a := range others {
		a.Stop()
		<-a.Done()
	}
	return runErr
}

// setup attaches agents per topology. Every agent but the last is started.
func (o *Orchestrator) setup(ctx context.Context, agents []*agent.Agent, endpoint, space string, opts []agent.ConnectOption) error {
	join := func(a *agent.Agent, bind bool) error {
		var err error
		if bind {
			err = a.Bind(ctx, endpoint, opts...)
		} else {
			err = a.Connect(ctx, endpoint, opts...)
		}
		if err != nil {
			return fmt.Errorf("agent %s: %w", a.Name(), err)
		}
		if err := a.Join(ctx, space); err != nil {
			return fmt.Errorf("agent %s: %w", a.Name(), err)
		}
		return nil
	}

	if len(agents) == 1 {
		return join(agents[0], false)
	}

	rest := agents
	if transport.Scheme(endpoint) == transport.SchemeInMemory {
		first := agents[0]
		if err := first.Start(ctx); err != nil {
			return fmt.Errorf("agent %s: %w", first.Name(), err)
		}
		if err := join(first, true); err != nil {
			return err
		}
		rest = agents[1:]
	}

	var g errgroup.Group
	for _, a := range rest {
		g.Go(func() error { return join(a, false) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, a := range rest[:len(rest)-1] {
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("agent %s: %w", a.Name(), err)
		}
	}
	return nil
}

// stopAll returns a handler stopping every agent in others.
func stopAll(others []*agent.Agent, logger *slog.Logger) handler.Func {
	return func(context.Context, handler.Self, *frame.Frame) (frame.Data, error) {
		for _, a := range others {
			logger.Debug("propagating stop", "agent", a.Name())
			a.Stop()
		}
		return nil, nil
	}
}

// RunAgents registers agents on a fresh orchestrator and runs them.
func RunAgents(ctx context.Context, agents []*agent.Agent, endpoint, space string, logger *slog.Logger, opts ...agent.ConnectOption) error {
	o := New(logger)
	for _, a := range agents {
		if err := o.Register(a); err != nil {
			return err
		}
	}
	return o.Run(ctx, endpoint, space, opts...)
}
