// ABOUTME: Tests for multi-agent wiring over in-memory and redis transports.
// ABOUTME: Verifies topology setup, cross-agent delivery and stop propagation.

package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hive/internal/agent"
	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/handler"
	"github.com/2389/hive/internal/transport/inmemory"
)

func newAgents(t *testing.T, network *inmemory.Network, names ...string) []*agent.Agent {
	t.Helper()
	agents := make([]*agent.Agent, len(names))
	for i, name := range names {
		a, err := agent.New(name,
			agent.WithNetwork(network),
			agent.WithStopPollInterval(5*time.Millisecond))
		require.NoError(t, err)
		agents[i] = a
	}
	return agents
}

func counter(n *atomic.Int32) handler.Func {
	return func(context.Context, handler.Self, *frame.Frame) (frame.Data, error) {
		n.Add(1)
		return nil, nil
	}
}

func runInBackground(t *testing.T, run func() error) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- run() }()
	return errc
}

func waitRunning(t *testing.T, agents []*agent.Agent) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, a := range agents {
			if a.Phase() != agent.Running {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not return")
		return nil
	}
}

func TestInMemoryTopology(t *testing.T) {
	ctx := context.Background()
	network := inmemory.NewNetwork(nil)
	agents := newAgents(t, network, "first", "middle", "last")
	first, middle, last := agents[0], agents[1], agents[2]

	var middlePings, lastPings atomic.Int32
	require.NoError(t, middle.OnMessage("ping", counter(&middlePings)))
	require.NoError(t, last.OnMessage("ping", counter(&lastPings)))

	errc := runInBackground(t, func() error {
		return RunAgents(ctx, agents, "inmemory://hive", "lobby", nil)
	})
	waitRunning(t, agents)

	assert.Equal(t, 1, network.Hubs())
	for _, a := range agents {
		assert.Equal(t, []string{"lobby"}, a.Spaces())
	}

	_, err := first.Message(ctx, "ping", nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return middlePings.Load() == 1 && lastPings.Load() == 1
	}, time.Second, 5*time.Millisecond)

	last.Stop()
	require.NoError(t, waitErr(t, errc))
	for _, a := range agents {
		assert.Equal(t, agent.Stopped, a.Phase(), a.Name())
	}
	assert.Equal(t, 0, network.Hubs())
}

func TestStoppingNonLastAgentDoesNotPropagate(t *testing.T) {
	ctx := context.Background()
	agents := newAgents(t, inmemory.NewNetwork(nil), "a", "b", "c")

	errc := runInBackground(t, func() error {
		return RunAgents(ctx, agents, "inmemory://solo", "room", nil)
	})
	waitRunning(t, agents)

	agents[0].Stop()
	<-agents[0].Done()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, agent.Running, agents[1].Phase())
	assert.Equal(t, agent.Running, agents[2].Phase())

	agents[2].Stop()
	require.NoError(t, waitErr(t, errc))
	assert.Equal(t, agent.Stopped, agents[1].Phase())
}

func TestSingleAgent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	network := inmemory.NewNetwork(nil)
	agents := newAgents(t, network, "lonely")

	var started atomic.Int32
	require.NoError(t, agents[0].OnEvent(agent.LifecycleStarted, counter(&started)))

	errc := runInBackground(t, func() error {
		return RunAgents(ctx, agents, "inmemory://one", "room", nil)
	})
	waitRunning(t, agents)
	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, []string{"inmemory://one"}, agents[0].Endpoints())

	cancel()
	require.NoError(t, waitErr(t, errc))
	assert.Equal(t, agent.Stopped, agents[0].Phase())
}

func TestBrokerTopology(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	agents := newAgents(t, nil, "alpha", "beta")

	var pongs atomic.Int32
	require.NoError(t, agents[1].OnMessage("ping", func(ctx context.Context, self handler.Self, _ *frame.Frame) (frame.Data, error) {
		_, err := self.Message(ctx, "pong", nil)
		return nil, err
	}, handler.PassSelf()))
	require.NoError(t, agents[0].OnMessage("pong", counter(&pongs)))

	errc := runInBackground(t, func() error {
		return RunAgents(ctx, agents, "redis://"+mr.Addr(), "hive", nil)
	})
	waitRunning(t, agents)

	_, err := agents[0].Message(ctx, "ping", nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return pongs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	agents[1].Stop()
	require.NoError(t, waitErr(t, errc))
	assert.Equal(t, agent.Stopped, agents[0].Phase())
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no agents", func(t *testing.T) {
		assert.ErrorIs(t, New(nil).Run(ctx, "inmemory://x", "room"), ErrNoAgents)
	})

	t.Run("duplicate names", func(t *testing.T) {
		o := New(nil)
		agents := newAgents(t, inmemory.NewNetwork(nil), "twin", "twin")
		require.NoError(t, o.Register(agents[0]))
		assert.ErrorIs(t, o.Register(agents[1]), ErrAgentAlreadyRegistered)
		got, ok := o.Get("twin")
		require.True(t, ok)
		assert.Same(t, agents[0], got)
		assert.Len(t, o.List(), 1)
	})

	t.Run("invalid space", func(t *testing.T) {
		agents := newAgents(t, inmemory.NewNetwork(nil), "a")
		err := RunAgents(ctx, agents, "inmemory://x", "", nil)
		assert.ErrorIs(t, err, frame.ErrValidation)
	})

	t.Run("setup failure stops every agent", func(t *testing.T) {
		agents := newAgents(t, inmemory.NewNetwork(nil), "a", "b")
		err := RunAgents(ctx, agents, "carrier-pigeon://coop", "room", nil)
		require.Error(t, err)
		for _, a := range agents {
			assert.Equal(t, agent.Stopped, a.Phase())
		}
	})
}
