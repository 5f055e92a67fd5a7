// ABOUTME: Tests for the agent runtime: dispatch, lifecycle, states and connections.
// ABOUTME: Uses isolated in-memory networks and a fake transport connection.

package agent

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/handler"
	"github.com/2389/hive/internal/transport"
	"github.com/2389/hive/internal/transport/inmemory"
)

// fakeConn is a transport.Connection recording calls.
type fakeConn struct {
	mu        sync.Mutex
	endpoint  string
	connected bool
	closes    int
	spaces    []string
	sent      []*frame.Frame

	// hold, when set, delays Connect and Join until it is closed.
	hold chan struct{}
	fail error
}

func (c *fakeConn) Connect(_ context.Context, endpoint, _ string) error {
	if c.hold != nil {
		<-c.hold
	}
	if c.fail != nil {
		return c.fail
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint, c.connected = endpoint, true
	return nil
}

func (c *fakeConn) Bind(ctx context.Context, endpoint, auth string) error {
	return c.Connect(ctx, endpoint, auth)
}

func (c *fakeConn) Join(_ context.Context, space string) error {
	if c.hold != nil {
		<-c.hold
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.spaces, space) {
		c.spaces = append(c.spaces, space)
	}
	return nil
}

func (c *fakeConn) Leave(_ context.Context, space string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spaces = slices.DeleteFunc(c.spaces, func(s string) bool { return s == space })
	return nil
}

func (c *fakeConn) Broadcast(_ context.Context, f *frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.connected = false
	return nil
}

func (c *fakeConn) Spaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.spaces)
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) sentNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.sent))
	for i, f := range c.sent {
		names[i] = f.Name()
	}
	return names
}

// fakeDialer hands out fakeConns and remembers them.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	hold  chan struct{}
	fail  error
}

func (d *fakeDialer) dial(string, transport.Receiver, *slog.Logger) (transport.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &fakeConn{hold: d.hold, fail: d.fail}
	d.conns = append(d.conns, c)
	return c, nil
}

func newAgent(t *testing.T, name string, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithStopPollInterval(5 * time.Millisecond)}, opts...)
	a, err := New(name, opts...)
	require.NoError(t, err)
	t.Cleanup(a.Stop)
	return a
}

func counter(n *atomic.Int32) handler.Func {
	return func(context.Context, handler.Self, *frame.Frame) (frame.Data, error) {
		n.Add(1)
		return nil, nil
	}
}

func peerFrame(t *testing.T, kind frame.Kind, name string, opts ...frame.Option) *frame.Frame {
	t.Helper()
	f, err := frame.New(kind, name, append([]frame.Option{frame.WithSource("peer")}, opts...)...)
	require.NoError(t, err)
	return f
}

func TestNewRejectsInvalidName(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, frame.ErrValidation)
}

func TestHandleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "a")
	var hits atomic.Int32
	require.NoError(t, a.OnEvent("hello", counter(&hits)))

	f := peerFrame(t, frame.KindEvent, "hello")
	a.Handle(ctx, f)
	a.Handle(ctx, f)
	assert.Equal(t, int32(1), hits.Load())

	concurrent := peerFrame(t, frame.KindEvent, "hello")
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.HandleFrame(concurrent)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(2), hits.Load())
}

func TestLoopPrevention(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "a")

	var messages, lifecycle atomic.Int32
	require.NoError(t, a.OnMessage("ping", counter(&messages)))
	require.NoError(t, a.OnEvent(LifecycleStarted, counter(&lifecycle)))

	t.Run("own message is not handled", func(t *testing.T) {
		_, err := a.Message(ctx, "ping", nil)
		require.NoError(t, err)
		assert.Zero(t, messages.Load())

		a.Handle(ctx, peerFrame(t, frame.KindMessage, "ping"))
		assert.Equal(t, int32(1), messages.Load())
	})

	t.Run("foreign lifecycle event is dropped", func(t *testing.T) {
		a.Handle(ctx, peerFrame(t, frame.KindEvent, LifecycleStarted))
		assert.Zero(t, lifecycle.Load())

		_, err := a.Emit(ctx, LifecycleStarted, nil, frame.Internal())
		require.NoError(t, err)
		assert.Equal(t, int32(1), lifecycle.Load())
	})
}

func TestPingAcrossAgents(t *testing.T) {
	ctx := context.Background()
	network := inmemory.NewNetwork(nil)
	a := newAgent(t, "a", WithNetwork(network))
	b := newAgent(t, "b", WithNetwork(network))

	var aPings, bPings atomic.Int32
	require.NoError(t, a.OnMessage("ping", counter(&aPings)))
	require.NoError(t, b.OnMessage("ping", counter(&bPings)))

	require.NoError(t, a.Bind(ctx, "inmemory://ping"))
	require.NoError(t, b.Connect(ctx, "inmemory://ping"))
	require.NoError(t, a.Join(ctx, "room"))
	require.NoError(t, b.Join(ctx, "room"))
	assert.Equal(t, []string{"room"}, b.Spaces())

	_, err := a.Message(ctx, "ping", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return bPings.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), bPings.Load())
	assert.Zero(t, aPings.Load())
}

func TestEventEchoIsDeduplicated(t *testing.T) {
	ctx := context.Background()
	network := inmemory.NewNetwork(nil)
	a := newAgent(t, "a", WithNetwork(network))

	var hits atomic.Int32
	require.NoError(t, a.OnEvent("tick", counter(&hits)))
	require.NoError(t, a.Bind(ctx, "inmemory://echo"))
	require.NoError(t, a.Join(ctx, "room"))

	_, err := a.Emit(ctx, "tick", nil)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
}

func TestTimerFiresWithoutFrame(t *testing.T) {
	a := newAgent(t, "clock")

	var fires atomic.Int32
	var sawFrame atomic.Bool
	require.NoError(t, a.OnTimer(20*time.Millisecond, func(_ context.Context, _ handler.Self, f *frame.Frame) (frame.Data, error) {
		if f != nil {
			sawFrame.Store(true)
		}
		fires.Add(1)
		return nil, nil
	}))

	require.NoError(t, a.Start(context.Background()))
	assert.Eventually(t, func() bool { return fires.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, sawFrame.Load())

	a.Stop()
	<-a.Done()
	settled := fires.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, fires.Load())
}

func TestTimerAddedAfterStart(t *testing.T) {
	a := newAgent(t, "late")
	require.NoError(t, a.Start(context.Background()))

	var fires atomic.Int32
	require.NoError(t, a.OnTimer(10*time.Millisecond, counter(&fires)))
	assert.Eventually(t, func() bool { return fires.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestStopTwiceClosesOnce(t *testing.T) {
	ctx := context.Background()
	dialer := &fakeDialer{}
	a := newAgent(t, "a", WithDialer(dialer.dial))

	var stopping, stopped atomic.Int32
	require.NoError(t, a.OnEvent(LifecycleStopping, counter(&stopping)))
	require.NoError(t, a.OnEvent(LifecycleStopped, counter(&stopped)))
	require.NoError(t, a.Connect(ctx, "fake://one"))

	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	require.Eventually(t, func() bool { return a.Phase() == Running }, time.Second, time.Millisecond)

	a.Stop()
	a.Stop()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	assert.Equal(t, 1, dialer.conns[0].closeCount())
	assert.Equal(t, int32(1), stopping.Load())
	assert.Equal(t, int32(1), stopped.Load())
	assert.Equal(t, Stopped, a.Phase())
	assert.Empty(t, a.Endpoints())
	assert.ErrorIs(t, a.Run(ctx), ErrStopped)
	assert.ErrorIs(t, a.Connect(ctx, "fake://two"), ErrStopped)
}

func TestStopBeforeStart(t *testing.T) {
	a := newAgent(t, "idle")
	a.Stop()
	assert.Equal(t, Stopped, a.Phase())
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed")
	}
	assert.ErrorIs(t, a.Start(context.Background()), ErrStopped)
}

func TestContextCancelStopsAgent(t *testing.T) {
	a := newAgent(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	assert.ErrorIs(t, a.Start(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("agent did not stop after context cancel")
	}
	assert.True(t, a.ShouldStop())
	running, _ := a.GetState(StateRunning)
	assert.Equal(t, false, running)
}

func TestRunInThread(t *testing.T) {
	a := newAgent(t, "threaded")
	var started atomic.Int32
	require.NoError(t, a.OnEvent(LifecycleStarted, counter(&started)))

	errc := a.RunInThread(context.Background())
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	a.Stop()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("threaded run did not return")
	}
}

func TestTemplateCaptures(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "a")

	var topics []string
	var mu sync.Mutex
	require.NoError(t, a.OnMessage("help {topic}", func(_ context.Context, _ handler.Self, f *frame.Frame) (frame.Data, error) {
		mu.Lock()
		defer mu.Unlock()
		topics = append(topics, f.GetString("topic"))
		return nil, nil
	}, handler.Parse()))

	for _, name := range []string{"help pricing", "help", "help a b"} {
		a.Handle(ctx, peerFrame(t, frame.KindMessage, name))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pricing"}, topics)
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "a")

	var order []string
	record := func(label string) handler.Func {
		return func(context.Context, handler.Self, *frame.Frame) (frame.Data, error) {
			order = append(order, label)
			return nil, nil
		}
	}
	require.NoError(t, a.OnEvent("*", record("wildcard")))
	require.NoError(t, a.OnEvent("deploy {env}", record("template")))
	require.NoError(t, a.OnEvent("deploy prod", record("exact")))

	a.Handle(ctx, peerFrame(t, frame.KindEvent, "deploy prod"))
	assert.Equal(t, []string{"wildcard", "template", "exact"}, order)
}

func TestHandlerFailuresAreContained(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "a")

	var after atomic.Int32
	require.NoError(t, a.OnEvent("boom", func(context.Context, handler.Self, *frame.Frame) (frame.Data, error) {
		panic("kaboom")
	}))
	require.NoError(t, a.OnEvent("boom", func(context.Context, handler.Self, *frame.Frame) (frame.Data, error) {
		return frame.Data{"ignored": true}, assert.AnError
	}))
	require.NoError(t, a.OnEvent("*", counter(&after)))

	var responses atomic.Int32
	require.NoError(t, a.OnResponse("*", counter(&responses)))

	assert.NotPanics(t, func() {
		a.Handle(ctx, peerFrame(t, frame.KindEvent, "boom"))
		a.Handle(ctx, peerFrame(t, frame.KindEvent, "boom"))
	})
	assert.Equal(t, int32(2), after.Load())
	assert.Zero(t, responses.Load())
}

func TestReturnValueBecomesResponse(t *testing.T) {
	ctx := context.Background()
	dialer := &fakeDialer{}
	a := newAgent(t, "a", WithDialer(dialer.dial))
	require.NoError(t, a.Connect(ctx, "fake://x"))

	require.NoError(t, a.OnEvent("ask", func(context.Context, handler.Self, *frame.Frame) (frame.Data, error) {
		return frame.Data{"answer": 42}, nil
	}))
	require.NoError(t, a.OnRequest("ask", func(context.Context, handler.Self, *frame.Frame) (frame.Data, error) {
		return frame.Data{"answer": 43}, nil
	}))

	replies := make(chan *frame.Frame, 4)
	require.NoError(t, a.OnResponse("ask", func(_ context.Context, _ handler.Self, f *frame.Frame) (frame.Data, error) {
		replies <- f
		return nil, nil
	}))

	event := peerFrame(t, frame.KindEvent, "ask")
	a.Handle(ctx, event)
	reply := <-replies
	assert.Equal(t, event.ID(), reply.ReplyTo())
	assert.True(t, reply.Internal())
	assert.Equal(t, "a", reply.Source())

	request := peerFrame(t, frame.KindRequest, "ask")
	a.Handle(ctx, request)
	reply = <-replies
	assert.Equal(t, request.ID(), reply.ReplyTo())
	assert.False(t, reply.Internal())

	// Only the reply to the request reaches the wire.
	assert.Equal(t, []string{"ask"}, dialer.conns[0].sentNames())
}

func TestAsyncHandlerQueuedUntilStart(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "a")

	var hits atomic.Int32
	require.NoError(t, a.OnEvent("later", counter(&hits), handler.Async()))

	a.Handle(ctx, peerFrame(t, frame.KindEvent, "later"))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, hits.Load())

	require.NoError(t, a.Start(ctx))
	assert.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAsyncHandlerResponds(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "a")
	require.NoError(t, a.Start(ctx))

	require.NoError(t, a.OnEvent("slow", func(context.Context, handler.Self, *frame.Frame) (frame.Data, error) {
		time.Sleep(10 * time.Millisecond)
		return frame.Data{"done": true}, nil
	}, handler.Async()))
	var responses atomic.Int32
	require.NoError(t, a.OnResponse("slow", counter(&responses)))

	a.Handle(ctx, peerFrame(t, frame.KindEvent, "slow"))
	assert.Eventually(t, func() bool { return responses.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPassSelf(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "a")

	var pongs atomic.Int32
	require.NoError(t, a.OnEvent("ping", func(ctx context.Context, self handler.Self, _ *frame.Frame) (frame.Data, error) {
		_, err := self.Emit(ctx, "pong", nil, frame.Internal())
		return nil, err
	}, handler.PassSelf()))
	require.NoError(t, a.OnEvent("pong", func(_ context.Context, self handler.Self, _ *frame.Frame) (frame.Data, error) {
		assert.Nil(t, self)
		pongs.Add(1)
		return nil, nil
	}))

	a.Handle(ctx, peerFrame(t, frame.KindEvent, "ping"))
	assert.Equal(t, int32(1), pongs.Load())
}

func TestCall(t *testing.T) {
	ctx := context.Background()
	network := inmemory.NewNetwork(nil)
	client := newAgent(t, "client", WithNetwork(network))
	server := newAgent(t, "server", WithNetwork(network))

	require.NoError(t, server.OnRequest("add", func(_ context.Context, _ handler.Self, f *frame.Frame) (frame.Data, error) {
		x, _ := f.Get("x")
		y, _ := f.Get("y")
		return frame.Data{"sum": x.(float64) + y.(float64)}, nil
	}))

	require.NoError(t, server.Bind(ctx, "inmemory://rpc"))
	require.NoError(t, client.Connect(ctx, "inmemory://rpc"))
	require.NoError(t, server.Join(ctx, "rpc"))
	require.NoError(t, client.Join(ctx, "rpc"))

	callCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	resp, err := client.Call(callCtx, "add", frame.Data{"x": 2, "y": 3})
	require.NoError(t, err)
	sum, ok := resp.Get("sum")
	require.True(t, ok)
	assert.Equal(t, float64(5), sum)
	assert.Equal(t, "server", resp.Source())

	t.Run("times out without responder", func(t *testing.T) {
		shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()
		_, err := client.Call(shortCtx, "nobody-home", nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Zero(t, client.pending.len())
	})
}

func TestSetState(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "a")

	type change struct{ value, last any }
	var changes []change
	require.NoError(t, a.OnState("mood", func(_ context.Context, _ handler.Self, f *frame.Frame) (frame.Data, error) {
		value, _ := f.Get("value")
		last, _ := f.Get("last")
		changes = append(changes, change{value, last})
		return nil, nil
	}))

	require.NoError(t, a.SetState(ctx, "mood", "happy"))
	require.NoError(t, a.SetState(ctx, "mood", "sad"))
	assert.Equal(t, []change{{"happy", nil}, {"sad", "happy"}}, changes)

	v, ok := a.GetState("mood")
	require.True(t, ok)
	assert.Equal(t, "sad", v)
	assert.ErrorIs(t, a.SetState(ctx, "", 1), frame.ErrValidation)
}

func TestShouldStopClosesOnEdgeOnly(t *testing.T) {
	ctx := context.Background()
	dialer := &fakeDialer{}
	a := newAgent(t, "a", WithDialer(dialer.dial))
	require.NoError(t, a.Connect(ctx, "fake://x"))

	require.NoError(t, a.SetState(ctx, StateShouldStop, false))
	assert.Zero(t, dialer.conns[0].closeCount())

	require.NoError(t, a.SetState(ctx, StateShouldStop, true))
	require.NoError(t, a.SetState(ctx, StateShouldStop, true))
	assert.Equal(t, 1, dialer.conns[0].closeCount())
}

func TestConnectionTags(t *testing.T) {
	ctx := context.Background()
	dialer := &fakeDialer{}
	a := newAgent(t, "a", WithDialer(dialer.dial))

	require.NoError(t, a.Connect(ctx, "fake://one"))
	require.NoError(t, a.Connect(ctx, "fake://two", WithTag("ops"), WithAuth("token")))
	one, two := dialer.conns[0], dialer.conns[1]

	require.NoError(t, a.Join(ctx, "all"))
	require.NoError(t, a.Join(ctx, "ops-only", "ops"))
	assert.Equal(t, []string{"all"}, one.Spaces())
	assert.Equal(t, []string{"all", "ops-only"}, two.Spaces())
	assert.Equal(t, []string{"all", "ops-only"}, a.Spaces())

	require.NoError(t, a.Leave(ctx, "all", DefaultTag))
	assert.Empty(t, one.Spaces())
	assert.Equal(t, []string{"all", "ops-only"}, two.Spaces())

	err := a.Close(CloseEndpoint("fake://one"), CloseTags("ops"))
	assert.ErrorIs(t, err, frame.ErrValidation)
	assert.Len(t, a.Endpoints(), 2)

	require.NoError(t, a.Close(CloseTags("ops")))
	assert.Equal(t, 1, two.closeCount())
	assert.Zero(t, one.closeCount())
	assert.Equal(t, []string{"fake://one"}, a.Endpoints())

	require.NoError(t, a.Close(CloseEndpoint("FAKE://one")))
	assert.Equal(t, 1, one.closeCount())
	assert.Empty(t, a.Endpoints())

	assert.ErrorIs(t, a.Join(ctx, "room"), transport.ErrNotConnected)
}

func TestJoinWhileConnecting(t *testing.T) {
	ctx := context.Background()
	dialer := &fakeDialer{hold: make(chan struct{})}
	a := newAgent(t, "a", WithDialer(dialer.dial))

	connected := make(chan error, 1)
	go func() { connected <- a.Connect(ctx, "fake://slow") }()
	require.Eventually(t, func() bool { return len(a.Endpoints()) == 1 }, time.Second, time.Millisecond)

	joined := make(chan error, 1)
	go func() { joined <- a.Join(ctx, "room") }()
	close(dialer.hold)

	for _, errc := range []chan error{connected, joined} {
		select {
		case err := <-errc:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("connect or join did not return")
		}
	}
	assert.Equal(t, []string{"room"}, a.Spaces())
	assert.Equal(t, []string{"fake://slow"}, a.Endpoints())
}

func TestFailedConnectIsNotKept(t *testing.T) {
	ctx := context.Background()
	refused := errors.New("connection refused")
	dialer := &fakeDialer{fail: refused}
	a := newAgent(t, "a", WithDialer(dialer.dial))

	assert.ErrorIs(t, a.Connect(ctx, "fake://down"), refused)
	assert.Empty(t, a.Endpoints())
	assert.Equal(t, 1, dialer.conns[0].closeCount())
	assert.ErrorIs(t, a.Join(ctx, "room"), transport.ErrNotConnected)
}

func TestFeatureFlagFilter(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, "a")
	a.AddFilter(handler.FeatureFlags(func(flag string) bool { return flag == "beta" }))

	var beta, gamma atomic.Int32
	require.NoError(t, a.OnEvent("x", counter(&beta), handler.Requires("beta")))
	require.NoError(t, a.OnEvent("x", counter(&gamma), handler.Requires("gamma")))

	a.Handle(ctx, peerFrame(t, frame.KindEvent, "x"))
	assert.Equal(t, int32(1), beta.Load())
	assert.Zero(t, gamma.Load())
}

func TestUnsupportedScheme(t *testing.T) {
	a := newAgent(t, "a")
	err := a.Connect(context.Background(), "carrier-pigeon://coop")
	assert.ErrorIs(t, err, transport.ErrUnsupportedScheme)
	assert.ErrorIs(t, err, frame.ErrValidation)
}
