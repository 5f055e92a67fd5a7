// ABOUTME: Tests for the redis transport against an in-process miniredis.
// ABOUTME: Verifies the resubscribe cycle, delivery, auth and connect errors.

package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/transport"
)

type sink struct {
	mu     sync.Mutex
	frames []*frame.Frame
}

func (s *sink) HandleFrame(f *frame.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func numSub(t *testing.T, mr *miniredis.Miniredis, channel string) int64 {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()
	counts, err := client.PubSubNumSub(context.Background(), channel).Result()
	require.NoError(t, err)
	return counts[channel]
}

func encode(t *testing.T, name string) (*frame.Frame, string) {
	t.Helper()
	f, err := frame.New(frame.KindEvent, name, frame.WithSource("tester"))
	require.NoError(t, err)
	payload, err := frame.Encode(f)
	require.NoError(t, err)
	return f, string(payload)
}

func TestJoinResubscribesToFullSet(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := &sink{}
	c := New(s, nil)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Connect(ctx, "redis://"+mr.Addr(), ""))
	require.NoError(t, c.Join(ctx, "room1"))
	require.NoError(t, c.Join(ctx, "room2"))
	assert.Equal(t, []string{"room1", "room2"}, c.Spaces())

	// The handle from the first join is closed, leaving one subscriber.
	assert.Eventually(t, func() bool {
		return numSub(t, mr, "room1") == 1 && numSub(t, mr, "room2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	f, payload := encode(t, "hello")
	mr.Publish("room1", payload)
	assert.Eventually(t, func() bool { return s.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, s.count())
	s.mu.Lock()
	assert.Equal(t, f.ID(), s.frames[0].ID())
	s.mu.Unlock()

	_, payload = encode(t, "second")
	mr.Publish("room2", payload)
	assert.Eventually(t, func() bool { return s.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestLeaveDropsChannel(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := &sink{}
	c := New(s, nil)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Connect(ctx, "redis://"+mr.Addr(), ""))
	require.NoError(t, c.Join(ctx, "room1"))
	require.NoError(t, c.Join(ctx, "room2"))
	require.NoError(t, c.Leave(ctx, "room1"))
	require.NoError(t, c.Leave(ctx, "unknown"))

	assert.Eventually(t, func() bool {
		return numSub(t, mr, "room1") == 0 && numSub(t, mr, "room2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Leave(ctx, "room2"))
	assert.Eventually(t, func() bool { return numSub(t, mr, "room2") == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, c.Spaces())
}

func TestBroadcastRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	endpoint := "redis://" + mr.Addr()

	aSink, bSink := &sink{}, &sink{}
	a := New(aSink, nil)
	b := New(bSink, nil)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	require.NoError(t, a.Connect(ctx, endpoint, ""))
	require.NoError(t, b.Connect(ctx, endpoint, ""))
	require.NoError(t, a.Join(ctx, "lobby"))
	require.NoError(t, b.Join(ctx, "lobby"))

	f, err := frame.New(frame.KindMessage, "ping",
		frame.WithSource("a"),
		frame.WithData(frame.Data{"n": float64(1)}))
	require.NoError(t, err)
	require.NoError(t, a.Broadcast(ctx, f))

	assert.Eventually(t, func() bool { return bSink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	bSink.mu.Lock()
	got := bSink.frames[0]
	bSink.mu.Unlock()
	assert.True(t, f.Same(got))
	n, ok := got.Get("n")
	require.True(t, ok)
	assert.Equal(t, float64(1), n)

	internal, err := frame.New(frame.KindEvent, "local", frame.Internal())
	require.NoError(t, err)
	assert.ErrorIs(t, a.Broadcast(ctx, internal), frame.ErrInternalFrame)
}

func TestJoinBeforeConnect(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := New(&sink{}, nil, WithPollInterval(5*time.Millisecond))
	t.Cleanup(func() { _ = c.Close() })

	joined := make(chan error, 1)
	go func() { joined <- c.Join(ctx, "early") }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Connect(ctx, "redis://"+mr.Addr(), ""))

	select {
	case err := <-joined:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("join did not complete after connect")
	}
	assert.Eventually(t, func() bool { return numSub(t, mr, "early") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestJoinTimesOutWithoutConnect(t *testing.T) {
	c := New(&sink{}, nil,
		WithJoinTimeout(30*time.Millisecond),
		WithPollInterval(5*time.Millisecond))

	err := c.Join(context.Background(), "lonely")
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.Equal(t, []string{"lonely"}, c.Spaces())
}

func TestConnectErrors(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	t.Run("wrong scheme", func(t *testing.T) {
		c := New(&sink{}, nil)
		err := c.Connect(ctx, "inmemory://x", "")
		assert.ErrorIs(t, err, transport.ErrInvalidEndpoint)
		assert.ErrorIs(t, err, frame.ErrValidation)
	})

	t.Run("missing port", func(t *testing.T) {
		c := New(&sink{}, nil)
		assert.ErrorIs(t, c.Connect(ctx, "redis://localhost", ""), transport.ErrInvalidEndpoint)
	})

	t.Run("already connected", func(t *testing.T) {
		c := New(&sink{}, nil)
		defer c.Close()
		require.NoError(t, c.Connect(ctx, "redis://"+mr.Addr(), ""))
		assert.ErrorIs(t, c.Connect(ctx, "redis://"+mr.Addr(), ""), transport.ErrAlreadyConnected)
	})

	t.Run("after close", func(t *testing.T) {
		c := New(&sink{}, nil)
		require.NoError(t, c.Close())
		assert.ErrorIs(t, c.Connect(ctx, "redis://"+mr.Addr(), ""), transport.ErrClosed)
	})
}

func TestAuth(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")
	endpoint := "redis://" + mr.Addr()

	bad := New(&sink{}, nil)
	assert.Error(t, bad.Connect(ctx, endpoint, "wrong"))
	assert.False(t, bad.Connected())

	good := New(&sink{}, nil)
	defer good.Close()
	require.NoError(t, good.Connect(ctx, endpoint, "s3cret"))
	assert.True(t, good.Connected())
}

func TestCloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := &sink{}
	c := New(s, nil)

	require.NoError(t, c.Connect(ctx, "redis://"+mr.Addr(), ""))
	require.NoError(t, c.Join(ctx, "room"))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.Connected())

	assert.Eventually(t, func() bool { return numSub(t, mr, "room") == 0 }, 2*time.Second, 10*time.Millisecond)
	_, payload := encode(t, "late")
	mr.Publish("room", payload)
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, s.count())

	f, err := frame.New(frame.KindEvent, "late")
	require.NoError(t, err)
	assert.ErrorIs(t, c.Broadcast(ctx, f), transport.ErrNotConnected)
}
