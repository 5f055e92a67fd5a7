// ABOUTME: Redis pub/sub Connection with separate publisher and subscriber clients.
// ABOUTME: Join and Leave converge the subscription by a full resubscribe cycle.

package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/transport"
)

const (
	// DefaultJoinTimeout bounds how long Join waits for Connect to finish.
	DefaultJoinTimeout = 10 * time.Second
	// DefaultPollInterval is how often Join re-checks the connected flag.
	DefaultPollInterval = 100 * time.Millisecond
)

// Option configures a Connection.
type Option func(*Connection)

// WithJoinTimeout overrides DefaultJoinTimeout.
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.joinTimeout = d
		}
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// Connection publishes and subscribes through a redis broker.
type Connection struct {
	receiver     transport.Receiver
	spaces       *transport.SpaceSet
	logger       *slog.Logger
	joinTimeout  time.Duration
	pollInterval time.Duration
	connected    atomic.Bool

	mu         sync.Mutex
	endpoint   string
	closed     bool
	publisher  *goredis.Client
	subscriber *goredis.Client

	// subMu serializes resubscribe cycles and guards pubsub/cancel.
	subMu  sync.Mutex
	pubsub *goredis.PubSub
	cancel context.CancelFunc
}

var _ transport.Connection = (*Connection)(nil)

// New creates an unconnected redis connection delivering to receiver.
func New(receiver transport.Receiver, logger *slog.Logger, opts ...Option) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		receiver:     receiver,
		spaces:       transport.NewSpaceSet(),
		logger:       logger.With("component", "redis"),
		joinTimeout:  DefaultJoinTimeout,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the broker at endpoint. auth, if set, is sent as the
// redis password; the broker rejects a mismatch and that error is returned
// as-is.
func (c *Connection) Connect(ctx context.Context, endpoint, auth string) error {
	addr, err := transport.HostPort(endpoint, transport.SchemeRedis)
	if err != nil {
		return err
	}
	endpoint, _ = transport.NormalizeEndpoint(endpoint)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	if c.publisher != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", transport.ErrAlreadyConnected, c.endpoint)
	}

	publisher := goredis.NewClient(&goredis.Options{Addr: addr, Password: auth})
	subscriber := goredis.NewClient(&goredis.Options{Addr: addr, Password: auth})
	for _, client := range []*goredis.Client{publisher, subscriber} {
		if err := client.Ping(ctx).Err(); err != nil {
			_ = publisher.Close()
			_ = subscriber.Close()
			c.mu.Unlock()
			return fmt.Errorf("connect %s: %w", endpoint, err)
		}
	}

	c.endpoint = endpoint
	c.publisher = publisher
	c.subscriber = subscriber
	c.connected.Store(true)
	c.mu.Unlock()

	c.logger.Info("connected", "endpoint", endpoint)

	if len(c.spaces.List()) > 0 {
		return c.resubscribe(ctx)
	}
	return nil
}

// Bind is Connect: the broker is external, so there is nothing to serve.
func (c *Connection) Bind(ctx context.Context, endpoint, auth string) error {
	return c.Connect(ctx, endpoint, auth)
}

// Join adds space and resubscribes to the full joined set. If the
// connection is not up yet, Join waits up to the join timeout; on timeout
// the space stays recorded and Connect subscribes it later.
func (c *Connection) Join(ctx context.Context, space string) error {
	if _, err := c.spaces.Add(space); err != nil {
		return err
	}
	c.logger.Info("joining", "space", space)
	return c.resubscribe(ctx)
}

// Leave removes space and resubscribes. Leaving an unknown space is a no-op.
func (c *Connection) Leave(ctx context.Context, space string) error {
	if !c.spaces.Remove(space) {
		return nil
	}
	c.logger.Info("leaving", "space", space)
	return c.resubscribe(ctx)
}

func (c *Connection) resubscribe(ctx context.Context) error {
	if err := c.waitConnected(ctx); err != nil {
		return err
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	subscriber := c.subscriber
	c.mu.Unlock()
	if subscriber == nil {
		return transport.ErrNotConnected
	}

	spaces := c.spaces.List()
	var fresh *goredis.PubSub
	if len(spaces) > 0 {
		fresh = subscriber.Subscribe(ctx, spaces...)
		if _, err := fresh.Receive(ctx); err != nil {
			_ = fresh.Close()
			return fmt.Errorf("subscribe %v: %w", spaces, err)
		}
	}

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.pubsub != nil {
		if err := c.pubsub.Close(); err != nil {
			c.logger.Debug("closing previous subscription", "error", err)
		}
	}
	c.pubsub = fresh
	if fresh == nil {
		return nil
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.listen(listenCtx, fresh)

	c.logger.Debug("subscribed", "spaces", spaces)
	return nil
}

func (c *Connection) waitConnected(ctx context.Context) error {
	deadline := time.Now().Add(c.joinTimeout)
	for !c.connected.Load() {
		if c.isClosed() {
			return transport.ErrClosed
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: gave up after %s", transport.ErrNotConnected, c.joinTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
	return nil
}

// listen forwards messages from ps until it is cancelled, the handle
// closes, or the connection drops.
func (c *Connection) listen(ctx context.Context, ps *goredis.PubSub) {
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok || !c.connected.Load() {
				return
			}
			if ctx.Err() != nil {
				return
			}
			f, err := frame.Decode([]byte(msg.Payload))
			if err != nil {
				c.logger.Warn("dropping undecodable frame", "space", msg.Channel, "error", err)
				continue
			}
			c.receiver.HandleFrame(f)
		}
	}
}

// Broadcast publishes f to its space, or every joined space.
func (c *Connection) Broadcast(ctx context.Context, f *frame.Frame) error {
	payload, err := transport.Payload(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	publisher := c.publisher
	c.mu.Unlock()
	if publisher == nil || !c.connected.Load() {
		return transport.ErrNotConnected
	}

	for _, space := range transport.Targets(f, c.spaces.List()) {
		if err := publisher.Publish(ctx, space, payload).Err(); err != nil {
			return fmt.Errorf("publish to %s: %w", space, err)
		}
	}
	return nil
}

// Close stops the listener and closes both clients. Safe to call multiple times.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected.Store(false)
	publisher, subscriber := c.publisher, c.subscriber
	c.publisher, c.subscriber = nil, nil
	c.mu.Unlock()

	c.subMu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.pubsub != nil {
		_ = c.pubsub.Close()
		c.pubsub = nil
	}
	c.subMu.Unlock()

	if publisher == nil {
		return nil
	}
	_ = publisher.Close()
	_ = subscriber.Close()
	c.logger.Info("disconnected", "endpoint", c.endpoint)
	return nil
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Spaces returns the joined spaces.
func (c *Connection) Spaces() []string { return c.spaces.List() }

// Connected reports whether Connect succeeded and Close has not run.
func (c *Connection) Connected() bool { return c.connected.Load() }

// Endpoint returns the endpoint passed to Connect.
func (c *Connection) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}
