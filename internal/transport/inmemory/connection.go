// ABOUTME: In-process Connection attaching an agent to a shared hub.
// ABOUTME: Bind claims the endpoint; Connect attaches to it; both receive via a listener goroutine.

package inmemory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/hive/internal/bus"
	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/transport"
)

// Connection is an agent's attachment to an in-process hub.
type Connection struct {
	network  *Network
	receiver transport.Receiver
	spaces   *transport.SpaceSet
	logger   *slog.Logger

	mu       sync.Mutex
	endpoint string
	bound    bool
	closed   bool
	hub      *bus.Hub
	sub      *bus.Subscription
	cancel   context.CancelFunc
}

var _ transport.Connection = (*Connection)(nil)

// New creates an unconnected in-process connection. Pass nil network for Default.
func New(network *Network, receiver transport.Receiver, logger *slog.Logger) *Connection {
	if network == nil {
		network = Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		network:  network,
		receiver: receiver,
		spaces:   transport.NewSpaceSet(),
		logger:   logger.With("component", "inmemory"),
	}
}

// Connect attaches to the hub at endpoint. auth is ignored in-process.
func (c *Connection) Connect(ctx context.Context, endpoint, _ string) error {
	return c.attach(endpoint, false)
}

// Bind claims endpoint so this connection acts as the local broker.
func (c *Connection) Bind(ctx context.Context, endpoint, _ string) error {
	return c.attach(endpoint, true)
}

func (c *Connection) attach(endpoint string, bind bool) error {
	endpoint, err := transport.RequireScheme(endpoint, transport.SchemeInMemory)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return transport.ErrClosed
	}
	if c.sub != nil {
		return fmt.Errorf("%w: %s", transport.ErrAlreadyConnected, c.endpoint)
	}

	hub, err := c.network.acquire(endpoint, bind)
	if err != nil {
		return err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	c.endpoint = endpoint
	c.bound = bind
	c.hub = hub
	c.sub = hub.Attach(listenCtx)
	c.sub.Subscribe(c.spaces.List()...)
	c.cancel = cancel
	go c.listen(c.sub)

	c.logger.Info("attached", "endpoint", endpoint, "bind", bind)
	return nil
}

// listen forwards deliveries until the subscription channel closes.
func (c *Connection) listen(sub *bus.Subscription) {
	for d := range sub.C() {
		f, err := frame.Decode(d.Payload)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "space", d.Space, "error", err)
			continue
		}
		c.receiver.HandleFrame(f)
	}
}

// Join adds space and converges the hub subscription to the joined set.
func (c *Connection) Join(ctx context.Context, space string) error {
	if _, err := c.spaces.Add(space); err != nil {
		return err
	}
	c.converge()
	return nil
}

// Leave removes space and converges the hub subscription.
func (c *Connection) Leave(ctx context.Context, space string) error {
	if c.spaces.Remove(space) {
		c.converge()
	}
	return nil
}

func (c *Connection) converge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		c.sub.Subscribe(c.spaces.List()...)
	}
}

// Broadcast publishes f to its space, or every joined space.
func (c *Connection) Broadcast(ctx context.Context, f *frame.Frame) error {
	payload, err := transport.Payload(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	hub := c.hub
	c.mu.Unlock()
	if hub == nil {
		return transport.ErrNotConnected
	}

	for _, space := range transport.Targets(f, c.spaces.List()) {
		hub.Publish(space, payload)
	}
	return nil
}

// Close detaches from the hub. Safe to call multiple times.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sub, cancel := c.sub, c.cancel
	endpoint, bound := c.endpoint, c.bound
	c.sub = nil
	c.hub = nil
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	// The listener exits once the subscription channel closes; Close may be
	// called from inside a handler running on that listener, so don't wait.
	cancel()
	sub.Close()
	c.network.release(endpoint, bound)
	c.logger.Info("detached", "endpoint", endpoint)
	return nil
}

// Spaces returns the joined spaces.
func (c *Connection) Spaces() []string { return c.spaces.List() }

// Connected reports whether the connection is attached to a hub.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil
}

// Endpoint returns the endpoint this connection attached to.
func (c *Connection) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// Bound reports whether this connection claimed its endpoint.
func (c *Connection) Bound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound
}
