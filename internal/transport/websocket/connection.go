// ABOUTME: Websocket Connection: Bind serves a relay, Connect dials one.
// ABOUTME: Both sides sit behind a link so Join/Broadcast are shared.

package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/hive/internal/bus"
	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/transport"
)

// link is the path from a Connection to the relay hub.
type link interface {
	subscribe(ctx context.Context, spaces []string) error
	publish(ctx context.Context, space string, payload []byte) error
	close()
}

// Connection attaches an agent to a websocket relay.
type Connection struct {
	receiver transport.Receiver
	spaces   *transport.SpaceSet
	logger   *slog.Logger

	mu       sync.Mutex
	endpoint string
	closed   bool
	link     link
	relay    *Relay
}

var _ transport.Connection = (*Connection)(nil)

// New creates an unconnected websocket connection delivering to receiver.
func New(receiver transport.Receiver, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		receiver: receiver,
		spaces:   transport.NewSpaceSet(),
		logger:   logger.With("component", "websocket"),
	}
}

// Connect dials the relay at endpoint, presenting auth as a bearer credential.
func (c *Connection) Connect(ctx context.Context, endpoint, auth string) error {
	addr, err := transport.HostPort(endpoint, transport.SchemeWebsocket)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkIdle(); err != nil {
		return err
	}

	opts := &websocket.DialOptions{}
	if auth != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + auth}}
	}
	conn, resp, err := websocket.Dial(ctx, "ws://"+addr+"/", opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("connect %s: %w", endpoint, ErrUnauthorized)
		}
		return fmt.Errorf("connect %s: %w", endpoint, err)
	}

	rl := newRemoteLink(conn, c.receiver, c.logger)
	if err := c.adopt(ctx, rl, transport.SchemeWebsocket+addr); err != nil {
		rl.close()
		return err
	}
	c.logger.Info("connected", "endpoint", c.endpoint)
	return nil
}

// Bind serves a relay on endpoint and attaches to its hub directly. auth,
// if set, is required from every dialing client.
func (c *Connection) Bind(ctx context.Context, endpoint, auth string) error {
	addr, err := transport.HostPort(endpoint, transport.SchemeWebsocket)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkIdle(); err != nil {
		return err
	}

	relay := NewRelay(auth, c.logger)
	if err := relay.Listen(addr); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrAlreadyBound, err)
	}

	ll := newLocalLink(relay.Hub(), c.receiver, c.logger)
	if err := c.adopt(ctx, ll, transport.SchemeWebsocket+relay.Addr()); err != nil {
		ll.close()
		_ = relay.Close()
		return err
	}
	c.relay = relay
	c.logger.Info("bound", "endpoint", c.endpoint)
	return nil
}

func (c *Connection) checkIdle() error {
	if c.closed {
		return transport.ErrClosed
	}
	if c.link != nil {
		return fmt.Errorf("%w: %s", transport.ErrAlreadyConnected, c.endpoint)
	}
	return nil
}

// adopt installs l and sends it the spaces joined so far. Caller holds mu.
func (c *Connection) adopt(ctx context.Context, l link, endpoint string) error {
	if spaces := c.spaces.List(); len(spaces) > 0 {
		if err := l.subscribe(ctx, spaces); err != nil {
			return err
		}
	}
	c.link = l
	c.endpoint = endpoint
	return nil
}

// Join adds space and sends the full joined set to the relay.
func (c *Connection) Join(ctx context.Context, space string) error {
	if _, err := c.spaces.Add(space); err != nil {
		return err
	}
	return c.converge(ctx)
}

// Leave removes space and sends the remaining set to the relay.
func (c *Connection) Leave(ctx context.Context, space string) error {
	if !c.spaces.Remove(space) {
		return nil
	}
	return c.converge(ctx)
}

// converge pushes the joined set. Before Connect/Bind the set is only
// recorded and sent by adopt.
func (c *Connection) converge(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return nil
	}
	return c.link.subscribe(ctx, c.spaces.List())
}

// Broadcast publishes f to its space, or every joined space.
func (c *Connection) Broadcast(ctx context.Context, f *frame.Frame) error {
	payload, err := transport.Payload(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return transport.ErrNotConnected
	}

	for _, space := range transport.Targets(f, c.spaces.List()) {
		if err := l.publish(ctx, space, payload); err != nil {
			return fmt.Errorf("publish to %s: %w", space, err)
		}
	}
	return nil
}

// Close drops the link and stops the relay if this connection bound one.
// Safe to call multiple times.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l, relay := c.link, c.relay
	c.link, c.relay = nil, nil
	c.mu.Unlock()

	if l != nil {
		l.close()
	}
	if relay != nil {
		if err := relay.Close(); err != nil {
			return fmt.Errorf("close relay: %w", err)
		}
	}
	if l != nil {
		c.logger.Info("disconnected", "endpoint", c.Endpoint())
	}
	return nil
}

// Spaces returns the joined spaces.
func (c *Connection) Spaces() []string { return c.spaces.List() }

// Connected reports whether a link is up.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Endpoint returns the relay endpoint. After Bind on port 0 it carries
// the port actually chosen.
func (c *Connection) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// remoteLink speaks the envelope protocol over a dialed websocket.
type remoteLink struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func newRemoteLink(conn *websocket.Conn, receiver transport.Receiver, logger *slog.Logger) *remoteLink {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &remoteLink{conn: conn, cancel: cancel}
	go rl.read(ctx, receiver, logger)
	return rl
}

func (rl *remoteLink) read(ctx context.Context, receiver transport.Receiver, logger *slog.Logger) {
	for {
		var in envelope
		if err := wsjson.Read(ctx, rl.conn, &in); err != nil {
			if ctx.Err() == nil {
				logger.Warn("relay read failed", "error", err)
			}
			return
		}
		if in.Op != opFrame {
			logger.Warn("unexpected op from relay", "op", in.Op)
			continue
		}
		f, err := frame.Decode(in.Frame)
		if err != nil {
			logger.Warn("dropping undecodable frame", "space", in.Space, "error", err)
			continue
		}
		receiver.HandleFrame(f)
	}
}

func (rl *remoteLink) subscribe(ctx context.Context, spaces []string) error {
	return wsjson.Write(ctx, rl.conn, envelope{Op: opSubscribe, Spaces: spaces})
}

func (rl *remoteLink) publish(ctx context.Context, space string, payload []byte) error {
	return wsjson.Write(ctx, rl.conn, envelope{Op: opPublish, Space: space, Frame: payload})
}

// close does not wait for the reader, which may be the caller.
func (rl *remoteLink) close() {
	rl.cancel()
	_ = rl.conn.CloseNow()
}

// localLink attaches the binding connection straight to its relay's hub.
type localLink struct {
	hub    *bus.Hub
	sub    *bus.Subscription
	cancel context.CancelFunc
}

func newLocalLink(hub *bus.Hub, receiver transport.Receiver, logger *slog.Logger) *localLink {
	ctx, cancel := context.WithCancel(context.Background())
	ll := &localLink{hub: hub, sub: hub.Attach(ctx), cancel: cancel}
	go func() {
		for d := range ll.sub.C() {
			f, err := frame.Decode(d.Payload)
			if err != nil {
				logger.Warn("dropping undecodable frame", "space", d.Space, "error", err)
				continue
			}
			receiver.HandleFrame(f)
		}
	}()
	return ll
}

func (ll *localLink) subscribe(_ context.Context, spaces []string) error {
	ll.sub.Subscribe(spaces...)
	return nil
}

func (ll *localLink) publish(_ context.Context, space string, payload []byte) error {
	ll.hub.Publish(space, payload)
	return nil
}

func (ll *localLink) close() {
	ll.cancel()
	ll.sub.Close()
}
