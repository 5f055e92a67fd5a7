// ABOUTME: Tagged transport connections owned by an agent.
// ABOUTME: Connect/Bind add one; Join/Leave/Close target them by tag or endpoint.

package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/transport"
)

// DefaultTag is the tag of connections opened without WithTag.
const DefaultTag = "default"

type taggedConn struct {
	conn   transport.Connection
	dialed string
	tag    string
}

// endpoint reports where the connection landed, which differs from the
// dialed endpoint when a bind resolves port 0.
func (tc *taggedConn) endpoint() string {
	if ep := tc.conn.Endpoint(); ep != "" {
		return ep
	}
	return tc.dialed
}

// ConnectOption configures Connect and Bind.
type ConnectOption func(*connectConfig)

type connectConfig struct {
	auth string
	tag  string
}

// WithAuth sets the credential presented to (or required by) the transport.
func WithAuth(auth string) ConnectOption {
	return func(c *connectConfig) { c.auth = auth }
}

// WithTag labels the connection for targeted Join, Leave and Close.
func WithTag(tag string) ConnectOption {
	return func(c *connectConfig) {
		if tag != "" {
			c.tag = tag
		}
	}
}

// CloseOption selects which connections Close tears down.
type CloseOption func(*closeConfig)

type closeConfig struct {
	endpoint string
	tags     []string
}

// CloseEndpoint closes the connections to endpoint.
func CloseEndpoint(endpoint string) CloseOption {
	return func(c *closeConfig) { c.endpoint = endpoint }
}

// CloseTags closes the connections carrying any of tags.
func CloseTags(tags ...string) CloseOption {
	return func(c *closeConfig) { c.tags = append(c.tags, tags...) }
}

// Connect attaches the agent to an existing bus or broker.
func (a *Agent) Connect(ctx context.Context, endpoint string, opts ...ConnectOption) error {
	return a.attach(ctx, endpoint, false, opts)
}

// Bind makes the agent serve endpoint for others to Connect to.
func (a *Agent) Bind(ctx context.Context, endpoint string, opts ...ConnectOption) error {
	return a.attach(ctx, endpoint, true, opts)
}

func (a *Agent) attach(ctx context.Context, endpoint string, bind bool, opts []ConnectOption) error {
	if a.stopping.Load() {
		return ErrStopped
	}
	cfg := connectConfig{tag: DefaultTag}
	for _, opt := range opts {
		opt(&cfg)
	}

	normalized, err := transport.NormalizeEndpoint(endpoint)
	if err != nil {
		return err
	}
	conn, err := a.dialer(endpoint, a, a.logger)
	if err != nil {
		return err
	}

	// Registered while dialing so a concurrent Join finds it and waits on
	// the transport instead of failing with ErrNotConnected.
	tc := &taggedConn{conn: conn, dialed: normalized, tag: cfg.tag}
	a.mu.Lock()
	a.conns = append(a.conns, tc)
	a.mu.Unlock()

	if bind {
		err = conn.Bind(ctx, endpoint, cfg.auth)
	} else {
		err = conn.Connect(ctx, endpoint, cfg.auth)
	}
	if err != nil {
		a.mu.Lock()
		a.conns = slices.DeleteFunc(a.conns, func(c *taggedConn) bool { return c == tc })
		a.mu.Unlock()
		_ = conn.Close()
		return err
	}

	a.logger.Info("connection opened", "endpoint", tc.endpoint(), "tag", tc.tag, "bind", bind)
	return nil
}

// Join joins space on the connections carrying any of tags, or all
// connections if no tags are given.
func (a *Agent) Join(ctx context.Context, space string, tags ...string) error {
	if err := frame.ValidateName(space); err != nil {
		return err
	}
	targets := a.connections(tags...)
	if len(targets) == 0 {
		return fmt.Errorf("join %s: %w", space, transport.ErrNotConnected)
	}

	var errs []error
	for _, tc := range targets {
		if err := tc.conn.Join(ctx, space); err != nil {
			errs = append(errs, fmt.Errorf("join %s via %s: %w", space, tc.endpoint(), err))
		}
	}
	a.logger.Info("joined", "space", space, "connections", len(targets))
	return errors.Join(errs...)
}

// Leave leaves space on the connections carrying any of tags, or all
// connections if no tags are given.
func (a *Agent) Leave(ctx context.Context, space string, tags ...string) error {
	var errs []error
	for _, tc := range a.connections(tags...) {
		if err := tc.conn.Leave(ctx, space); err != nil {
			errs = append(errs, fmt.Errorf("leave %s via %s: %w", space, tc.endpoint(), err))
		}
	}
	a.logger.Info("left", "space", space)
	return errors.Join(errs...)
}

// Close tears down connections selected by CloseEndpoint or CloseTags, or
// every connection if neither is given. Selecting by both is an error.
func (a *Agent) Close(opts ...CloseOption) error {
	var cfg closeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.endpoint != "" && len(cfg.tags) > 0 {
		return fmt.Errorf("%w: expected either endpoint %q or tags %v, not both",
			frame.ErrValidation, cfg.endpoint, cfg.tags)
	}

	var endpoint string
	if cfg.endpoint != "" {
		normalized, err := transport.NormalizeEndpoint(cfg.endpoint)
		if err != nil {
			return err
		}
		endpoint = normalized
	}

	var closing []*taggedConn
	for _, tc := range a.connections() {
		selected := true
		switch {
		case endpoint != "":
			selected = tc.endpoint() == endpoint
		case len(cfg.tags) > 0:
			selected = slices.Contains(cfg.tags, tc.tag)
		}
		if selected {
			closing = append(closing, tc)
		}
	}
	a.mu.Lock()
	a.conns = slices.DeleteFunc(a.conns, func(tc *taggedConn) bool {
		return slices.Contains(closing, tc)
	})
	a.mu.Unlock()

	var errs []error
	for _, tc := range closing {
		if err := tc.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", tc.endpoint(), err))
		}
		a.logger.Info("connection closed", "endpoint", tc.endpoint(), "tag", tc.tag)
	}
	return errors.Join(errs...)
}

// Spaces returns the union of spaces joined across connections, sorted.
func (a *Agent) Spaces() []string {
	var out []string
	for _, tc := range a.connections() {
		for _, space := range tc.conn.Spaces() {
			if !slices.Contains(out, space) {
				out = append(out, space)
			}
		}
	}
	slices.Sort(out)
	return out
}

// Endpoints returns the endpoints of open connections in opening order.
func (a *Agent) Endpoints() []string {
	conns := a.connections()
	out := make([]string, len(conns))
	for i, tc := range conns {
		out[i] = tc.endpoint()
	}
	return out
}

// connections returns the open connections carrying any of tags, or all.
func (a *Agent) connections(tags ...string) []*taggedConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(tags) == 0 {
		return slices.Clone(a.conns)
	}
	var out []*taggedConn
	for _, tc := range a.conns {
		if slices.Contains(tags, tc.tag) {
			out = append(out, tc)
		}
	}
	return out
}
