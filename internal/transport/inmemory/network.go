// ABOUTME: Process-wide registry of in-memory hubs keyed by endpoint.
// ABOUTME: Tracks which connection binds each hub and reference counts attachments.

// Package inmemory implements the in-process transport (inmemory://).
// Frames are still encoded to the wire format so behaviour matches the
// network transports, but nothing leaves the process.
package inmemory

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/hive/internal/bus"
	"github.com/2389/hive/internal/transport"
)

// Network owns the hubs reachable through inmemory:// endpoints.
type Network struct {
	mu     sync.Mutex
	hubs   map[string]*entry
	logger *slog.Logger
}

type entry struct {
	hub   *bus.Hub
	refs  int
	bound bool
}

// Default is the network used when none is configured.
var Default = NewNetwork(nil)

// NewNetwork creates an isolated set of in-process hubs.
func NewNetwork(logger *slog.Logger) *Network {
	if logger == nil {
		logger = slog.Default()
	}
	return &Network{
		hubs:   make(map[string]*entry),
		logger: logger.With("component", "inmemory"),
	}
}

// acquire returns the hub for endpoint, creating it on first use.
func (n *Network) acquire(endpoint string, bind bool) (*bus.Hub, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.hubs[endpoint]
	if !ok {
		e = &entry{hub: bus.NewHub(n.logger)}
		n.hubs[endpoint] = e
	}
	if bind {
		if e.bound {
			return nil, fmt.Errorf("%w: %s", transport.ErrAlreadyBound, endpoint)
		}
		e.bound = true
	}
	e.refs++
	return e.hub, nil
}

// release drops one reference, tearing the hub down when none remain.
func (n *Network) release(endpoint string, bound bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.hubs[endpoint]
	if !ok {
		return
	}
	if bound {
		e.bound = false
	}
	e.refs--
	if e.refs <= 0 {
		e.hub.Close()
		delete(n.hubs, endpoint)
	}
}

// Hubs returns the number of live hubs.
func (n *Network) Hubs() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.hubs)
}
