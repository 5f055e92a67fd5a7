// ABOUTME: In-memory fan-out hub delivering encoded frames to space subscribers.
// ABOUTME: Shared by the inmemory transport and the websocket relay server.

package bus

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each member.
	subscriberBufferSize = 256
)

// Delivery is one payload published to a space.
type Delivery struct {
	Space   string
	Payload []byte
}

// member is one attached subscriber.
type member struct {
	ch     chan Delivery
	spaces map[string]struct{}
}

// Hub provides in-memory pub/sub keyed by space name.
type Hub struct {
	mu      sync.RWMutex
	members map[string]*member // subID -> member
	closed  bool
	logger  *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		members: make(map[string]*member),
		logger:  logger.With("component", "hub"),
	}
}

// Subscription is a member's handle on the hub.
type Subscription struct {
	hub *Hub
	id  string
	ch  chan Delivery
}

// Attach registers a member with no spaces. The member is detached
// automatically when ctx is cancelled.
func (h *Hub) Attach(ctx context.Context) *Subscription {
	sub := &Subscription{
		hub: h,
		id:  uuid.New().String(),
		ch:  make(chan Delivery, subscriberBufferSize),
	}

	h.mu.Lock()
	if h.closed {
		close(sub.ch)
	} else {
		h.members[sub.id] = &member{ch: sub.ch, spaces: make(map[string]struct{})}
	}
	h.mu.Unlock()

	h.logger.Debug("member attached", "sub_id", sub.id)

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Delivery { return s.ch }

// Subscribe replaces the member's space set with exactly spaces.
func (s *Subscription) Subscribe(spaces ...string) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	m, ok := s.hub.members[s.id]
	if !ok {
		return
	}
	m.spaces = make(map[string]struct{}, len(spaces))
	for _, space := range spaces {
		m.spaces[space] = struct{}{}
	}
}

// Spaces returns the member's current spaces, sorted.
func (s *Subscription) Spaces() []string {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()

	m, ok := s.hub.members[s.id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(m.spaces))
	for space := range m.spaces {
		out = append(out, space)
	}
	slices.Sort(out)
	return out
}

// Close detaches the member and closes its channel. Safe to call multiple times.
func (s *Subscription) Close() {
	s.hub.detach(s.id)
}

// Publish delivers payload to every member subscribed to space and returns
// how many members received it. Non-blocking: deliveries are dropped for
// members whose channels are full.
func (h *Hub) Publish(space string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for id, m := range h.members {
		if _, ok := m.spaces[space]; !ok {
			continue
		}
		select {
		case m.ch <- Delivery{Space: space, Payload: payload}:
			delivered++
		default:
			h.logger.Warn("dropped delivery for slow member",
				"space", space,
				"sub_id", id)
		}
	}
	return delivered
}

// Members returns how many members are subscribed to space.
func (h *Hub) Members(space string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, m := range h.members {
		if _, ok := m.spaces[space]; ok {
			n++
		}
	}
	return n
}

// Size returns the number of attached members.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

func (h *Hub) detach(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.members[id]
	if !ok {
		return
	}
	delete(h.members, id)
	close(m.ch)

	h.logger.Debug("member detached", "sub_id", id)
}

// Close detaches all members and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, m := range h.members {
		close(m.ch)
		delete(h.members, id)
	}
	h.closed = true

	h.logger.Debug("hub closed")
}
