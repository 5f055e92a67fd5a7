// ABOUTME: Tracks in-flight Call requests and routes responses by request id.
// ABOUTME: Each pending call owns a buffered channel fed by the dispatch engine.

package agent

import (
	"log/slog"
	"sync"

	"github.com/2389/hive/internal/frame"
)

type pendingCalls struct {
	mu      sync.RWMutex
	pending map[string]chan *frame.Frame
	logger  *slog.Logger
}

func newPendingCalls(logger *slog.Logger) *pendingCalls {
	return &pendingCalls{
		pending: make(map[string]chan *frame.Frame),
		logger:  logger,
	}
}

// create registers a pending request. The caller must closeRequest it.
func (p *pendingCalls) create(requestID string) <-chan *frame.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan *frame.Frame, 16)
	p.pending[requestID] = ch
	return ch
}

// closeRequest closes and removes the channel for a request.
func (p *pendingCalls) closeRequest(requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ch, ok := p.pending[requestID]; ok {
		close(ch)
		delete(p.pending, requestID)
	}
}

// deliver routes a response to its pending call, if any.
func (p *pendingCalls) deliver(resp *frame.Frame) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ch, ok := p.pending[resp.ReplyTo()]
	if !ok {
		return
	}

	// Non-blocking send to avoid stalling dispatch if the caller stopped reading
	select {
	case ch <- resp:
	default:
		p.logger.Warn("response channel full, dropping response",
			"request_id", resp.ReplyTo(),
			"frame_id", resp.ID(),
		)
	}
}

func (p *pendingCalls) len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}
