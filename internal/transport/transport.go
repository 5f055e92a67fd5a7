// ABOUTME: Transport-agnostic Connection interface and its error taxonomy.
// ABOUTME: Implemented by the inmemory, redis and websocket subpackages.

package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/hive/internal/frame"
)

var (
	// ErrAlreadyConnected indicates Connect or Bind on a live connection.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrNotConnected indicates an operation that needs a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyBound indicates another connection already serves the endpoint.
	ErrAlreadyBound = errors.New("endpoint already bound")
	// ErrClosed indicates use of a closed connection.
	ErrClosed = errors.New("connection closed")
	// ErrInvalidEndpoint indicates a malformed endpoint string.
	ErrInvalidEndpoint = fmt.Errorf("%w: invalid endpoint", frame.ErrValidation)
	// ErrUnsupportedScheme indicates an endpoint no transport understands.
	ErrUnsupportedScheme = fmt.Errorf("%w: unsupported endpoint scheme", frame.ErrValidation)
)

// Receiver accepts frames decoded by a transport.
type Receiver interface {
	HandleFrame(f *frame.Frame)
}

// Connection is one agent's attachment to a transport.
type Connection interface {
	Connect(ctx context.Context, endpoint, auth string) error
	Bind(ctx context.Context, endpoint, auth string) error
	Join(ctx context.Context, space string) error
	Leave(ctx context.Context, space string) error
	Broadcast(ctx context.Context, f *frame.Frame) error
	Close() error
	Spaces() []string
	Connected() bool
	Endpoint() string
}

// Targets returns the spaces a frame should be published to.
func Targets(f *frame.Frame, joined []string) []string {
	if f.Space() != "" {
		return []string{f.Space()}
	}
	return joined
}

// Payload encodes a frame for publication, refusing internal frames.
func Payload(f *frame.Frame) ([]byte, error) {
	if f.Internal() {
		return nil, frame.ErrInternalFrame
	}
	return frame.Encode(f)
}
