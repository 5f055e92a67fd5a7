// ABOUTME: Builds transport connections for an endpoint by scheme.
// ABOUTME: inmemory://, redis:// and ws:// are supported.

package agent

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/hive/internal/transport"
	"github.com/2389/hive/internal/transport/inmemory"
	"github.com/2389/hive/internal/transport/redis"
	"github.com/2389/hive/internal/transport/websocket"
)

// Dialer creates an unconnected transport connection for endpoint whose
// inbound frames go to receiver.
type Dialer func(endpoint string, receiver transport.Receiver, logger *slog.Logger) (transport.Connection, error)

// DefaultDialer selects a transport by endpoint scheme. network may be nil
// for inmemory.Default.
func DefaultDialer(network *inmemory.Network, joinTimeout time.Duration) Dialer {
	return func(endpoint string, receiver transport.Receiver, logger *slog.Logger) (transport.Connection, error) {
		endpoint, err := transport.NormalizeEndpoint(endpoint)
		if err != nil {
			return nil, err
		}
		switch transport.Scheme(endpoint) {
		case transport.SchemeInMemory:
			return inmemory.New(network, receiver, logger), nil
		case transport.SchemeRedis:
			return redis.New(receiver, logger, redis.WithJoinTimeout(joinTimeout)), nil
		case transport.SchemeWebsocket:
			return websocket.New(receiver, logger), nil
		default:
			return nil, fmt.Errorf("%w: %q", transport.ErrUnsupportedScheme, endpoint)
		}
	}
}
