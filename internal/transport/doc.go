// Package transport defines the Connection contract agents use to reach
// peers, plus endpoint validation shared by implementations.
//
// # Connection
//
//   - Connect(ctx, endpoint, auth): attach to an existing bus or broker
//   - Bind(ctx, endpoint, auth): become the bus (in-process or relay)
//   - Join/Leave(ctx, space): converge the subscription to the joined set
//   - Broadcast(ctx, frame): publish to frame.Space() or every joined space
//   - Close(): release everything; safe to call more than once
//
// Inbound frames are decoded by the implementation and handed to the
// Receiver given at construction.
//
// # Endpoints
//
// Endpoints are trimmed and lower-cased before use:
//
//	inmemory://<name>   in-process bus, never touches the network
//	redis://host:port   redis pub/sub broker
//	ws://host:port      websocket relay
//
// Implementations live in the inmemory, redis and websocket subpackages.
package transport
