// ABOUTME: JSON envelope exchanged between relay clients and the relay.
// ABOUTME: Carries subscribe, publish and frame operations.

package websocket

import "encoding/json"

const (
	opSubscribe = "subscribe"
	opPublish   = "publish"
	opFrame     = "frame"
)

type envelope struct {
	Op     string          `json:"op"`
	Space  string          `json:"space,omitempty"`
	Spaces []string        `json:"spaces,omitempty"`
	Frame  json.RawMessage `json:"frame,omitempty"`
}
