// ABOUTME: JSON wire codec for frames exchanged over transports.
// ABOUTME: Internal frames are refused; decoded frames are re-validated.

package frame

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInternalFrame indicates an attempt to serialize a local-only frame.
var ErrInternalFrame = errors.New("internal frames are never serialized")

type wireFrame struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
	Space  string `json:"space,omitempty"`
	Data   Data   `json:"data,omitempty"`
	Meta   Meta   `json:"meta,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (f *Frame) MarshalJSON() ([]byte, error) {
	if f.internal {
		return nil, ErrInternalFrame
	}
	return json.Marshal(wireFrame{
		ID:     f.id,
		Kind:   f.kind,
		Name:   f.name,
		Source: f.source,
		Space:  f.space,
		Data:   f.data,
		Meta:   f.meta,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Frame) UnmarshalJSON(b []byte) error {
	var w wireFrame
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: decoding frame: %v", ErrValidation, err)
	}
	decoded := Frame{
		id:     w.ID,
		kind:   w.Kind,
		name:   w.Name,
		source: w.Source,
		space:  w.Space,
		data:   w.Data,
		meta:   w.Meta,
	}
	if err := decoded.validate(); err != nil {
		return err
	}
	*f = decoded
	return nil
}

// Encode serializes a frame for the wire.
func Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses a frame received from the wire.
func Decode(b []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(b, f); err != nil {
		return nil, err
	}
	return f, nil
}
