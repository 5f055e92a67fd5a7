// ABOUTME: Frame kind enumeration and its symbolic wire representation.
// ABOUTME: Kinds are a closed set; TIMER exists only for local dispatch.

package frame

import "fmt"

// Kind identifies what a frame represents.
type Kind int

const (
	KindUnset Kind = iota
	KindEvent
	KindMessage
	KindState
	KindCommand
	KindRequest
	KindResponse
	KindTimer // dispatch-only, never transmitted
)

var kindNames = map[Kind]string{
	KindEvent:    "event",
	KindMessage:  "message",
	KindState:    "state",
	KindCommand:  "command",
	KindRequest:  "request",
	KindResponse: "response",
	KindTimer:    "timer",
}

// String returns the symbolic name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unset"
}

// Transmittable reports whether frames of this kind may be sent to peers.
func (k Kind) Transmittable() bool {
	return k >= KindEvent && k <= KindResponse
}

// ParseKind converts a symbolic name back into a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnset, fmt.Errorf("%w: unknown kind %q", ErrValidation, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Transmittable() {
		return nil, fmt.Errorf("%w: kind %s cannot be serialized", ErrValidation, k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	if !parsed.Transmittable() {
		return fmt.Errorf("%w: kind %s cannot be received", ErrValidation, parsed)
	}
	*k = parsed
	return nil
}
