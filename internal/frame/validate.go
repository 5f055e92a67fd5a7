// ABOUTME: Validation rules for frame names, payload sizes, and metadata.
// ABOUTME: All failures wrap ErrValidation so callers can classify them.

package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxNameLength is the maximum frame name length in characters.
	MaxNameLength = 128
	// MaxDataSize bounds the encoded payload; sizes must stay strictly below it.
	MaxDataSize = 10 * 1024
	// MaxMetaSize bounds the encoded metadata; sizes must stay strictly below it.
	MaxMetaSize = 512
)

// ErrValidation indicates malformed input: names, kinds, endpoints or oversized payloads.
var ErrValidation = errors.New("validation error")

// ValidateName checks a frame, space or agent name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: expected a non-empty name, got %q", ErrValidation, name)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name is not valid UTF-8", ErrValidation)
	}
	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return fmt.Errorf("%w: expected name to be <= %d characters, got %d", ErrValidation, MaxNameLength, n)
	}
	return nil
}

// wireForm checks the encoded size of m and returns it as a peer would
// decode it, so numbers are float64 on both sides of a transport.
func wireForm(field string, m map[string]any, limit int) (map[string]any, error) {
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not JSON-serializable: %v", ErrValidation, field, err)
	}
	if len(encoded) >= limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrValidation, field, len(encoded), limit)
	}
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrValidation, field, err)
	}
	return decoded, nil
}

func (f *Frame) validate() error {
	if f.kind == KindUnset || f.kind == KindTimer || f.kind > KindTimer {
		return fmt.Errorf("%w: invalid frame kind %s", ErrValidation, f.kind)
	}
	if f.id == "" {
		return fmt.Errorf("%w: frame id is empty", ErrValidation)
	}
	if err := ValidateName(f.name); err != nil {
		return err
	}
	if f.source != "" {
		if err := ValidateName(f.source); err != nil {
			return fmt.Errorf("source: %w", err)
		}
	}
	if f.space != "" {
		if err := ValidateName(f.space); err != nil {
			return fmt.Errorf("space: %w", err)
		}
	}
	if len(f.data) > 0 {
		data, err := wireForm("data", f.data, MaxDataSize)
		if err != nil {
			return err
		}
		f.data = data
	}
	if len(f.meta) > 0 {
		meta, err := wireForm("meta", f.meta, MaxMetaSize)
		if err != nil {
			return err
		}
		f.meta = meta
	}
	return nil
}
