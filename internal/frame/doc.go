// Package frame defines the unit of communication between agents.
//
// # Overview
//
// A Frame is an immutable value: once New returns, none of its fields
// change. Six kinds travel between agents:
//
//   - KindEvent: something happened ("*** started", "tick")
//   - KindMessage: a chat-style message addressed to a space
//   - KindState: a named state changed value
//   - KindCommand: an instruction for other agents
//   - KindRequest: a question expecting a correlated KindResponse
//   - KindResponse: the answer, carrying meta "reply_to" = request id
//
// KindTimer is reserved for local dispatch of timer triggers and is never
// constructed as a frame or placed on the wire.
//
// # Identity
//
// Every frame gets a random UUID at construction. Two frames are the same
// event iff their IDs are equal; receivers deduplicate on ID alone.
//
// # Limits
//
//   - Name: non-empty, at most MaxNameLength characters
//   - Data: JSON-encoded size strictly under MaxDataSize bytes
//   - Meta: JSON-encoded size strictly under MaxMetaSize bytes
//
// Violations return errors wrapping ErrValidation.
//
// # Wire Format
//
// Encode produces a JSON object with keys id, kind, name, source, space,
// data and meta (empty values omitted). Internal frames never encode:
// Encode returns ErrInternalFrame.
package frame
