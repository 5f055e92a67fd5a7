// ABOUTME: Immutable Frame value type with constructor options and accessors.
// ABOUTME: Frames are identified solely by their UUID for deduplication.

package frame

import (
	"maps"

	"github.com/google/uuid"
)

// LifecyclePrefix marks agent-local lifecycle events.
const LifecyclePrefix = "***"

// MetaReplyTo is the meta key correlating a response to its request.
const MetaReplyTo = "reply_to"

// Data is the key/value payload of a frame.
type Data map[string]any

// Meta is small auxiliary information attached to a frame.
type Meta map[string]any

// Frame is an immutable unit of communication. Construct with New.
type Frame struct {
	id       string
	kind     Kind
	name     string
	source   string
	space    string
	data     Data
	meta     Meta
	internal bool
}

// Option configures a frame under construction.
type Option func(*Frame)

// WithData sets the frame payload. The map is copied.
func WithData(data Data) Option {
	return func(f *Frame) {
		f.data = maps.Clone(data)
	}
}

// WithMeta sets auxiliary metadata. The map is copied.
func WithMeta(meta Meta) Option {
	return func(f *Frame) {
		f.meta = maps.Clone(meta)
	}
}

// WithSource sets the name of the originating agent.
func WithSource(source string) Option {
	return func(f *Frame) {
		f.source = source
	}
}

// WithSpace addresses the frame to a single space instead of every joined space.
func WithSpace(space string) Option {
	return func(f *Frame) {
		f.space = space
	}
}

// WithID overrides the generated identifier. Used when decoding.
func WithID(id string) Option {
	return func(f *Frame) {
		f.id = id
	}
}

// Internal marks the frame as local-only.
func Internal() Option {
	return func(f *Frame) {
		f.internal = true
	}
}

// New builds and validates a frame.
func New(kind Kind, name string, opts ...Option) (*Frame, error) {
	f := &Frame{
		id:   uuid.NewString(),
		kind: kind,
		name: name,
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// ID returns the unique frame identifier.
func (f *Frame) ID() string { return f.id }

// Kind returns the frame kind.
func (f *Frame) Kind() Kind { return f.kind }

// Name returns the routing key matched against handler patterns.
func (f *Frame) Name() string { return f.name }

// Source returns the name of the agent that created the frame.
func (f *Frame) Source() string { return f.source }

// Space returns the destination space, or "" for all joined spaces.
func (f *Frame) Space() string { return f.space }

// Internal reports whether the frame is confined to local dispatch.
func (f *Frame) Internal() bool { return f.internal }

// Data returns a copy of the payload.
func (f *Frame) Data() Data { return maps.Clone(f.data) }

// Meta returns a copy of the metadata.
func (f *Frame) Meta() Meta { return maps.Clone(f.meta) }

// Get returns a single payload value.
func (f *Frame) Get(key string) (any, bool) {
	v, ok := f.data[key]
	return v, ok
}

// GetString returns a payload value as a string, or "" if absent or not a string.
func (f *Frame) GetString(key string) string {
	s, _ := f.data[key].(string)
	return s
}

// ReplyTo returns the request id a response answers, if any.
func (f *Frame) ReplyTo() string {
	s, _ := f.meta[MetaReplyTo].(string)
	return s
}

// IsLifecycle reports whether the frame is a lifecycle event.
func (f *Frame) IsLifecycle() bool {
	return f.kind == KindEvent && len(f.name) >= len(LifecyclePrefix) && f.name[:len(LifecyclePrefix)] == LifecyclePrefix
}

// Same reports whether two frames are the same event.
func (f *Frame) Same(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	return f.id == other.id
}

// WithFields returns a view of the frame with extra payload fields merged in.
// The receiver is not modified; the view keeps the same identity.
func (f *Frame) WithFields(fields map[string]string) *Frame {
	if len(fields) == 0 {
		return f
	}
	view := *f
	view.data = make(Data, len(f.data)+len(fields))
	maps.Copy(view.data, f.data)
	for k, v := range fields {
		view.data[k] = v
	}
	return &view
}

// Reply builds a response frame correlated to f.
func (f *Frame) Reply(source string, data Data, opts ...Option) (*Frame, error) {
	base := []Option{
		WithSource(source),
		WithData(data),
		WithMeta(Meta{MetaReplyTo: f.id}),
	}
	if f.space != "" {
		base = append(base, WithSpace(f.space))
	}
	return New(KindResponse, f.name, append(base, opts...)...)
}
