// Package handler holds handler records and the per-agent handler registry.
//
// A Handler is built once, at registration time, from a kind, a pattern
// and a function plus flags:
//
//	h, err := handler.New(frame.KindMessage, "help {topic}", fn,
//	    handler.Parse(), handler.Async())
//
// The Registry indexes handlers by kind and preserves registration order,
// which is the execution order for a frame. Filters attached to the
// registry see the candidate set for each frame and may veto members,
// e.g. to gate handlers behind feature flags.
//
// Timer handlers are created with NewTimer and live in the timer registry,
// not here.
package handler
