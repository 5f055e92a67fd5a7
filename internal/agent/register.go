// ABOUTME: Handler registration entry points, one per frame kind plus timers.
// ABOUTME: Timer handlers go to the timer registry; the rest to the handler registry.

package agent

import (
	"time"

	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/handler"
)

// AddHandler registers a prebuilt handler record.
func (a *Agent) AddHandler(h *handler.Handler) error {
	if h != nil && h.Kind() == frame.KindTimer {
		return a.timers.AddHandler(h)
	}
	return a.registry.Register(h)
}

// AddFilter attaches a filter that may veto handlers before they run.
func (a *Agent) AddFilter(f handler.Filter) {
	a.registry.AddFilter(f)
}

// On registers fn for frames of kind whose name matches pattern.
func (a *Agent) On(kind frame.Kind, pattern string, fn handler.Func, opts ...handler.Option) error {
	h, err := handler.New(kind, pattern, fn, opts...)
	if err != nil {
		return err
	}
	return a.registry.Register(h)
}

// OnEvent registers an EVENT handler.
func (a *Agent) OnEvent(pattern string, fn handler.Func, opts ...handler.Option) error {
	return a.On(frame.KindEvent, pattern, fn, opts...)
}

// OnMessage registers a MESSAGE handler.
func (a *Agent) OnMessage(pattern string, fn handler.Func, opts ...handler.Option) error {
	return a.On(frame.KindMessage, pattern, fn, opts...)
}

// OnState registers a STATE handler keyed by state name.
func (a *Agent) OnState(pattern string, fn handler.Func, opts ...handler.Option) error {
	return a.On(frame.KindState, pattern, fn, opts...)
}

// OnCommand registers a COMMAND handler.
func (a *Agent) OnCommand(pattern string, fn handler.Func, opts ...handler.Option) error {
	return a.On(frame.KindCommand, pattern, fn, opts...)
}

// OnRequest registers a REQUEST handler. Returned data is sent back as the response.
func (a *Agent) OnRequest(pattern string, fn handler.Func, opts ...handler.Option) error {
	return a.On(frame.KindRequest, pattern, fn, opts...)
}

// OnResponse registers a RESPONSE handler.
func (a *Agent) OnResponse(pattern string, fn handler.Func, opts ...handler.Option) error {
	return a.On(frame.KindResponse, pattern, fn, opts...)
}

// OnTimer registers fn to fire every interval. The frame argument is nil.
func (a *Agent) OnTimer(interval time.Duration, fn handler.Func, opts ...handler.Option) error {
	h, err := handler.NewTimer(interval, fn, opts...)
	if err != nil {
		return err
	}
	return a.timers.AddHandler(h)
}
