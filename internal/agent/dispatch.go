// ABOUTME: Dispatch engine: loop prevention, dedup, matching and execution.
// ABOUTME: Converts handler return values into correlated responses.

package agent

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/handler"
	"github.com/2389/hive/internal/pattern"
)

// HandleFrame implements transport.Receiver.
func (a *Agent) HandleFrame(f *frame.Frame) {
	a.Handle(context.Background(), f)
}

// Handle dispatches f to every matching handler.
func (a *Agent) Handle(ctx context.Context, f *frame.Frame) {
	if f == nil {
		return
	}
	if f.Kind() == frame.KindMessage && f.Source() == a.name {
		a.logger.Debug("dropping own message", "frame_id", f.ID(), "name", f.Name())
		return
	}
	if f.IsLifecycle() && f.Source() != a.name {
		a.logger.Debug("dropping foreign lifecycle event", "frame_id", f.ID(), "source", f.Source())
		return
	}
	if a.seen.CheckAndMark(f.ID()) {
		a.logger.Debug("dropping duplicate frame", "frame_id", f.ID(), "name", f.Name())
		return
	}

	if f.Kind() == frame.KindResponse {
		a.pending.deliver(f)
	}

	matches := a.registry.FindMatches(f)
	if len(matches) == 0 {
		return
	}
	a.logger.Debug("dispatching frame",
		"frame_id", f.ID(),
		"kind", f.Kind().String(),
		"name", f.Name(),
		"handlers", len(matches),
	)
	for _, m := range matches {
		a.execute(ctx, m.Handler, f, m.Captures)
	}
}

// trigger is the timer registry's entry into the dispatch engine.
func (a *Agent) trigger(ctx context.Context, h *handler.Handler) {
	if a.stopping.Load() {
		return
	}
	if !a.registry.Allowed(h) {
		return
	}
	a.execute(ctx, h, nil, nil)
}

func (a *Agent) execute(ctx context.Context, h *handler.Handler, f *frame.Frame, captures pattern.Captures) {
	arg := f
	if f != nil && h.ParsesCaptures() {
		arg = f.WithFields(captures)
	}
	var self handler.Self
	if h.PassesSelf() {
		self = a
	}

	if h.IsAsync() {
		detached := context.WithoutCancel(ctx)
		a.Spawn(func(context.Context) {
			a.respond(detached, h, f, a.invoke(detached, h, self, arg))
		})
		return
	}
	a.respond(ctx, h, f, a.invoke(ctx, h, self, arg))
}

// invoke runs the handler body. Errors and panics are logged and yield nil.
func (a *Agent) invoke(ctx context.Context, h *handler.Handler, self handler.Self, f *frame.Frame) (out frame.Data) {
	herr := &HandlerError{Agent: a.name, Handler: h.Name()}
	if f != nil {
		herr.FrameID = f.ID()
	}

	defer func() {
		if r := recover(); r != nil {
			herr.Err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			a.logger.Error("handler panicked", "error", herr, "stack", string(debug.Stack()))
			out = nil
		}
	}()

	data, err := h.Call(ctx, self, f)
	if err != nil {
		herr.Err = err
		a.logger.Error("handler failed", "error", herr)
		return nil
	}
	return data
}

// respond turns non-empty handler output into a RESPONSE. Replies to a
// REQUEST go to peers; anything else is answered locally.
func (a *Agent) respond(ctx context.Context, h *handler.Handler, origin *frame.Frame, data frame.Data) {
	if len(data) == 0 {
		return
	}

	var (
		reply *frame.Frame
		err   error
	)
	switch {
	case origin == nil:
		reply, err = frame.New(frame.KindResponse, h.Pattern().String(),
			frame.WithSource(a.name),
			frame.WithData(data),
			frame.Internal())
	case origin.Kind() == frame.KindRequest:
		reply, err = origin.Reply(a.name, data)
	default:
		reply, err = origin.Reply(a.name, data, frame.Internal())
	}
	if err != nil {
		a.logger.Error("building response", "handler", h.Name(), "error", err)
		return
	}
	if err := a.publish(ctx, reply); err != nil {
		a.logger.Warn("sending response", "handler", h.Name(), "frame_id", reply.ID(), "error", err)
	}
}
