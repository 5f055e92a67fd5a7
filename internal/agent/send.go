// ABOUTME: Frame producing helpers: Emit, Message, Command, Request, SetState, Call.
// ABOUTME: Every frame is dispatched locally first, then broadcast unless internal.

package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/hive/internal/frame"
)

// Emit sends an EVENT.
func (a *Agent) Emit(ctx context.Context, name string, data frame.Data, opts ...frame.Option) (*frame.Frame, error) {
	return a.send(ctx, frame.KindEvent, name, data, opts)
}

// Message sends a MESSAGE. The agent's own message handlers never see it.
func (a *Agent) Message(ctx context.Context, name string, data frame.Data, opts ...frame.Option) (*frame.Frame, error) {
	return a.send(ctx, frame.KindMessage, name, data, opts)
}

// Command sends a COMMAND.
func (a *Agent) Command(ctx context.Context, name string, data frame.Data, opts ...frame.Option) (*frame.Frame, error) {
	return a.send(ctx, frame.KindCommand, name, data, opts)
}

// Request sends a REQUEST without waiting for a response. See Call.
func (a *Agent) Request(ctx context.Context, name string, data frame.Data, opts ...frame.Option) (*frame.Frame, error) {
	return a.send(ctx, frame.KindRequest, name, data, opts)
}

// SetState records value under name and dispatches an internal STATE
// frame carrying {"value": value, "last": previous}.
func (a *Agent) SetState(ctx context.Context, name string, value any) error {
	if err := frame.ValidateName(name); err != nil {
		return err
	}

	a.mu.Lock()
	last := a.states[name]
	a.states[name] = value
	a.mu.Unlock()

	_, err := a.send(ctx, frame.KindState, name, frame.Data{"value": value, "last": last},
		[]frame.Option{frame.Internal()})
	return err
}

// Call sends a REQUEST and blocks until the first correlated RESPONSE
// arrives or ctx ends.
func (a *Agent) Call(ctx context.Context, name string, data frame.Data, opts ...frame.Option) (*frame.Frame, error) {
	req, err := a.build(frame.KindRequest, name, data, opts)
	if err != nil {
		return nil, err
	}

	responses := a.pending.create(req.ID())
	defer a.pending.closeRequest(req.ID())

	if err := a.publish(ctx, req); err != nil {
		return nil, err
	}

	select {
	case resp := <-responses:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("awaiting response to %s %q: %w", req.ID(), name, ctx.Err())
	}
}

func (a *Agent) build(kind frame.Kind, name string, data frame.Data, opts []frame.Option) (*frame.Frame, error) {
	base := []frame.Option{frame.WithSource(a.name)}
	if len(data) > 0 {
		base = append(base, frame.WithData(data))
	}
	return frame.New(kind, name, append(base, opts...)...)
}

func (a *Agent) send(ctx context.Context, kind frame.Kind, name string, data frame.Data, opts []frame.Option) (*frame.Frame, error) {
	f, err := a.build(kind, name, data, opts)
	if err != nil {
		return nil, err
	}
	if err := a.publish(ctx, f); err != nil {
		return f, err
	}
	return f, nil
}

// publish dispatches f locally and, unless internal, to every live connection.
func (a *Agent) publish(ctx context.Context, f *frame.Frame) error {
	a.Handle(ctx, f)
	if f.Internal() {
		return nil
	}

	var errs []error
	for _, tc := range a.connections() {
		if !tc.conn.Connected() {
			continue
		}
		if err := tc.conn.Broadcast(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("broadcast via %s: %w", tc.endpoint(), err))
		}
	}
	return errors.Join(errs...)
}
