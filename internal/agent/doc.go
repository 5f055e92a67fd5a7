// Package agent implements the agent runtime: handler registration, the
// dispatch engine, lifecycle, states and tagged transport connections.
//
// # Overview
//
// An Agent owns a handler registry, a timer registry and a dedup set. It
// reaches peers through zero or more transport connections and reacts to
// frames arriving on them:
//
//	a := agent.New("echo", agent.WithLogger(logger))
//	a.OnMessage("ping", func(ctx context.Context, self handler.Self, f *frame.Frame) (frame.Data, error) {
//	    _, err := self.Message(ctx, "pong", nil)
//	    return nil, err
//	}, handler.PassSelf())
//	a.Connect(ctx, "inmemory://lobby")
//	a.Join(ctx, "room")
//	a.Run(ctx)
//
// # Dispatch
//
// Every frame, local or received, goes through Handle:
//
//  1. Loop prevention: messages whose source is this agent, and lifecycle
//     events from other agents, are dropped.
//  2. Dedup: a frame id already seen is dropped. The id is marked in the
//     same step, so concurrent duplicate deliveries cannot both pass.
//  3. Matching handlers run in registration order. Async handlers run on
//     their own goroutine; the rest run inline on the caller.
//  4. A handler returning non-empty data produces a RESPONSE correlated by
//     meta reply_to. Replies to REQUEST frames are sent to peers; other
//     replies stay local.
//
// Handler errors and panics are logged as *HandlerError and never reach
// the frame's producer.
//
// # Lifecycle
//
//	Created -> Running -> Stopping -> Stopped
//
// Start drains work spawned before the agent ran, emits "*** started",
// starts timers and polls the should_stop state. Stop emits
// "*** stopping" and sets should_stop; the built-in should_stop handler
// closes every connection on the false->true edge only. When the poll
// observes should_stop the agent emits "*** stopped" and Run returns.
//
// # Request/Response Correlation
//
// Call sends a REQUEST and waits for the first RESPONSE whose reply_to
// matches its id. Pending calls are tracked as buffered channels keyed by
// request id.
package agent
