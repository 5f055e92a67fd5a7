// ABOUTME: Agent lifecycle: Start, Run, Stop and the spawn queue.
// ABOUTME: Work spawned before Start is queued and drained exactly once.

package agent

import (
	"context"
	"runtime"
	"time"

	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/handler"
)

// Spawn runs fn on its own goroutine with the agent's run context. Before
// Start, fn is queued and launched when the agent starts.
func (a *Agent) Spawn(fn func(ctx context.Context)) {
	a.mu.Lock()
	if a.runCtx == nil {
		a.queue = append(a.queue, fn)
		a.mu.Unlock()
		return
	}
	ctx := a.runCtx
	a.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("spawned task panicked", "panic", r)
			}
		}()
		fn(ctx)
	}()
}

// Start moves a created agent to Running and returns. The agent keeps
// running until Stop is called or ctx ends; see Done.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	switch Phase(a.phase.Load()) {
	case Running:
		a.mu.Unlock()
		return ErrAlreadyRunning
	case Stopping, Stopped:
		a.mu.Unlock()
		return ErrStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.runCtx, a.cancel = runCtx, cancel
	queued := a.queue
	a.queue = nil
	a.phase.Store(int32(Running))
	a.mu.Unlock()

	for _, fn := range queued {
		a.Spawn(fn)
	}

	detached := context.WithoutCancel(ctx)
	a.setState(detached, StateRunning, true)
	a.emitLifecycle(detached, LifecycleStarted)
	a.timers.Start(a.Spawn)
	a.logger.Info("agent started", "spawned", len(queued), "timers", len(a.timers.Intervals()))

	go a.loop(runCtx)
	return nil
}

// Run starts the agent and blocks until it stops.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-a.done
	return nil
}

// RunInThread runs the whole lifecycle on a goroutine locked to its own OS
// thread. The returned channel yields Run's result.
func (a *Agent) RunInThread(ctx context.Context) <-chan error {
	errc := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		errc <- a.Run(ctx)
	}()
	return errc
}

// loop polls should_stop, then finishes the lifecycle.
func (a *Agent) loop(ctx context.Context) {
	ticker := time.NewTicker(a.stopPoll)
	defer ticker.Stop()

	cancelled := ctx.Done()
	for !a.ShouldStop() {
		select {
		case <-cancelled:
			cancelled = nil
			a.Stop()
		case <-ticker.C:
		}
	}

	detached := context.WithoutCancel(ctx)
	a.emitLifecycle(detached, LifecycleStopped)
	a.setState(detached, StateRunning, false)
	a.finish()
}

// Stop requests shutdown. Only the first call has any effect.
func (a *Agent) Stop() {
	if !a.stopping.CompareAndSwap(false, true) {
		return
	}
	ctx := context.Background()

	started := a.phase.CompareAndSwap(int32(Running), int32(Stopping))
	a.logger.Info("agent stopping")
	a.emitLifecycle(ctx, LifecycleStopping)
	a.setState(ctx, StateShouldStop, true)
	a.timers.Stop()

	if !started {
		a.finish()
	}
}

// finish marks the agent Stopped and releases Run.
func (a *Agent) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if Phase(a.phase.Load()) == Stopped {
		return
	}
	a.phase.Store(int32(Stopped))
	if a.cancel != nil {
		a.cancel()
	}
	close(a.done)
	a.logger.Info("agent stopped")
}

// onShouldStop closes every connection on the should_stop false->true edge.
func (a *Agent) onShouldStop(_ context.Context, _ handler.Self, f *frame.Frame) (frame.Data, error) {
	value, _ := f.Get("value")
	last, _ := f.Get("last")
	if last == false && value == true {
		if err := a.Close(); err != nil {
			a.logger.Warn("closing connections", "error", err)
		}
	}
	return nil, nil
}

func (a *Agent) emitLifecycle(ctx context.Context, name string) {
	if _, err := a.Emit(ctx, name, nil, frame.Internal()); err != nil {
		a.logger.Error("emitting lifecycle event", "event", name, "error", err)
	}
}

func (a *Agent) setState(ctx context.Context, name string, value any) {
	if err := a.SetState(ctx, name, value); err != nil {
		a.logger.Error("setting state", "state", name, "error", err)
	}
}
