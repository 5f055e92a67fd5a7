// ABOUTME: Built-in agent roles selectable from the config file
// ABOUTME: Each role registers its handlers on a freshly created agent

package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/2389/hive/internal/agent"
	"github.com/2389/hive/internal/config"
	"github.com/2389/hive/internal/dedupe"
	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/handler"
	"github.com/2389/hive/internal/pattern"
	"github.com/2389/hive/internal/store"
)

const defaultClockInterval = 5 * time.Second

// role registers a behaviour on an agent.
type role func(a *agent.Agent, opts map[string]string, logger *slog.Logger) error

var roles = map[string]role{
	"echo":      echoRole,
	"clock":     clockRole,
	"logger":    loggerRole,
	"responder": responderRole,
	"recorder":  recorderRole,
}

func roleNames() []string {
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildAgents creates one agent per config entry with its role applied.
func buildAgents(cfg *config.Config, logger *slog.Logger, extra ...agent.Option) ([]*agent.Agent, error) {
	agents := make([]*agent.Agent, 0, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		a, err := buildAgent(ac, cfg.Runtime, logger, extra...)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func buildAgent(ac config.AgentConfig, rt config.RuntimeConfig, logger *slog.Logger, extra ...agent.Option) (*agent.Agent, error) {
	apply, ok := roles[ac.Role]
	if !ok {
		return nil, fmt.Errorf("agent %q: unknown role %q (have %v)", ac.Name, ac.Role, roleNames())
	}

	opts := []agent.Option{
		agent.WithLogger(logger),
		agent.WithStopPollInterval(rt.StopPollInterval),
		agent.WithJoinTimeout(rt.JoinTimeout),
		agent.WithDedupe(
			dedupe.WithErrorRate(rt.Dedupe.ErrorRate),
			dedupe.WithInitialCapacity(rt.Dedupe.InitialCapacity),
		),
	}
	a, err := agent.New(ac.Name, append(opts, extra...)...)
	if err != nil {
		return nil, err
	}

	features := slices.Clone(ac.Features)
	a.AddFilter(handler.FeatureFlags(func(flag string) bool {
		return slices.Contains(features, flag)
	}))

	if err := apply(a, ac.Options, logger.With("agent", ac.Name, "role", ac.Role)); err != nil {
		return nil, fmt.Errorf("agent %q: %w", ac.Name, err)
	}
	return a, nil
}

// echoRole answers every ping message with a pong message. With the
// "verbose" feature it also echoes any other message back as echo.<name>.
func echoRole(a *agent.Agent, _ map[string]string, logger *slog.Logger) error {
	if err := a.OnMessage("ping", func(ctx context.Context, self handler.Self, f *frame.Frame) (frame.Data, error) {
		logger.Info("ping", "from", f.Source())
		_, err := self.Message(ctx, "pong", frame.Data{"to": f.Source(), "ping_id": f.ID()})
		return nil, err
	}, handler.PassSelf(), handler.Named("echo.ping")); err != nil {
		return err
	}

	return a.OnMessage(pattern.Wildcard, func(ctx context.Context, self handler.Self, f *frame.Frame) (frame.Data, error) {
		name := f.Name()
		if name == "ping" || name == "pong" || strings.HasPrefix(name, "echo.") {
			return nil, nil
		}
		_, err := self.Message(ctx, "echo."+name, f.Data())
		return nil, err
	}, handler.PassSelf(), handler.Requires("verbose"), handler.Named("echo.any"))
}

// clockRole emits a frame on a fixed interval.
// Options: interval (duration, default 5s), name (default tick),
// kind (event or message, default event).
func clockRole(a *agent.Agent, opts map[string]string, logger *slog.Logger) error {
	interval := defaultClockInterval
	if raw := opts["interval"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid clock interval %q: %w", raw, err)
		}
		interval = d
	}
	name := opts["name"]
	if name == "" {
		name = "tick"
	}
	if err := frame.ValidateName(name); err != nil {
		return err
	}
	kind := frame.KindEvent
	if raw := opts["kind"]; raw != "" {
		k, err := frame.ParseKind(raw)
		if err != nil {
			return err
		}
		if k != frame.KindEvent && k != frame.KindMessage {
			return fmt.Errorf("clock kind must be event or message, got %s", k)
		}
		kind = k
	}

	var seq int
	return a.OnTimer(interval, func(ctx context.Context, self handler.Self, _ *frame.Frame) (frame.Data, error) {
		seq++
		data := frame.Data{"seq": seq, "at": time.Now().UTC().Format(time.RFC3339Nano)}
		var err error
		if kind == frame.KindMessage {
			_, err = self.Message(ctx, name, data)
		} else {
			_, err = self.Emit(ctx, name, data)
		}
		if err == nil {
			logger.Debug("clock fired", "name", name, "seq", seq)
		}
		return nil, err
	}, handler.PassSelf(), handler.Named("clock"))
}

// loggerRole logs every frame it sees. State frames need the "state" feature.
func loggerRole(a *agent.Agent, _ map[string]string, logger *slog.Logger) error {
	logFrame := func(_ context.Context, _ handler.Self, f *frame.Frame) (frame.Data, error) {
		logger.Info("frame",
			"kind", f.Kind().String(),
			"name", f.Name(),
			"source", f.Source(),
			"space", f.Space(),
			"id", f.ID(),
		)
		return nil, nil
	}

	for _, k := range []frame.Kind{frame.KindEvent, frame.KindMessage, frame.KindCommand, frame.KindRequest, frame.KindResponse} {
		if err := a.On(k, pattern.Wildcard, logFrame, handler.Named("log."+k.String())); err != nil {
			return err
		}
	}
	return a.OnState(pattern.Wildcard, logFrame, handler.Requires("state"), handler.Named("log.state"))
}

// responderRole answers requests. Options: pattern (default *),
// reply (static text added as "answer").
func responderRole(a *agent.Agent, opts map[string]string, logger *slog.Logger) error {
	pat := opts["pattern"]
	if pat == "" {
		pat = pattern.Wildcard
	}
	reply := opts["reply"]
	name := a.Name()

	return a.OnRequest(pat, func(_ context.Context, _ handler.Self, f *frame.Frame) (frame.Data, error) {
		logger.Info("answering request", "name", f.Name(), "from", f.Source())
		out := frame.Data{"by": name, "request": f.Name()}
		if reply != "" {
			out["answer"] = reply
		}
		return out, nil
	}, handler.Named("responder"))
}

// recorderRole journals every transmitted frame it sees to SQLite.
// Options: path (default <data dir>/journal.db). The journal closes when
// the agent finishes.
func recorderRole(a *agent.Agent, opts map[string]string, logger *slog.Logger) error {
	path := opts["path"]
	if path == "" {
		path = defaultJournalPath()
	}
	journal, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return err
	}
	go func() {
		<-a.Done()
		if err := journal.Close(); err != nil {
			logger.Warn("closing journal", "error", err)
		}
	}()

	name := a.Name()
	record := func(ctx context.Context, _ handler.Self, f *frame.Frame) (frame.Data, error) {
		if f.Internal() {
			return nil, nil
		}
		return nil, journal.SaveFrame(ctx, name, f)
	}
	for _, k := range []frame.Kind{frame.KindEvent, frame.KindMessage, frame.KindState, frame.KindCommand, frame.KindRequest, frame.KindResponse} {
		if err := a.On(k, pattern.Wildcard, record, handler.Named("record."+k.String())); err != nil {
			return err
		}
	}
	return nil
}
