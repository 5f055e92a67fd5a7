// ABOUTME: Websocket relay server fanning frames between clients by space.
// ABOUTME: Each client holds one hub subscription converged by subscribe ops.

package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/hive/internal/auth"
	"github.com/2389/hive/internal/bus"
	"github.com/2389/hive/internal/frame"
)

// ErrUnauthorized is returned when a relay rejects the presented credential.
var ErrUnauthorized = errors.New("relay rejected credential")

// Relay serves the websocket relay protocol.
type Relay struct {
	hub        *bus.Hub
	credential *auth.Credential
	logger     *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	closed   bool
}

// NewRelay creates a relay. Clients present either credential itself or a
// token issued with it. An empty credential accepts every client.
func NewRelay(credential string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay")
	return &Relay{
		hub:        bus.NewHub(logger),
		credential: auth.NewCredential(credential),
		logger:     logger,
	}
}

// Hub returns the relay's fan-out hub.
func (r *Relay) Hub() *bus.Hub { return r.hub }

// Handler returns the HTTP handler: "/" upgrades to the relay protocol,
// "/health" reports liveness.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "ok members=%d\n", r.hub.Size())
	})
	mux.HandleFunc("/", r.serveClient)
	return mux
}

// Listen binds addr and serves in the background.
func (r *Relay) Listen(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("relay closed")
	}
	if r.server != nil {
		return fmt.Errorf("relay already listening on %s", r.listener.Addr())
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.listener = ln
	r.server = &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("relay server stopped", "error", err)
		}
	}()

	r.logger.Info("relay listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Close stops the server and detaches every client. Safe to call multiple times.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	server := r.server
	r.mu.Unlock()

	r.hub.Close()
	if server == nil {
		return nil
	}
	return server.Close()
}

func (r *Relay) serveClient(w http.ResponseWriter, req *http.Request) {
	subject, err := r.credential.Authorize(req.Header.Get("Authorization"))
	if err != nil {
		r.logger.Warn("rejected client", "remote", req.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket accept failed", "remote", req.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	sub := r.hub.Attach(ctx)
	logger := r.logger.With("sub_id", sub.ID(), "remote", req.RemoteAddr, "subject", subject)
	logger.Info("client attached")

	go func() {
		defer cancel()
		for d := range sub.C() {
			out := envelope{Op: opFrame, Space: d.Space, Frame: d.Payload}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				logger.Debug("client write failed", "error", err)
				return
			}
		}
	}()

	for {
		var in envelope
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			logger.Info("client detached", "reason", err)
			return
		}
		switch in.Op {
		case opSubscribe:
			sub.Subscribe(in.Spaces...)
			logger.Debug("client subscribed", "spaces", in.Spaces)
		case opPublish:
			if _, err := frame.Decode(in.Frame); err != nil {
				logger.Warn("dropping invalid frame", "space", in.Space, "error", err)
				continue
			}
			if err := frame.ValidateName(in.Space); err != nil {
				logger.Warn("dropping frame for invalid space", "space", in.Space, "error", err)
				continue
			}
			r.hub.Publish(in.Space, in.Frame)
		default:
			logger.Warn("unknown op", "op", in.Op)
		}
	}
}
