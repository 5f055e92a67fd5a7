// ABOUTME: Entry point for the hive agent runner
// ABOUTME: Runs configured agents, emits one-off frames, hosts relays, writes starter configs

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/hive/internal/agent"
	"github.com/2389/hive/internal/auth"
	"github.com/2389/hive/internal/config"
	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/orchestrator"
	"github.com/2389/hive/internal/store"
	"github.com/2389/hive/internal/transport"
	"github.com/2389/hive/internal/transport/inmemory"
	"github.com/2389/hive/internal/transport/websocket"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _     _
 | |__ (_)_   _____
 | '_ \| \ \ / / _ \
 | | | | |\ V /  __/
 |_| |_|_| \_/ \___|
`

// getConfigPath returns the path to the hive config file.
// Priority: --config flag > HIVE_CONFIG env var > XDG_CONFIG_HOME/hive/hive.yaml > ~/.config/hive/hive.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("HIVE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "hive.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "hive", "hive.yaml")
}

// getDataPath returns the path to the hive data directory.
// Priority: XDG_DATA_HOME/hive > ~/.local/share/hive
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "hive")
}

func defaultJournalPath() string {
	return filepath.Join(getDataPath(), "journal.db")
}

func usage() {
	fmt.Println("Usage: hive <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  run                    Start the agents from the config file")
	fmt.Println("  emit NAME              Send one event or message and exit")
	fmt.Println("  relay                  Host a websocket relay")
	fmt.Println("  history                List frames journaled by recorder agents")
	fmt.Println("  token --name NAME      Issue a relay token signed with the shared secret")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  version                Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "run":
		err = runAgents(ctx, args)
	case "emit":
		err = runEmit(ctx, args)
	case "relay":
		err = runRelay(ctx, args)
	case "history":
		err = runHistory(ctx, args, os.Stdout)
	case "token":
		err = runToken(args, os.Stdout)
	case "init":
		err = runInit(args, os.Stdin)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configFlag := fs.String("config", "", "Config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configPath := getConfigPath(*configFlag)

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Endpoint:  %s\n", cfg.Transport.Endpoint)
	green.Print("    ▶ ")
	fmt.Printf("Space:     %s\n", cfg.Transport.Space)
	for _, ac := range cfg.Agents {
		green.Print("    ▶ ")
		fmt.Printf("Agent:     ")
		cyan.Print(ac.Name)
		gray.Printf(" (%s)", ac.Role)
		fmt.Println()
	}
	fmt.Println()

	agents, err := buildAgents(cfg, logger, agent.WithNetwork(inmemory.NewNetwork(logger)))
	if err != nil {
		return err
	}

	logger.Info("starting hive",
		"config", configPath,
		"endpoint", cfg.Transport.Endpoint,
		"space", cfg.Transport.Space,
		"agents", len(agents),
	)

	var opts []agent.ConnectOption
	if cfg.Transport.Auth != "" {
		opts = append(opts, agent.WithAuth(cfg.Transport.Auth))
	}
	return orchestrator.RunAgents(ctx, agents, cfg.Transport.Endpoint, cfg.Transport.Space, logger, opts...)
}

func runEmit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("emit", flag.ContinueOnError)
	configFlag := fs.String("config", "", "Config file path (supplies endpoint, space and auth defaults)")
	endpoint := fs.String("endpoint", "", "Endpoint to connect to")
	space := fs.String("space", "", "Space to send into")
	credential := fs.String("auth", "", "Transport credential")
	name := fs.String("name", "hive-cli", "Sender agent name")
	kind := fs.String("kind", "event", "Frame kind: event or message")
	data := fs.String("data", "", "JSON object payload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: hive emit [flags] NAME")
	}
	frameName := fs.Arg(0)

	// Flags win over the config file; the config file is optional here.
	if *endpoint == "" || *space == "" {
		cfg, err := config.Load(getConfigPath(*configFlag))
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if *endpoint == "" {
			*endpoint = cfg.Transport.Endpoint
		}
		if *space == "" {
			*space = cfg.Transport.Space
		}
		if *credential == "" {
			*credential = cfg.Transport.Auth
		}
	}
	if transport.Scheme(*endpoint) == transport.SchemeInMemory {
		return fmt.Errorf("%s is process-local; emit needs a redis:// or ws:// endpoint", *endpoint)
	}

	payload, err := parseData(*data)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	sender, err := agent.New(*name, agent.WithLogger(logger))
	if err != nil {
		return err
	}
	defer sender.Stop()

	var opts []agent.ConnectOption
	if *credential != "" {
		opts = append(opts, agent.WithAuth(*credential))
	}
	if err := sender.Connect(ctx, *endpoint, opts...); err != nil {
		return fmt.Errorf("connecting to %s: %w", *endpoint, err)
	}
	if err := sender.Join(ctx, *space); err != nil {
		return fmt.Errorf("joining %s: %w", *space, err)
	}

	var sent *frame.Frame
	switch *kind {
	case "event":
		sent, err = sender.Emit(ctx, frameName, payload, frame.WithSpace(*space))
	case "message":
		sent, err = sender.Message(ctx, frameName, payload, frame.WithSpace(*space))
	default:
		return fmt.Errorf("unsupported kind %q (want event or message)", *kind)
	}
	if err != nil {
		return err
	}

	fmt.Printf("sent %s %s (%s) to %s/%s\n", *kind, frameName, sent.ID(), *endpoint, *space)
	return sender.Close()
}

func parseData(raw string) (frame.Data, error) {
	if raw == "" {
		return nil, nil
	}
	var data frame.Data
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("--data must be a JSON object: %w", err)
	}
	return data, nil
}

func runRelay(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	addr := fs.String("addr", "localhost:8765", "Listen address")
	credential := fs.String("auth", os.Getenv("HIVE_AUTH"), "Shared secret clients must present (or a token issued with it)")
	level := fs.String("log-level", "info", "Log level (debug/info/warn/error)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := setupLogger(config.LoggingConfig{Level: *level, Format: config.DefaultLogFormat})
	relay := websocket.NewRelay(*credential, logger)
	if err := relay.Listen(*addr); err != nil {
		return err
	}
	defer relay.Close()

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Relay:     ws://%s\n", relay.Addr())
	if *credential != "" {
		green.Print("    ▶ ")
		fmt.Println("Auth:      bearer")
	}

	<-ctx.Done()
	logger.Info("relay shutting down")
	return nil
}

func runHistory(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	path := fs.String("db", defaultJournalPath(), "Journal database path")
	space := fs.String("space", "", "Only frames in this space")
	name := fs.String("name", "", "Only frames with this name")
	source := fs.String("source", "", "Only frames from this agent")
	kind := fs.String("kind", "", "Only frames of this kind")
	since := fs.Duration("since", 0, "Only frames recorded within this long")
	limit := fs.Int("limit", 50, "Maximum frames to list (1-500)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params := store.ListParams{
		Space:  *space,
		Name:   *name,
		Source: *source,
		Limit:  *limit,
	}
	if *kind != "" {
		k, err := frame.ParseKind(*kind)
		if err != nil {
			return err
		}
		params.Kind = k
	}
	if *since > 0 {
		cutoff := time.Now().Add(-*since)
		params.Since = &cutoff
	}

	if _, err := os.Stat(*path); err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	journal, err := store.NewSQLiteStore(*path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer journal.Close()

	records, err := journal.ListFrames(ctx, params)
	if err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)
	for _, rec := range records {
		f := rec.Frame
		gray.Fprintf(out, "%s ", rec.RecordedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "%-8s ", f.Kind())
		cyan.Fprint(out, f.Name())
		fmt.Fprintf(out, " from=%s space=%s id=%s", f.Source(), f.Space(), f.ID())
		if data := f.Data(); len(data) > 0 {
			encoded, err := json.Marshal(data)
			if err == nil {
				fmt.Fprintf(out, " data=%s", encoded)
			}
		}
		fmt.Fprintln(out)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "no frames recorded")
	}
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("auth", os.Getenv("HIVE_AUTH"), "Shared relay secret")
	name := fs.String("name", "", "Agent name to put in the token")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("--name is required")
	}
	if err := frame.ValidateName(*name); err != nil {
		return fmt.Errorf("--name: %w", err)
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	token, err := auth.NewCredential(*secret).Issue(*name, *ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w (set --auth or HIVE_AUTH)", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

func runInit(args []string, in io.Reader) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configFlag := fs.String("config", "", "Config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reader := bufio.NewReader(in)

	fmt.Println("hive configuration setup")
	fmt.Println("========================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath(*configFlag))

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Transport Configuration ---")
	endpoint := prompt(reader, "Endpoint (inmemory://name, redis://host:port, ws://host:port)", config.DefaultEndpoint)
	space := prompt(reader, "Space", config.DefaultSpace)

	content := strings.Replace(config.Starter, `endpoint: "`+config.DefaultEndpoint+`"`, fmt.Sprintf("endpoint: %q", endpoint), 1)
	content = strings.Replace(content, `space: "`+config.DefaultSpace+`"`, fmt.Sprintf("space: %q", space), 1)

	// Catch typos before writing anything.
	if _, err := config.Parse(content, config.FormatYAML); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("Start the agents with: hive run --config", outputFile)
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{mu: &sync.Mutex{}, level: level}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		mu:     h.mu,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		mu:     h.mu,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
