// ABOUTME: Configuration loading and parsing for hive
// ABOUTME: Supports YAML and TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/hive/internal/frame"
	"github.com/2389/hive/internal/transport"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultEndpoint         = "inmemory://hive"
	DefaultSpace            = "hive"
	DefaultStopPollInterval = time.Second
	DefaultJoinTimeout      = 10 * time.Second
	DefaultErrorRate        = 0.001
	DefaultInitialCapacity  = 100
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// Config represents the complete hive configuration
type Config struct {
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Agents    []AgentConfig   `yaml:"agents" toml:"agents"`
	Runtime   RuntimeConfig   `yaml:"runtime" toml:"runtime"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// TransportConfig says where agents meet
type TransportConfig struct {
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Auth     string `yaml:"auth" toml:"auth"`
	Space    string `yaml:"space" toml:"space"`
}

// AgentConfig describes one agent to run
type AgentConfig struct {
	Name     string            `yaml:"name" toml:"name"`
	Role     string            `yaml:"role" toml:"role"`
	Features []string          `yaml:"features" toml:"features"`
	Options  map[string]string `yaml:"options" toml:"options"`
}

// RuntimeConfig holds agent runtime tuning
type RuntimeConfig struct {
	StopPollInterval time.Duration `yaml:"-" toml:"-"`
	JoinTimeout      time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	StopPollIntervalRaw string `yaml:"stop_poll_interval" toml:"stop_poll_interval"`
	JoinTimeoutRaw      string `yaml:"join_timeout" toml:"join_timeout"`

	Dedupe DedupeConfig `yaml:"dedupe" toml:"dedupe"`
}

// DedupeConfig sizes each agent's dedup set
type DedupeConfig struct {
	ErrorRate       float64 `yaml:"error_rate" toml:"error_rate"`
	InitialCapacity uint    `yaml:"initial_capacity" toml:"initial_capacity"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data), formatOf(path))
}

// Format is a config file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes, defaults and validates configuration text.
func Parse(text string, format Format) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(text)

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Transport.Endpoint == "" {
		c.Transport.Endpoint = DefaultEndpoint
	}
	if c.Transport.Space == "" {
		c.Transport.Space = DefaultSpace
	}
	if c.Runtime.StopPollInterval == 0 {
		c.Runtime.StopPollInterval = DefaultStopPollInterval
	}
	if c.Runtime.JoinTimeout == 0 {
		c.Runtime.JoinTimeout = DefaultJoinTimeout
	}
	if c.Runtime.Dedupe.ErrorRate == 0 {
		c.Runtime.Dedupe.ErrorRate = DefaultErrorRate
	}
	if c.Runtime.Dedupe.InitialCapacity == 0 {
		c.Runtime.Dedupe.InitialCapacity = DefaultInitialCapacity
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	endpoint, err := transport.NormalizeEndpoint(c.Transport.Endpoint)
	if err != nil {
		return fmt.Errorf("transport.endpoint: %w", err)
	}
	switch transport.Scheme(endpoint) {
	case transport.SchemeInMemory, transport.SchemeRedis, transport.SchemeWebsocket:
	default:
		return fmt.Errorf("transport.endpoint: %w: %q", transport.ErrUnsupportedScheme, c.Transport.Endpoint)
	}
	if err := frame.ValidateName(c.Transport.Space); err != nil {
		return fmt.Errorf("transport.space: %w", err)
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if err := frame.ValidateName(a.Name); err != nil {
			return fmt.Errorf("agents[%d].name: %w", i, err)
		}
		if seen[a.Name] {
			return fmt.Errorf("agents[%d].name %q is used more than once", i, a.Name)
		}
		seen[a.Name] = true
		if a.Role == "" {
			return fmt.Errorf("agents[%d].role is required", i)
		}
	}

	if c.Runtime.StopPollInterval < 0 {
		return fmt.Errorf("runtime.stop_poll_interval must be positive")
	}
	if c.Runtime.JoinTimeout < 0 {
		return fmt.Errorf("runtime.join_timeout must be positive")
	}
	if rate := c.Runtime.Dedupe.ErrorRate; rate <= 0 || rate >= 1 {
		return fmt.Errorf("runtime.dedupe.error_rate must be between 0 and 1, got %v", rate)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Runtime.StopPollIntervalRaw != "" {
		cfg.Runtime.StopPollInterval, err = time.ParseDuration(cfg.Runtime.StopPollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing stop_poll_interval %q: %w", cfg.Runtime.StopPollIntervalRaw, err)
		}
	}

	if cfg.Runtime.JoinTimeoutRaw != "" {
		cfg.Runtime.JoinTimeout, err = time.ParseDuration(cfg.Runtime.JoinTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing join_timeout %q: %w", cfg.Runtime.JoinTimeoutRaw, err)
		}
	}

	return nil
}

// Starter is the config written by `hive init`.
const Starter = `# hive configuration

transport:
  endpoint: "inmemory://hive"   # inmemory://<name>, redis://host:port, ws://host:port
  auth: "${HIVE_AUTH}"
  space: "hive"

agents:
  - name: "clock"
    role: "clock"
    options:
      interval: "5s"
  - name: "echo"
    role: "echo"
  - name: "logger"
    role: "logger"

runtime:
  stop_poll_interval: "1s"
  join_timeout: "10s"
  dedupe:
    error_rate: 0.001
    initial_capacity: 100

logging:
  level: "info"   # debug, info, warn, error
  format: "text"  # text, json
`
