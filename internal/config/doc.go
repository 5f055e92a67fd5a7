// Package config handles configuration loading for hive.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. The package applies defaults and validates the result.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from HIVE_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/hive/hive.yaml
//  4. ~/.config/hive/hive.yaml
//
// Files ending in .toml are decoded as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	transport:
//	  auth: "${HIVE_AUTH}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Transport:
//
//	transport:
//	  endpoint: "redis://localhost:6379"  # inmemory://, redis://, ws://
//	  auth: "${HIVE_AUTH}"
//	  space: "hive"
//
// Agents, run in order; the last one blocks:
//
//	agents:
//	  - name: "clock"
//	    role: "clock"
//	    options:
//	      interval: "5s"
//
// Runtime tuning:
//
//	runtime:
//	  stop_poll_interval: "1s"
//	  join_timeout: "10s"
//	  dedupe:
//	    error_rate: 0.001
//	    initial_capacity: 100
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
