package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aran/fanlog/internal/workload"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FANLOG_"

// Config holds the settings for one harness run.
type Config struct {
	// Sink destination; "-" is stdout.
	Path string `json:"path"`

	Workers    int      `json:"workers"`
	Iterations int      `json:"iterations"`
	Delay      Duration `json:"delay"`

	Workload string `json:"workload"`
	Input    int    `json:"input"`

	Timestamps             bool `json:"timestamps"`
	Sync                   bool `json:"sync"`
	Echo                   bool `json:"echo"`
	ContinueOnWriteFailure bool `json:"continue_on_write_failure"`

	Logging LoggingConfig `json:"logging"`
}

// LoggingConfig controls operational logging, not the records themselves.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Duration is a time.Duration that reads "250ms" style strings or plain
// integer milliseconds from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val) * time.Millisecond)
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in settings: three workers, five iterations
// each, 100ms apart, computing fibonacci(10) into log.txt.
func Default() *Config {
	return &Config{
		Path:       "log.txt",
		Workers:    3,
		Iterations: 5,
		Delay:      Duration(100 * time.Millisecond),
		Workload:   "fibonacci",
		Input:      10,
		Timestamps: true,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the optional JSON file at path over the defaults, then applies
// environment overrides and validates. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for callers that layer more overrides
// on top before validating.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnvironmentOverrides() error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("PATH", &c.Path)
	integer("WORKERS", &c.Workers)
	integer("ITERATIONS", &c.Iterations)
	if v, ok := os.LookupEnv(EnvPrefix + "DELAY"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sDELAY: %w", EnvPrefix, err))
		} else {
			c.Delay = Duration(d)
		}
	}
	str("WORKLOAD", &c.Workload)
	integer("INPUT", &c.Input)
	boolean("TIMESTAMPS", &c.Timestamps)
	boolean("SYNC", &c.Sync)
	boolean("ECHO", &c.Echo)
	boolean("CONTINUE_ON_WRITE_FAILURE", &c.ContinueOnWriteFailure)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment override: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks the configuration for values no run could use.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", c.Iterations)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %s", c.Delay.Std())
	}
	if _, err := workload.New(c.Workload, c.Input); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}
