package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds demo settings read from MMATE_* environment variables
type Config struct {
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string        `envconfig:"LOG_FORMAT" default:"text"`
	RPCTimeout   time.Duration `envconfig:"RPC_TIMEOUT" default:"5s"`
	TopologyFile string        `envconfig:"TOPOLOGY_FILE"`
	Metrics      bool          `envconfig:"METRICS" default:"false"`
}

// LoadConfig reads the environment
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("MMATE", cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings after flags have been applied
func (c *Config) Validate() error {
	var errs []error
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat))
	}
	if c.RPCTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rpc timeout must be positive, got %s", c.RPCTimeout))
	}
	return errors.Join(errs...)
}

// Logger builds the slog logger described by the config
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
