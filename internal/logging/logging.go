// Package logging builds the root hclog logger handed to every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Config holds logging configuration.
type Config struct {
	Level string `yaml:"level"` // "trace" | "debug" | "info" | "warn" | "error"
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"` // optional; output is also appended here
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates the root logger. The returned closer releases the log file,
// if one was configured.
func New(name string, cfg Config) (hclog.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      ParseLevel(cfg.Level),
		Output:     out,
		JSONFormat: cfg.JSON,
		// colors would end up in the log file
		Color: hclog.ColorOff,
	})
	return logger, closer, nil
}

// ParseLevel converts a level name, defaulting to info.
func ParseLevel(level string) hclog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return hclog.Trace
	case "debug":
		return hclog.Debug
	case "warn", "warning":
		return hclog.Warn
	case "error":
		return hclog.Error
	default:
		return hclog.Info
	}
}
