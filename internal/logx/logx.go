// Package logx builds the zerolog loggers shared by the lineage binaries.
package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects where and how logs are written.
type Config struct {
	Out   io.Writer // default os.Stderr
	Level string    // trace, debug, info, warn, error (default info)
	JSON  bool      // raw JSON lines instead of the console writer
}

// NewLogger returns a zerolog logger configured for console output at info.
func NewLogger() zerolog.Logger {
	log, _ := New(Config{})
	return log
}

// New returns a logger for cfg. An unknown level is reported and info is used.
func New(cfg Config) (zerolog.Logger, error) {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	level, err := ParseLevel(cfg.Level)

	zerolog.CallerMarshalFunc = shortCaller
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()
	return logger, err
}

// ParseLevel maps a level name to a zerolog level. Empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("log level %q: %w", s, err)
	}
	return level, nil
}

// shortCaller keeps just the file name and pads it so messages line up.
func shortCaller(pc uintptr, file string, line int) string {
	return fmt.Sprintf("%-28s", fmt.Sprintf("%s:%d", filepath.Base(file), line))
}
