// Package logging constructs the process-wide structured logger. All
// output goes to stderr: stdout is reserved for the JSON-RPC line
// protocol and must never carry a stray log line.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration, loaded as part of the
// top-level configuration snapshot.
type Config struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// New constructs a zerolog logger. out is normally os.Stderr; tests pass
// a buffer instead.
func New(cfg Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
			level = parsed
		}
	}

	writer := out
	if cfg.Pretty {
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: zerolog.TimeFieldFormat}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
