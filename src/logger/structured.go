package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// StructuredLogger writes leveled logs through zerolog.
// Used by long-running agents where logs are shipped or filtered by level.
type StructuredLogger struct {
	zl zerolog.Logger
}

// NewStructuredLogger creates a zerolog-backed logger.
// format is "console" for human-readable output or "json".
func NewStructuredLogger(w io.Writer, format, level string) (*StructuredLogger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = w
	switch format {
	case "console", "":
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	case "json":
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	zl := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return &StructuredLogger{zl: zl}, nil
}

// With returns a logger that tags every entry with a component name.
func (s *StructuredLogger) With(component string) *StructuredLogger {
	return &StructuredLogger{zl: s.zl.With().Str("component", component).Logger()}
}

func (s *StructuredLogger) Info(msg string, args ...interface{}) {
	s.zl.Info().Msgf(msg, args...)
}

func (s *StructuredLogger) Error(msg string, args ...interface{}) {
	s.zl.Error().Msgf(msg, args...)
}

func (s *StructuredLogger) Debug(msg string, args ...interface{}) {
	s.zl.Debug().Msgf(msg, args...)
}

// New builds the logger selected by configuration: "console", "json", "plain" or "silent".
func New(format, level string) (Logger, error) {
	switch format {
	case "silent":
		return NewSilentLogger(), nil
	case "plain":
		return NewConsoleLogger(os.Stderr), nil
	}
	return NewStructuredLogger(os.Stderr, format, level)
}
