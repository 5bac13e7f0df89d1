package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/switchyard/pkg/types"
)

// Logger is the process-wide root logger. Packages derive child loggers
// from it at construction instead of logging through it directly.
var Logger zerolog.Logger

// Config holds logging configuration.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values fall
	// back to info.
	Level      string
	JSONOutput bool
	Output     io.Writer
}

// Init configures the global logger. Call once at startup, before any
// package derives a child logger.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent derives a child logger tagged with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRef derives a child logger tagged with a plug point's identity.
func WithRef(ref types.Ref) zerolog.Logger {
	return Logger.With().
		Str("domain", string(ref.Domain)).
		Str("key", ref.Key).
		Logger()
}

// Errorf logs err at error level with msg as context.
func Errorf(msg string, err error) {
	Logger.Error().Err(err).Msg(msg)
}
