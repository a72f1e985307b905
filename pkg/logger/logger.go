package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log zerolog.Logger

func init() {
	Log = New(os.Getenv("APP_ENV"), os.Stdout, os.Stderr)
}

// New builds a logger. Production output is JSON on out; anything else is
// pretty printed on console.
func New(env string, out, console io.Writer) zerolog.Logger {
	l := zerolog.New(out).
		With().
		Timestamp().
		Logger()

	if env != "production" {
		l = l.Output(zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339})
	}
	return l
}

// SetLevel sets the global level from its name. Unknown names fall back to
// info and are reported on the global logger.
func SetLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || lvl == zerolog.NoLevel {
		Log.Warn().Str("configured_level", name).Msg("invalid log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}
