// Package logging configures the process-wide zerolog logger and hands out
// component-scoped child loggers.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	base zerolog.Logger
)

// Init configures the base logger. Safe to call multiple times; only the
// first call takes effect. Call it once at process startup before any
// WithComponent call, or rely on the lazy default (human-readable console
// output at Info level) set up the first time WithComponent is used.
func Init(level zerolog.Level) {
	once.Do(func() {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
			Level(level).
			With().
			Timestamp().
			Logger()
	})
}

// WithComponent returns a logger tagged with a "component" field, the same
// convention used throughout the module for every long-lived manager type.
func WithComponent(name string) zerolog.Logger {
	Init(zerolog.InfoLevel)
	return base.With().Str("component", name).Logger()
}
