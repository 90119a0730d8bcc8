// Package logging sets up the shared zerolog.Logger used throughout the
// daemon. Console-pretty output when attached to a terminal, JSON otherwise
// — grounded on sa6mwa-psi's zerolog + go-isatty/go-colorable stack, the one
// logging setup the retrieval pack actually depends on.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// New builds a root logger writing to w (os.Stdout in production, a buffer
// in tests) at the given level ("debug", "info", "warn", "error"; unknown
// or empty defaults to "info").
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		out = zerolog.ConsoleWriter{Out: colorable.NewColorable(f), TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Component returns a child logger tagged with component=name, matching the
// teacher's "[gosv] ..." prefix convention but structured.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
