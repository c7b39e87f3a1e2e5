// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Format selects the log encoding.
type Format string

const (
	FormatAuto    Format = ""
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Setup points log.Logger at stderr. With FormatAuto a terminal gets the
// console writer and anything else gets JSON. Unknown levels fall back to info.
func Setup(level string, format Format) zerolog.Logger {
	return SetupWriter(os.Stderr, level, format, isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()))
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level string, format Format, terminal bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	out := w
	if format == FormatConsole || (format == FormatAuto && terminal) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: !terminal}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}
