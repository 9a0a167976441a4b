// Package logging builds the slog loggers used across replay-orch: a
// console handler for the terminal and a rotated file handler for the
// persistent log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/hochfrequenz/replay-orchestrator/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level     string
	Format    string // console or json, applies to the file handler
	File      string // empty disables file logging
	MaxSizeMB int
	Console   io.Writer // defaults to stderr; nil-able via DisableConsole
	// DisableConsole drops the terminal handler, used by the TUI which owns
	// the screen.
	DisableConsole bool
}

// New constructs a logger and returns a closer for the file handler.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level := parseLevel(opts.Level)
	var handlers []slog.Handler
	var closer io.Closer = nopCloser{}

	if !opts.DisableConsole {
		w := opts.Console
		if w == nil {
			w = os.Stderr
		}
		handlers = append(handlers, newConsoleHandler(w, level))
	}

	if opts.File != "" {
		rw, err := newFileWriter(opts.File, opts.MaxSizeMB)
		if err != nil {
			return nil, nil, err
		}
		closer = rw

		hopts := &slog.HandlerOptions{Level: level}
		switch strings.ToLower(strings.TrimSpace(opts.Format)) {
		case "json":
			handlers = append(handlers, slog.NewJSONHandler(rw, hopts))
		case "console", "text", "":
			handlers = append(handlers, slog.NewTextHandler(rw, hopts))
		default:
			rw.Close()
			return nil, nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
		}
	}

	return slog.New(newFanoutHandler(handlers...)), closer, nil
}

// NewFromConfig creates a logger from the [logging] config section.
func NewFromConfig(cfg *config.Config, disableConsole bool) (*slog.Logger, io.Closer, error) {
	if cfg == nil {
		return New(Options{Level: "info"})
	}
	return New(Options{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		File:           cfg.Logging.File,
		MaxSizeMB:      cfg.Logging.MaxSizeMB,
		DisableConsole: disableConsole,
	})
}

// Discard returns a logger that drops everything, for tests and defaults.
func Discard() *slog.Logger {
	return slog.New(newFanoutHandler())
}

// newConsoleHandler writes compact text lines. Timestamps are dropped when
// the writer is not a terminal so piped output diffs cleanly.
func newConsoleHandler(w io.Writer, level slog.Level) slog.Handler {
	tty := IsTerminal(w)
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) == 0 && attr.Key == slog.TimeKey {
				if !tty {
					return slog.Attr{}
				}
				return slog.String(slog.TimeKey, attr.Value.Time().Format("15:04:05"))
			}
			return attr
		},
	})
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
