// Package logging configures the process slog logger. Logs go to stderr so
// they never interleave with the presenter's stdout.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Formats.
const (
	Auto = "auto" // tint on a terminal, json otherwise
	JSON = "json"
	Text = "text"
	Tint = "tint"
)

// Options select the handler.
type Options struct {
	Format    string
	Level     string
	AddSource bool
}

// New builds a logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level := slog.LevelInfo
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("could not parse log level: %w", err)
		}
	}

	handlerOptions := slog.HandlerOptions{
		AddSource: opts.AddSource,
		Level:     level,
	}

	format := opts.Format
	if format == "" || format == Auto {
		format = JSON
		if IsTerminal(w) {
			format = Tint
		}
	}

	var handler slog.Handler
	switch format {
	case JSON:
		handler = slog.NewJSONHandler(w, &handlerOptions)
	case Text:
		handler = slog.NewTextHandler(w, &handlerOptions)
	case Tint:
		handler = tint.NewHandler(w, &tint.Options{
			AddSource:  handlerOptions.AddSource,
			Level:      handlerOptions.Level,
			TimeFormat: time.Kitchen,
			NoColor:    !IsTerminal(w),
		})
	default:
		return nil, fmt.Errorf("unknown logging format: %s", opts.Format)
	}
	return slog.New(handler), nil
}

// Initialize builds the logger and installs it as the slog default.
func Initialize(w io.Writer, opts Options) (*slog.Logger, error) {
	logger, err := New(w, opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	logger.Debug("logging initialized", "format", opts.Format, "level", opts.Level)
	return logger, nil
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
