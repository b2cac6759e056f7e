package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options controls where and how the process logs.
type Options struct {
	// File is the log file path. Empty means stderr.
	File string

	// Format is FormatText or FormatJSON. Empty means FormatJSON.
	Format string

	// Debug lowers the level to debug.
	Debug bool
}

// Setup builds the process logger, installs it as the slog default and
// returns it with a closer for the underlying file.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %q: %w", opts.File, err)
		}
		out = f
		closer = f
	}

	logger, err := NewLogger(out, opts)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, closer, nil
}

// NewLogger builds a logger writing to w.
func NewLogger(w io.Writer, opts Options) (*slog.Logger, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	switch opts.Format {
	case "", FormatJSON:
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case FormatText:
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q (expected %q or %q)", opts.Format, FormatText, FormatJSON)
	}
}
