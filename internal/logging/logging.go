// Package logging builds the process slog.Logger: JSON records to stderr and,
// optionally, to a size-rotated file.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	Debug     bool
	Verbosity int // -v count: 0 info, 1+ debug
	File      string
	MaxSizeMB int
	Backups   int
	MaxAge    int
	Compress  bool
	Output    io.Writer // defaults to os.Stderr
}

// Level maps the debug flag and verbosity count to a slog level.
func Level(debug bool, verbosity int) slog.Level {
	switch {
	case debug, verbosity >= 1:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// New returns the logger and a closer for the rotated file, if any.
func New(opts Options) (*slog.Logger, io.Closer) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		fileLogger := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB, // Megabytes
			MaxBackups: opts.Backups,
			MaxAge:     opts.MaxAge, // Days
			Compress:   opts.Compress,
		}
		out = io.MultiWriter(out, fileLogger)
		closer = fileLogger
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     Level(opts.Debug, opts.Verbosity),
		AddSource: opts.Debug,
	}
	return slog.New(slog.NewJSONHandler(out, handlerOpts)), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
