package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/atmx/market-feed/internal/model"
)

// WriterSink writes one JSON object per line to an io.Writer.
type WriterSink struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewWriterSink wraps w. Writes are serialized.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w, enc: json.NewEncoder(w)}
}

// FileOptions controls rotation of a file sink.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFileSink writes JSON lines to a size-rotated file.
func NewFileSink(opts FileOptions) (*WriterSink, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("notify: file sink needs a path")
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	return NewWriterSink(&lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}), nil
}

func (s *WriterSink) Notify(n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(n); err != nil {
		return fmt.Errorf("notify: write: %w", err)
	}
	return nil
}

// Close closes the underlying writer if it is an io.Closer.
func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
