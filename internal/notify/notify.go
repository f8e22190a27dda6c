// Package notify provides the sinks that feed notifications leave through:
// structured log lines, JSON-lines files, WebSocket clients, a RabbitMQ
// fanout exchange and the snapshot journal. Every sink implements
// Notify(model.Notification) error and is safe for concurrent use.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/atmx/market-feed/internal/model"
)

// ErrDropped is returned when a sink's buffer is full and a notification was
// discarded instead of blocking the caller.
var ErrDropped = errors.New("notify: notification dropped")

// Sink receives notifications.
type Sink interface {
	Notify(n model.Notification) error
}

// Fanout delivers each notification to every sink in order. A failing sink
// does not stop delivery to the others; all errors are joined.
type Fanout []Sink

func (f Fanout) Notify(n model.Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each notification as a structured log record. Updates are
// logged at Debug, images at Info.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(n model.Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelDebug
	if n.Type == model.NotificationImage {
		level = slog.LevelInfo
	}
	logger.LogAttrs(context.Background(), level, "notification",
		slog.String("type", string(n.Type)),
		slog.String("feed", n.Feed),
		slog.String("instrument", n.InstrumentID),
		slog.String("kind", string(n.Kind)),
		slog.Float64("last", n.Snapshot.Last),
		slog.Uint64("tick", n.Snapshot.Tick),
	)
	return nil
}
