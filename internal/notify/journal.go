package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/market-feed/internal/model"
	"github.com/atmx/market-feed/internal/store"
)

// JournalSink records notifications into a store asynchronously. The journal
// is best effort: when the queue is full entries are dropped.
type JournalSink struct {
	store   store.Store
	queue   chan model.JournalEntry
	timeout time.Duration
	logger  *slog.Logger
}

// NewJournalSink creates a sink with a queue of bufferSize entries. Run must
// be started for entries to reach the store.
func NewJournalSink(st store.Store, bufferSize int, logger *slog.Logger) *JournalSink {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JournalSink{
		store:   st,
		queue:   make(chan model.JournalEntry, bufferSize),
		timeout: 2 * time.Second,
		logger:  logger.With("component", "journal"),
	}
}

func (s *JournalSink) Notify(n model.Notification) error {
	select {
	case s.queue <- model.JournalEntry{
		InstrumentID: n.InstrumentID,
		Type:         n.Type,
		Snapshot:     n.Snapshot,
		Timestamp:    n.Timestamp,
	}:
		return nil
	default:
		return ErrDropped
	}
}

// Run writes queued entries until ctx is done, then flushes what is left.
func (s *JournalSink) Run(ctx context.Context) {
	for {
		select {
		case e := <-s.queue:
			s.write(ctx, e)
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

func (s *JournalSink) drain() {
	for {
		select {
		case e := <-s.queue:
			s.write(context.Background(), e)
		default:
			return
		}
	}
}

func (s *JournalSink) write(ctx context.Context, e model.JournalEntry) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.AppendJournal(ctx, &e); err != nil {
		s.logger.Warn("journal append failed", "instrument", e.InstrumentID, "err", err)
	}
}
