// Package store defines persistence for the instrument dictionary and the
// snapshot journal. Implementations include PostgreSQL (source of truth),
// Redis (read-through cache), and in-memory (for testing and single-process
// runs).
package store

import (
	"context"
	"errors"

	"github.com/atmx/market-feed/internal/model"
)

// ErrNotFound is returned when an instrument or journal entry does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. The journal is best effort: the feed
// never blocks a tick on it.
type Store interface {
	// --- Instrument dictionary ---

	// UpsertInstrument inserts or replaces a dictionary entry.
	UpsertInstrument(ctx context.Context, def *model.InstrumentDef) error

	// GetInstrument retrieves a dictionary entry by identifier.
	GetInstrument(ctx context.Context, id string) (*model.InstrumentDef, error)

	// ListInstruments returns all entries ordered by identifier.
	ListInstruments(ctx context.Context) ([]model.InstrumentDef, error)

	// --- Snapshot journal ---

	// AppendJournal records one notification.
	AppendJournal(ctx context.Context, entry *model.JournalEntry) error

	// LatestSnapshot returns the most recent journal entry for an instrument.
	LatestSnapshot(ctx context.Context, id string) (*model.JournalEntry, error)

	// History returns up to limit entries for an instrument, oldest first.
	// limit <= 0 means no limit.
	History(ctx context.Context, id string, limit int) ([]model.JournalEntry, error)
}

// Seed upserts every entry of defs.
func Seed(ctx context.Context, s Store, defs []model.InstrumentDef) error {
	for i := range defs {
		if err := s.UpsertInstrument(ctx, &defs[i]); err != nil {
			return err
		}
	}
	return nil
}
