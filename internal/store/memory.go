package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/market-feed/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and single-process runs. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	instruments map[string]model.InstrumentDef
	journal     map[string][]model.JournalEntry
	maxJournal  int
}

// NewMemoryStore creates a new in-memory store. maxJournal caps the entries
// kept per instrument (oldest dropped first); 0 keeps everything.
func NewMemoryStore(maxJournal int) *MemoryStore {
	return &MemoryStore{
		instruments: make(map[string]model.InstrumentDef),
		journal:     make(map[string][]model.JournalEntry),
		maxJournal:  maxJournal,
	}
}

func (s *MemoryStore) UpsertInstrument(_ context.Context, def *model.InstrumentDef) error {
	if def.ID == "" {
		return fmt.Errorf("upsert instrument: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[def.ID] = *def
	return nil
}

func (s *MemoryStore) GetInstrument(_ context.Context, id string) (*model.InstrumentDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.instruments[id]
	if !ok {
		return nil, fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	return &def, nil
}

func (s *MemoryStore) ListInstruments(_ context.Context) ([]model.InstrumentDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]model.InstrumentDef, 0, len(s.instruments))
	for _, d := range s.instruments {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

func (s *MemoryStore) AppendJournal(_ context.Context, entry *model.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.journal[entry.InstrumentID], *entry)
	if s.maxJournal > 0 && len(entries) > s.maxJournal {
		entries = append([]model.JournalEntry(nil), entries[len(entries)-s.maxJournal:]...)
	}
	s.journal[entry.InstrumentID] = entries
	return nil
}

func (s *MemoryStore) LatestSnapshot(_ context.Context, id string) (*model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.journal[id]
	if len(entries) == 0 {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	e := entries[len(entries)-1]
	return &e, nil
}

func (s *MemoryStore) History(_ context.Context, id string, limit int) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.journal[id]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]model.JournalEntry, len(entries))
	copy(out, entries)
	return out, nil
}
