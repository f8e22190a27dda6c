package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/market-feed/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Dictionary writes go to the primary store and refresh the cache;
// journal appends write the latest snapshot through so subscribers polling
// for it never hit the database.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) UpsertInstrument(ctx context.Context, def *model.InstrumentDef) error {
	if err := s.primary.UpsertInstrument(ctx, def); err != nil {
		return err
	}
	s.setJSON(ctx, instrumentKey(def.ID), def)
	// The list is rebuilt on next read.
	s.rdb.Del(ctx, instrumentListKey)
	return nil
}

func (s *CachedStore) AppendJournal(ctx context.Context, entry *model.JournalEntry) error {
	if err := s.primary.AppendJournal(ctx, entry); err != nil {
		return err
	}
	s.setJSON(ctx, latestKey(entry.InstrumentID), entry)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetInstrument(ctx context.Context, id string) (*model.InstrumentDef, error) {
	var def model.InstrumentDef
	if s.getJSON(ctx, instrumentKey(id), &def) {
		return &def, nil
	}

	// Cache miss: read from primary.
	d, err := s.primary.GetInstrument(ctx, id)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, instrumentKey(id), d)
	return d, nil
}

func (s *CachedStore) ListInstruments(ctx context.Context) ([]model.InstrumentDef, error) {
	var defs []model.InstrumentDef
	if s.getJSON(ctx, instrumentListKey, &defs) {
		return defs, nil
	}

	defs, err := s.primary.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, instrumentListKey, defs)
	return defs, nil
}

func (s *CachedStore) LatestSnapshot(ctx context.Context, id string) (*model.JournalEntry, error) {
	var e model.JournalEntry
	if s.getJSON(ctx, latestKey(id), &e) {
		return &e, nil
	}

	entry, err := s.primary.LatestSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	s.setJSON(ctx, latestKey(id), entry)
	return entry, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) History(ctx context.Context, id string, limit int) ([]model.JournalEntry, error) {
	return s.primary.History(ctx, id, limit)
}

// --- Cache helpers ---

// getJSON reports whether key was present and decoded. Redis errors count
// as misses.
func (s *CachedStore) getJSON(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) setJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const instrumentListKey = "instruments"

func instrumentKey(id string) string { return fmt.Sprintf("instrument:%s", id) }
func latestKey(id string) string     { return fmt.Sprintf("snapshot:latest:%s", id) }
