package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/market-feed/internal/model"
)

// Schema creates the tables used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS instruments (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	close      NUMERIC NOT NULL DEFAULT 0,
	volatility NUMERIC NOT NULL DEFAULT 0.04
);

CREATE TABLE IF NOT EXISTS snapshot_journal (
	seq           BIGSERIAL PRIMARY KEY,
	instrument_id TEXT NOT NULL,
	type          TEXT NOT NULL,
	last          DOUBLE PRECISION NOT NULL,
	bid           DOUBLE PRECISION NOT NULL,
	ask           DOUBLE PRECISION NOT NULL,
	open          DOUBLE PRECISION NOT NULL,
	close         DOUBLE PRECISION NOT NULL,
	tick          BIGINT NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS snapshot_journal_instrument_idx
	ON snapshot_journal (instrument_id, seq);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Dictionary prices are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertInstrument(ctx context.Context, d *model.InstrumentDef) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO instruments (id, name, kind, close, volatility)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, kind = EXCLUDED.kind,
		     close = EXCLUDED.close, volatility = EXCLUDED.volatility`,
		d.ID, d.Name, string(d.Kind), d.Close.String(), d.Volatility.String(),
	)
	return err
}

func (s *PostgresStore) GetInstrument(ctx context.Context, id string) (*model.InstrumentDef, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, kind, close::TEXT, volatility::TEXT
		 FROM instruments WHERE id = $1`, id)
	d, err := scanInstrument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get instrument %s: %w", id, err)
	}
	return d, nil
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]model.InstrumentDef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, kind, close::TEXT, volatility::TEXT
		 FROM instruments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []model.InstrumentDef
	for rows.Next() {
		d, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *d)
	}
	return defs, rows.Err()
}

func (s *PostgresStore) AppendJournal(ctx context.Context, e *model.JournalEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO snapshot_journal (instrument_id, type, last, bid, ask, open, close, tick, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.InstrumentID, string(e.Type),
		e.Snapshot.Last, e.Snapshot.Bid, e.Snapshot.Ask, e.Snapshot.Open, e.Snapshot.Close,
		int64(e.Snapshot.Tick), e.Timestamp,
	)
	return err
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, id string) (*model.JournalEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT instrument_id, type, last, bid, ask, open, close, tick, timestamp
		 FROM snapshot_journal WHERE instrument_id = $1
		 ORDER BY seq DESC LIMIT 1`, id)
	e, err := scanJournalEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %s: %w", id, err)
	}
	return e, nil
}

func (s *PostgresStore) History(ctx context.Context, id string, limit int) ([]model.JournalEntry, error) {
	// Newest `limit` rows, returned oldest first.
	query := `SELECT * FROM (
		SELECT seq, instrument_id, type, last, bid, ask, open, close, tick, timestamp
		FROM snapshot_journal WHERE instrument_id = $1
		ORDER BY seq DESC LIMIT $2
	) recent ORDER BY seq`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, query, id, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		var seq int64
		var e model.JournalEntry
		var typ string
		var tick int64
		if err := rows.Scan(&seq, &e.InstrumentID, &typ,
			&e.Snapshot.Last, &e.Snapshot.Bid, &e.Snapshot.Ask, &e.Snapshot.Open, &e.Snapshot.Close,
			&tick, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = model.NotificationType(typ)
		e.Snapshot.Tick = uint64(tick)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstrument(row rowScanner) (*model.InstrumentDef, error) {
	var d model.InstrumentDef
	var kind, closeS, volS string
	if err := row.Scan(&d.ID, &d.Name, &kind, &closeS, &volS); err != nil {
		return nil, err
	}
	d.Kind = model.Kind(kind)
	d.Close, _ = decimal.NewFromString(closeS)
	d.Volatility, _ = decimal.NewFromString(volS)
	return &d, nil
}

func scanJournalEntry(row rowScanner) (*model.JournalEntry, error) {
	var e model.JournalEntry
	var typ string
	var tick int64
	if err := row.Scan(&e.InstrumentID, &typ,
		&e.Snapshot.Last, &e.Snapshot.Bid, &e.Snapshot.Ask, &e.Snapshot.Open, &e.Snapshot.Close,
		&tick, &e.Timestamp); err != nil {
		return nil, err
	}
	e.Type = model.NotificationType(typ)
	e.Snapshot.Tick = uint64(tick)
	return &e, nil
}
