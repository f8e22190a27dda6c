package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/market-feed/internal/model"
	"github.com/atmx/market-feed/internal/store"
)

func entry(id string, tick uint64) *model.JournalEntry {
	return &model.JournalEntry{
		InstrumentID: id,
		Type:         model.NotificationUpdate,
		Snapshot:     model.Snapshot{Last: float64(tick) * 1.5, Tick: tick},
		Timestamp:    time.Unix(int64(tick), 0).UTC(),
	}
}

func TestMemoryStore_InstrumentRoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore(0)

	if err := store.Seed(ctx, ms, store.DefaultDictionary()); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	got, err := ms.GetInstrument(ctx, "EUR=")
	if err != nil {
		t.Fatalf("GetInstrument: %v", err)
	}
	if got.Kind != model.KindCurrency {
		t.Errorf("expected currency, got %s", got.Kind)
	}

	// Upsert replaces.
	updated := *got
	updated.Close = decimal.RequireFromString("1.2")
	ms.UpsertInstrument(ctx, &updated)
	got, _ = ms.GetInstrument(ctx, "EUR=")
	if !got.Close.Equal(decimal.RequireFromString("1.2")) {
		t.Errorf("expected close 1.2, got %s", got.Close)
	}

	list, _ := ms.ListInstruments(ctx)
	if len(list) != 6 {
		t.Fatalf("expected 6 instruments, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Errorf("list not sorted: %s before %s", list[i-1].ID, list[i].ID)
		}
	}
}

func TestMemoryStore_GetInstrumentNotFound(t *testing.T) {
	ms := store.NewMemoryStore(0)
	_, err := ms.GetInstrument(context.Background(), "XYZ")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_Journal(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore(0)

	if _, err := ms.LatestSnapshot(ctx, "AAPL"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on empty journal, got %v", err)
	}

	for tick := uint64(1); tick <= 5; tick++ {
		ms.AppendJournal(ctx, entry("AAPL", tick))
	}
	ms.AppendJournal(ctx, entry("EUR=", 1))

	latest, err := ms.LatestSnapshot(ctx, "AAPL")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest.Snapshot.Tick != 5 {
		t.Errorf("expected tick 5, got %d", latest.Snapshot.Tick)
	}

	all, _ := ms.History(ctx, "AAPL", 0)
	if len(all) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(all))
	}
	recent, _ := ms.History(ctx, "AAPL", 2)
	if len(recent) != 2 || recent[0].Snapshot.Tick != 4 || recent[1].Snapshot.Tick != 5 {
		t.Errorf("expected ticks [4 5], got %+v", recent)
	}
}

func TestMemoryStore_JournalCap(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore(3)
	for tick := uint64(1); tick <= 10; tick++ {
		ms.AppendJournal(ctx, entry("AAPL", tick))
	}
	all, _ := ms.History(ctx, "AAPL", 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 retained entries, got %d", len(all))
	}
	if all[0].Snapshot.Tick != 8 {
		t.Errorf("expected oldest retained tick 8, got %d", all[0].Snapshot.Tick)
	}
}
