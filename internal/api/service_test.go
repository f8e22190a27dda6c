package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/market-feed/internal/api"
	"github.com/atmx/market-feed/internal/feed"
	"github.com/atmx/market-feed/internal/instrument"
	"github.com/atmx/market-feed/internal/model"
	"github.com/atmx/market-feed/internal/pricing"
	"github.com/atmx/market-feed/internal/store"
)

type recorder struct {
	mu    sync.Mutex
	notes []model.Notification
}

func (r *recorder) Notify(n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) count(typ model.NotificationType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.Type == typ {
			n++
		}
	}
	return n
}

type fakeFetcher struct {
	rec model.PriceRecord
	err error
}

func (f fakeFetcher) Fetch(_ context.Context, id string) (model.PriceRecord, error) {
	if f.err != nil {
		return model.PriceRecord{}, f.err
	}
	rec := f.rec
	rec.Symbol = id
	return rec, nil
}

type testEnv struct {
	svc      *api.Service
	registry *feed.Registry
	store    *store.MemoryStore
	notes    *recorder
	router   http.Handler
}

// newTestEnv creates a Service over a registry holding AAPL, MSFT.O and EUR=.
func newTestEnv(t *testing.T, fetcher pricing.Fetcher) *testEnv {
	t.Helper()
	notes := &recorder{}
	reg := feed.New("reuters", notes, nil)
	for _, inst := range []*instrument.Instrument{
		instrument.New(model.KindEquity, "AAPL"),
		instrument.New(model.KindEquity, "MSFT.O"),
		instrument.New(model.KindCurrency, "EUR="),
	} {
		if err := reg.Register(inst); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	ms := store.NewMemoryStore(0)
	svc := api.NewService(reg, ms, fetcher, nil, nil)
	return &testEnv{svc: svc, registry: reg, store: ms, notes: notes, router: svc.Router(5 * time.Second)}
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["feed"] != "reuters" || body["instruments"] != float64(3) {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestListInstruments(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/instruments")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	views := decode[[]api.InstrumentView](t, w)
	if len(views) != 3 {
		t.Fatalf("expected 3 instruments, got %d", len(views))
	}
	if views[0].ID != "AAPL" || views[0].Loop != "idle" || views[0].Snapshot == nil {
		t.Errorf("unexpected first view %+v", views[0])
	}
}

func TestListInstruments_KindFilter(t *testing.T) {
	env := newTestEnv(t, nil)

	views := decode[[]api.InstrumentView](t, env.do(t, http.MethodGet, "/api/v1/instruments?kind=Currency"))
	if len(views) != 1 || views[0].ID != "EUR=" {
		t.Errorf("expected only EUR=, got %+v", views)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/instruments?kind=option"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown kind, got %d", w.Code)
	}
}

func TestGetInstrument_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, http.MethodGet, "/api/v1/instruments/XYZ"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestSubscribe_EmitsImage(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/instruments/AAPL/subscribe")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[api.SubscribeResponse](t, w)
	if resp.ID != "AAPL" || resp.Subscribers != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if got := env.notes.count(model.NotificationImage); got != 1 {
		t.Errorf("expected 1 image emitted, got %d", got)
	}

	env.do(t, http.MethodPost, "/api/v1/instruments/AAPL/subscribe")
	view := decode[api.InstrumentView](t, env.do(t, http.MethodGet, "/api/v1/instruments/AAPL"))
	if view.Subscribers != 2 {
		t.Errorf("expected 2 subscribers, got %d", view.Subscribers)
	}
}

func TestSubscribe_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	if w := env.do(t, http.MethodPost, "/api/v1/instruments/XYZ/subscribe"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if got := env.notes.count(model.NotificationImage); got != 0 {
		t.Errorf("expected no images, got %d", got)
	}
}

func TestSubscribe_PoisonedInstrument(t *testing.T) {
	notes := &recorder{}
	reg := feed.New("reuters", notes, nil)
	bad := instrument.New(model.KindEquity, "BAD")
	func() {
		defer func() { recover() }()
		bad.Mutate(func(*model.Snapshot) { panic("corrupt feed") })
	}()
	reg.Register(bad)

	router := api.NewService(reg, nil, nil, nil, nil).Router(0)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instruments/BAD/subscribe", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/instruments/BAD", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	view := decode[api.InstrumentView](t, w)
	if view.Fault == "" || view.Snapshot != nil {
		t.Errorf("expected fault reported without snapshot, got %+v", view)
	}
}

func TestFlush_OnlySubscribed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/v1/instruments/AAPL/subscribe")
	env.do(t, http.MethodPost, "/api/v1/instruments/EUR=/subscribe")

	w := env.do(t, http.MethodPost, "/api/v1/flush")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode[map[string]int](t, w)["emitted"]; got != 2 {
		t.Errorf("expected 2 images flushed, got %d", got)
	}
	if got := env.notes.count(model.NotificationImage); got != 4 {
		t.Errorf("expected 4 images total, got %d", got)
	}
}

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for tick := uint64(1); tick <= 5; tick++ {
		env.store.AppendJournal(ctx, &model.JournalEntry{
			InstrumentID: "AAPL",
			Type:         model.NotificationUpdate,
			Snapshot:     model.Snapshot{Tick: tick},
			Timestamp:    time.Now().UTC(),
		})
	}

	entries := decode[[]model.JournalEntry](t, env.do(t, http.MethodGet, "/api/v1/instruments/AAPL/history?limit=2"))
	if len(entries) != 2 || entries[1].Snapshot.Tick != 5 {
		t.Errorf("expected last two entries, got %+v", entries)
	}

	empty := decode[[]model.JournalEntry](t, env.do(t, http.MethodGet, "/api/v1/instruments/EUR=/history"))
	if len(empty) != 0 {
		t.Errorf("expected empty history, got %d", len(empty))
	}

	if w := env.do(t, http.MethodGet, "/api/v1/instruments/AAPL/history?limit=-1"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative limit, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/instruments/XYZ/history"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestGetHistory_NoStore(t *testing.T) {
	reg := feed.New("reuters", nil, nil)
	reg.Register(instrument.New(model.KindEquity, "AAPL"))
	router := api.NewService(reg, nil, nil, nil, nil).Router(0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/instruments/AAPL/history", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestGetQuote(t *testing.T) {
	env := newTestEnv(t, fakeFetcher{rec: model.PriceRecord{
		Source: "marketstack",
		Close:  decimal.RequireFromString("415.26"),
	}})

	w := env.do(t, http.MethodGet, "/api/v1/quotes/MSFT.O")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	rec := decode[model.PriceRecord](t, w)
	if rec.Symbol != "MSFT.O" || !rec.Close.Equal(decimal.RequireFromString("415.26")) {
		t.Errorf("unexpected record %+v", rec)
	}

	// The quote never touches live state.
	snap, _ := env.registry.Snapshot("MSFT.O")
	if snap.Last != 0 {
		t.Errorf("expected live state untouched, got last %v", snap.Last)
	}
}

func TestGetQuote_Errors(t *testing.T) {
	cases := []struct {
		name    string
		fetcher pricing.Fetcher
		status  int
	}{
		{"not configured", nil, http.StatusServiceUnavailable},
		{"no data", fakeFetcher{err: pricing.ErrNoData}, http.StatusNotFound},
		{"upstream failure", fakeFetcher{err: errors.Join(pricing.ErrFetch, errors.New("timeout"))}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, tc.fetcher)
			if w := env.do(t, http.MethodGet, "/api/v1/quotes/AAPL"); w.Code != tc.status {
				t.Errorf("expected %d, got %d", tc.status, w.Code)
			}
		})
	}
}
