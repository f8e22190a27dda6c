// Package api provides the HTTP handlers over the instrument registry:
// listing instruments, subscribing, flushing images, reading the snapshot
// journal and fetching reference quotes.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atmx/market-feed/internal/feed"
	"github.com/atmx/market-feed/internal/instrument"
	"github.com/atmx/market-feed/internal/metrics"
	"github.com/atmx/market-feed/internal/model"
	"github.com/atmx/market-feed/internal/notify"
	"github.com/atmx/market-feed/internal/pricing"
	"github.com/atmx/market-feed/internal/store"
)

// Service serves registry state over HTTP. Store, fetcher and hub are
// optional; their endpoints answer 503 when absent.
type Service struct {
	registry *feed.Registry
	store    store.Store
	fetcher  pricing.Fetcher
	hub      *notify.Hub
	logger   *slog.Logger
}

// NewService creates a new API service.
func NewService(reg *feed.Registry, st store.Store, fetcher pricing.Fetcher, hub *notify.Hub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: reg,
		store:    st,
		fetcher:  fetcher,
		hub:      hub,
		logger:   logger.With("component", "api"),
	}
}

// --- Response types ---

// InstrumentView is the JSON shape of one registered instrument.
type InstrumentView struct {
	ID          string          `json:"id"`
	Kind        model.Kind      `json:"kind"`
	Subscribers uint64          `json:"subscribers"`
	Loop        string          `json:"loop"`
	Snapshot    *model.Snapshot `json:"snapshot,omitempty"`
	Fault       string          `json:"fault,omitempty"`
}

// SubscribeResponse is returned from POST /instruments/{id}/subscribe.
type SubscribeResponse struct {
	ID          string         `json:"id"`
	Subscribers uint64         `json:"subscribers"`
	Image       model.Snapshot `json:"image"`
}

// --- Routing ---

// Router builds the full HTTP handler: middleware, health, metrics and the
// /api/v1 routes.
func (s *Service) Router(timeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"service":     "market-feed",
			"feed":        s.registry.Name(),
			"instruments": s.registry.Len(),
		})
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint; long-lived, so outside the request timeout.
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			if timeout > 0 {
				r.Use(middleware.Timeout(timeout))
			}
			s.Routes(r)
		})
	})
	return r
}

// Routes mounts the REST handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/instruments", s.ListInstruments)
	r.Get("/instruments/{id}", s.GetInstrument)
	r.Post("/instruments/{id}/subscribe", s.Subscribe)
	r.Get("/instruments/{id}/history", s.GetHistory)
	r.Post("/flush", s.Flush)
	r.Get("/quotes/{id}", s.GetQuote)
}

// --- HTTP Handlers ---

// ListInstruments handles GET /api/v1/instruments
// Optionally filtered by ?kind=<kind>.
func (s *Service) ListInstruments(w http.ResponseWriter, r *http.Request) {
	var kind model.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, err := model.ParseKind(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		kind = k
	}

	views := []InstrumentView{}
	for _, id := range s.registry.IDs() {
		v, err := s.view(id)
		if err != nil {
			continue
		}
		if kind != "" && v.Kind != kind {
			continue
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// GetInstrument handles GET /api/v1/instruments/{id}
func (s *Service) GetInstrument(w http.ResponseWriter, r *http.Request) {
	v, err := s.view(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "instrument not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Subscribe handles POST /api/v1/instruments/{id}/subscribe
// The image is emitted to the sinks before the response is written.
func (s *Service) Subscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := s.registry.Subscribe(id)
	switch {
	case errors.Is(err, feed.ErrNotFound):
		writeError(w, "instrument not found", http.StatusNotFound)
		return
	case errors.Is(err, instrument.ErrLockFault):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	count, _ := s.registry.SubscriberCount(id)
	s.logger.Info("subscription via api", "instrument", id, "subscribers", count)
	writeJSON(w, http.StatusOK, SubscribeResponse{ID: id, Subscribers: count, Image: snap})
}

// Flush handles POST /api/v1/flush
func (s *Service) Flush(w http.ResponseWriter, r *http.Request) {
	n := s.registry.Flush()
	writeJSON(w, http.StatusOK, map[string]int{"emitted": n})
}

// GetHistory handles GET /api/v1/instruments/{id}/history?limit=N
// Returns journal entries oldest first.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "journal not configured", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.registry.Kind(id); err != nil {
		writeError(w, "instrument not found", http.StatusNotFound)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.store.History(r.Context(), id, limit)
	if err != nil {
		writeError(w, "failed to get history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetQuote handles GET /api/v1/quotes/{id}
// The quote is informational and does not touch the instrument.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		writeError(w, "price api not configured", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "id")

	rec, err := s.fetcher.Fetch(r.Context(), id)
	switch {
	case errors.Is(err, pricing.ErrNoData):
		writeError(w, "no quote for "+id, http.StatusNotFound)
		return
	case err != nil:
		s.logger.Warn("quote fetch failed", "instrument", id, "err", err)
		writeError(w, "price api unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) view(id string) (InstrumentView, error) {
	kind, err := s.registry.Kind(id)
	if err != nil {
		return InstrumentView{}, err
	}
	subs, _ := s.registry.SubscriberCount(id)
	state, _ := s.registry.LoopState(id)

	v := InstrumentView{ID: id, Kind: kind, Subscribers: subs, Loop: state.String()}
	snap, err := s.registry.Snapshot(id)
	if err != nil {
		v.Fault = err.Error()
	} else {
		v.Snapshot = &snap
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
