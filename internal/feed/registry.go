// Package feed owns the instrument registry and drives the tick simulation.
//
// Instruments live in an arena owned by the Registry and are addressed by
// identifier only. The identifier index is built before Start and is never
// mutated afterwards, so lookups during the simulation need no lock on the map.
package feed

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/market-feed/internal/instrument"
	"github.com/atmx/market-feed/internal/metrics"
	"github.com/atmx/market-feed/internal/model"
)

var (
	// ErrNotFound is returned for identifiers that were never registered.
	ErrNotFound = errors.New("feed: instrument not found")

	// ErrDuplicateIdentifier is returned when an identifier is registered twice.
	ErrDuplicateIdentifier = errors.New("feed: duplicate instrument identifier")

	// ErrStarted is returned by Register and Start once the simulation began.
	ErrStarted = errors.New("feed: simulation already started")
)

// Notifier receives images and updates. Implementations must be safe for
// concurrent use; Notify is never called while an instrument lock is held.
type Notifier interface {
	Notify(n model.Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(model.Notification) error

func (f NotifierFunc) Notify(n model.Notification) error { return f(n) }

// Registry maps identifiers to instruments and pushes notifications for them.
type Registry struct {
	name     string
	notifier Notifier
	logger   *slog.Logger

	instruments []*instrument.Instrument
	index       map[string]int

	started atomic.Bool
	states  atomic.Pointer[[]atomic.Int32]
}

// New creates an empty registry for the named feed. A nil notifier discards
// notifications; a nil logger uses slog.Default().
func New(name string, notifier Notifier, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NotifierFunc(func(model.Notification) error { return nil })
	}
	return &Registry{
		name:     name,
		notifier: notifier,
		logger:   logger.With("feed", name),
		index:    make(map[string]int),
	}
}

// Name returns the feed name.
func (r *Registry) Name() string { return r.name }

// Len returns the number of registered instruments.
func (r *Registry) Len() int { return len(r.instruments) }

// Register adds an instrument. It must be called before Start; registration
// is single-threaded by contract.
func (r *Registry) Register(inst *instrument.Instrument) error {
	if r.started.Load() {
		return ErrStarted
	}
	id := inst.ID()
	if _, ok := r.index[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, id)
	}
	r.index[id] = len(r.instruments)
	r.instruments = append(r.instruments, inst)
	return nil
}

// IDs returns all registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.index))
	for id := range r.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Kind returns the category of a registered instrument.
func (r *Registry) Kind(id string) (model.Kind, error) {
	inst, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	return inst.Kind(), nil
}

// Snapshot returns the current market state of one instrument.
func (r *Registry) Snapshot(id string) (model.Snapshot, error) {
	inst, err := r.lookup(id)
	if err != nil {
		return model.Snapshot{}, err
	}
	return inst.Snapshot()
}

// SubscriberCount returns the subscriber count of one instrument.
func (r *Registry) SubscriberCount(id string) (uint64, error) {
	inst, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	return inst.Subscribers(), nil
}

// Subscribe registers interest in an instrument and emits its image before
// returning. Unknown identifiers yield ErrNotFound.
func (r *Registry) Subscribe(id string) (model.Snapshot, error) {
	inst, err := r.lookup(id)
	if err != nil {
		return model.Snapshot{}, err
	}

	// A faulted instrument is rejected before it gains a subscriber.
	snap, err := inst.Snapshot()
	if err != nil {
		return model.Snapshot{}, err
	}

	count := inst.IncrementSubscribers()
	metrics.Subscribers.WithLabelValues(r.name, id).Set(float64(count))
	r.emit(inst, model.NotificationImage, snap)

	r.logger.Info("subscribed", "instrument", id, "subscribers", count)
	return snap, nil
}

// Flush emits an image for every instrument that has subscribers and returns
// how many images were emitted. It only uses read paths and is safe to call
// while the simulation runs. Poisoned instruments are skipped.
func (r *Registry) Flush() int {
	emitted := 0
	for _, inst := range r.instruments {
		if inst.Subscribers() == 0 {
			continue
		}
		snap, err := inst.Snapshot()
		if err != nil {
			r.logger.Warn("flush skipped instrument", "instrument", inst.ID(), "err", err)
			continue
		}
		r.emit(inst, model.NotificationImage, snap)
		emitted++
	}
	return emitted
}

func (r *Registry) lookup(id string) (*instrument.Instrument, error) {
	idx, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.instruments[idx], nil
}

// emit delivers one notification. Delivery failures are logged and never
// propagate into the caller's instrument loop.
func (r *Registry) emit(inst *instrument.Instrument, typ model.NotificationType, snap model.Snapshot) {
	id, kind := inst.Identity()
	n := model.Notification{
		ID:           uuid.New().String(),
		Type:         typ,
		Feed:         r.name,
		InstrumentID: id,
		Kind:         kind,
		Snapshot:     snap,
		Timestamp:    time.Now().UTC(),
	}
	metrics.NotificationsTotal.WithLabelValues(r.name, string(typ)).Inc()
	if err := r.notifier.Notify(n); err != nil {
		metrics.NotifyErrors.WithLabelValues(r.name).Inc()
		r.logger.Warn("notification delivery failed", "instrument", id, "type", typ, "err", err)
	}
}
