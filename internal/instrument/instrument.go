// Package instrument implements a tradable instrument whose market state and
// subscriber count are guarded by two independent locks.
//
// The market-state lock serializes writers and admits many readers; the
// subscriber lock is never held together with it, so subscription bookkeeping
// never stalls price simulation and vice versa.
package instrument

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/atmx/market-feed/internal/model"
)

// ErrLockFault is returned by every state operation after a panic poisoned
// the instrument's state lock. The fault is permanent for that instrument.
var ErrLockFault = errors.New("instrument: state lock poisoned by an earlier panic")

// Instrument is one tradable entity. The zero value is not usable; call New.
type Instrument struct {
	id   string
	kind model.Kind

	mu    sync.RWMutex
	state model.Snapshot

	subMu       sync.RWMutex
	subscribers uint64

	poisoned atomic.Pointer[fault]
}

type fault struct {
	cause any
}

// New creates an instrument with zero-valued market state.
func New(kind model.Kind, id string) *Instrument {
	return &Instrument{id: id, kind: kind}
}

// ID returns the immutable identifier.
func (i *Instrument) ID() string { return i.id }

// Kind returns the immutable category.
func (i *Instrument) Kind() model.Kind { return i.kind }

// Identity returns the immutable identifier and category without locking.
func (i *Instrument) Identity() (string, model.Kind) { return i.id, i.kind }

// Snapshot returns a consistent copy of the market state under the read lock.
// The fault is checked again once the lock is held: a reader queued behind a
// writer that panicked must not see that writer's partial state.
func (i *Instrument) Snapshot() (model.Snapshot, error) {
	if err := i.Fault(); err != nil {
		return model.Snapshot{}, err
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if err := i.Fault(); err != nil {
		return model.Snapshot{}, err
	}
	return i.state, nil
}

// ApplyTick sets the last price and advances the tick counter.
func (i *Instrument) ApplyTick(last float64) error {
	return i.Mutate(func(s *model.Snapshot) {
		s.Last = last
	})
}

// Mutate runs fn on the market state under the write lock and then advances
// the tick counter by exactly one. fn sees the previous state and must not
// block; any change it makes to Tick is discarded.
//
// A panic inside fn poisons the instrument: the lock is released, the panic
// is re-raised to the caller, and later state operations return ErrLockFault.
func (i *Instrument) Mutate(fn func(s *model.Snapshot)) error {
	if err := i.Fault(); err != nil {
		return err
	}

	i.mu.Lock()
	if err := i.Fault(); err != nil {
		i.mu.Unlock()
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			i.poisoned.CompareAndSwap(nil, &fault{cause: r})
			i.mu.Unlock()
			panic(r)
		}
		i.mu.Unlock()
	}()

	tick := i.state.Tick
	fn(&i.state)
	i.state.Tick = tick + 1
	return nil
}

// Fault returns ErrLockFault, wrapped with the original panic value, once the
// instrument has been poisoned, or nil.
func (i *Instrument) Fault() error {
	if f := i.poisoned.Load(); f != nil {
		return fmt.Errorf("%w: %s: %v", ErrLockFault, i.id, f.cause)
	}
	return nil
}

// Subscribers returns the current subscriber count.
func (i *Instrument) Subscribers() uint64 {
	i.subMu.RLock()
	defer i.subMu.RUnlock()
	return i.subscribers
}

// IncrementSubscribers adds one subscriber and returns the new count.
func (i *Instrument) IncrementSubscribers() uint64 {
	i.subMu.Lock()
	defer i.subMu.Unlock()
	i.subscribers++
	return i.subscribers
}
