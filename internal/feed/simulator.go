package feed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atmx/market-feed/internal/instrument"
	"github.com/atmx/market-feed/internal/metrics"
	"github.com/atmx/market-feed/internal/model"
)

// DefaultLoops is the number of ticks each instrument performs per run.
const DefaultLoops = 15

// DefaultMaxDelay bounds the random pause before each tick.
const DefaultMaxDelay = 1000 * time.Millisecond

// ErrLoopFault wraps a panic recovered from one instrument's loop.
var ErrLoopFault = errors.New("feed: instrument loop fault")

// LoopState is the lifecycle of one instrument's simulation loop.
type LoopState int32

const (
	LoopIdle LoopState = iota
	LoopRunning
	LoopCompleted
	LoopFaulted
	LoopCanceled
)

func (s LoopState) String() string {
	switch s {
	case LoopIdle:
		return "idle"
	case LoopRunning:
		return "running"
	case LoopCompleted:
		return "completed"
	case LoopFaulted:
		return "faulted"
	case LoopCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("LoopState(%d)", int32(s))
	}
}

// Options controls one simulation run.
type Options struct {
	Loops       int           // ticks per instrument (default 15)
	MaxDelay    time.Duration // pause drawn from [0, MaxDelay) before each tick (default 1s, negative disables)
	Concurrency int           // max loops running at once; 0 runs one per instrument
	Source      PriceSource   // default UniformSource
}

func (o Options) withDefaults() Options {
	if o.Loops <= 0 {
		o.Loops = DefaultLoops
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Source == nil {
		o.Source = UniformSource{Max: 1000}
	}
	return o
}

// Report summarizes a finished run.
type Report struct {
	Loops   int
	Elapsed time.Duration
	Ticks   map[string]int   // ticks applied per instrument
	Updates map[string]int   // update notifications per instrument
	Faults  map[string]error // one entry per faulted instrument
	States  map[string]LoopState
}

// FaultCount returns the number of instruments whose loop faulted.
func (r Report) FaultCount() int { return len(r.Faults) }

type loopResult struct {
	ticks   int
	updates int
	fault   error
}

// Start runs one loop per registered instrument and blocks until all of them
// finished. A fault in one loop stops only that loop; its siblings keep
// running. Start can be called once per registry.
//
// The returned error joins every loop fault, plus ctx.Err() if the run was
// canceled. The report is valid in both cases.
func (r *Registry) Start(ctx context.Context, opts Options) (Report, error) {
	if !r.started.CompareAndSwap(false, true) {
		return Report{}, ErrStarted
	}
	opts = opts.withDefaults()

	states := make([]atomic.Int32, len(r.instruments))
	r.states.Store(&states)

	results := make([]loopResult, len(r.instruments))

	var g errgroup.Group
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	r.logger.Info("simulation starting",
		"instruments", len(r.instruments),
		"loops", opts.Loops,
		"max_delay", opts.MaxDelay,
	)
	start := time.Now()

	for idx, inst := range r.instruments {
		idx, inst := idx, inst
		g.Go(func() error {
			metrics.ActiveLoops.WithLabelValues(r.name).Inc()
			defer metrics.ActiveLoops.WithLabelValues(r.name).Dec()

			states[idx].Store(int32(LoopRunning))
			res := &results[idx]
			r.runLoop(ctx, inst, opts, res)

			switch {
			case res.fault != nil:
				states[idx].Store(int32(LoopFaulted))
			case res.ticks < opts.Loops:
				states[idx].Store(int32(LoopCanceled))
			default:
				states[idx].Store(int32(LoopCompleted))
			}
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Loops:   opts.Loops,
		Elapsed: time.Since(start),
		Ticks:   make(map[string]int, len(results)),
		Updates: make(map[string]int, len(results)),
		Faults:  make(map[string]error),
		States:  make(map[string]LoopState, len(results)),
	}
	var errs []error
	for idx, res := range results {
		id := r.instruments[idx].ID()
		report.Ticks[id] = res.ticks
		report.Updates[id] = res.updates
		report.States[id] = LoopState(states[idx].Load())
		if res.fault != nil {
			report.Faults[id] = res.fault
			errs = append(errs, res.fault)
		}
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	r.logger.Info("simulation finished",
		"elapsed", report.Elapsed,
		"faults", report.FaultCount(),
	)
	return report, errors.Join(errs...)
}

// LoopState returns the state of an instrument's loop in the current run.
func (r *Registry) LoopState(id string) (LoopState, error) {
	idx, ok := r.index[id]
	if !ok {
		return LoopIdle, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	states := r.states.Load()
	if states == nil {
		return LoopIdle, nil
	}
	return LoopState((*states)[idx].Load()), nil
}

// runLoop performs up to opts.Loops ticks on one instrument. A panic or lock
// fault ends the loop and is recorded in res; it is never retried.
func (r *Registry) runLoop(ctx context.Context, inst *instrument.Instrument, opts Options, res *loopResult) {
	id := inst.ID()
	log := r.logger.With("instrument", id)

	defer func() {
		if rec := recover(); rec != nil {
			res.fault = fmt.Errorf("%w: %s: %v", ErrLoopFault, id, rec)
			metrics.LoopFaults.WithLabelValues(r.name).Inc()
			log.Error("instrument loop faulted", "tick", res.ticks, "panic", rec)
		}
	}()

	log.Debug("loop started")
	for res.ticks < opts.Loops {
		if !sleep(ctx, randomDelay(opts.MaxDelay)) {
			log.Debug("loop canceled", "ticks", res.ticks)
			return
		}

		err := inst.Mutate(func(s *model.Snapshot) {
			s.Last = opts.Source.Next(id, s.Last)
		})
		if err != nil {
			res.fault = err
			metrics.LoopFaults.WithLabelValues(r.name).Inc()
			log.Error("instrument loop stopped", "err", err)
			return
		}
		res.ticks++
		metrics.TicksTotal.WithLabelValues(r.name).Inc()

		if inst.Subscribers() == 0 {
			continue
		}
		snap, err := inst.Snapshot()
		if err != nil {
			res.fault = err
			return
		}
		r.emit(inst, model.NotificationUpdate, snap)
		res.updates++
	}
	log.Debug("loop completed", "ticks", res.ticks)
}

func randomDelay(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// sleep pauses for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
