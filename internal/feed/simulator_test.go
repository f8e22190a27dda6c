package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atmx/market-feed/internal/instrument"
	"github.com/atmx/market-feed/internal/model"
)

// fast disables the random pause so tests run quickly.
var fast = Options{MaxDelay: -1}

func TestStart_Scenario(t *testing.T) {
	rec := &recorder{}
	reg := New("reuters", rec, nil)
	reg.Register(instrument.New(model.KindEquity, "AAPL"))
	reg.Register(instrument.New(model.KindCurrency, "EUR="))

	if _, err := reg.Subscribe("AAPL"); err != nil {
		t.Fatalf("Subscribe(AAPL): %v", err)
	}
	if _, err := reg.Subscribe("XYZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Subscribe(XYZ): expected ErrNotFound, got %v", err)
	}
	if n, _ := reg.SubscriberCount("AAPL"); n != 1 {
		t.Fatalf("SubscriberCount(AAPL) = %d, want 1", n)
	}

	opts := fast
	opts.Loops = 5
	report, err := reg.Start(context.Background(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, id := range []string{"AAPL", "EUR="} {
		snap, _ := reg.Snapshot(id)
		if snap.Tick != 5 {
			t.Errorf("%s tick = %d, want 5", id, snap.Tick)
		}
		if report.States[id] != LoopCompleted {
			t.Errorf("%s state = %s, want completed", id, report.States[id])
		}
	}

	if got := rec.count("AAPL", model.NotificationUpdate); got != 5 {
		t.Errorf("AAPL updates = %d, want 5", got)
	}
	if got := rec.count("EUR=", model.NotificationUpdate); got != 0 {
		t.Errorf("EUR= updates = %d, want 0", got)
	}
	if report.Updates["AAPL"] != 5 || report.Updates["EUR="] != 0 {
		t.Errorf("report updates = %v", report.Updates)
	}
}

func TestStart_UnsubscribedEmitsNothing(t *testing.T) {
	reg, rec := newTestRegistry(t, "AAPL", "MSFT.O", "TOTF.PA")

	opts := fast
	opts.Loops = 10
	if _, err := reg.Start(context.Background(), opts); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := reg.Flush(); n != 0 {
		t.Errorf("Flush() = %d, want 0", n)
	}
	if len(rec.all()) != 0 {
		t.Errorf("expected no notifications, got %d", len(rec.all()))
	}
	for _, id := range reg.IDs() {
		snap, _ := reg.Snapshot(id)
		if snap.Tick != 10 {
			t.Errorf("%s tick = %d, want 10", id, snap.Tick)
		}
	}
}

func TestStart_OnlyOnce(t *testing.T) {
	reg, _ := newTestRegistry(t, "AAPL")

	if _, err := reg.Start(context.Background(), fast); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := reg.Start(context.Background(), fast); !errors.Is(err, ErrStarted) {
		t.Errorf("second Start: expected ErrStarted, got %v", err)
	}
	if err := reg.Register(instrument.New(model.KindEquity, "LATE")); !errors.Is(err, ErrStarted) {
		t.Errorf("Register after Start: expected ErrStarted, got %v", err)
	}
}

func TestStart_DefaultLoops(t *testing.T) {
	reg, _ := newTestRegistry(t, "AAPL")

	report, err := reg.Start(context.Background(), fast)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if report.Loops != DefaultLoops {
		t.Errorf("Loops = %d, want %d", report.Loops, DefaultLoops)
	}
	if snap, _ := reg.Snapshot("AAPL"); snap.Tick != DefaultLoops {
		t.Errorf("tick = %d, want %d", snap.Tick, DefaultLoops)
	}
}

func TestStart_FaultIsolated(t *testing.T) {
	reg, rec := newTestRegistry(t, "AAPL", "BAD", "EUR=")
	reg.Subscribe("AAPL")

	opts := fast
	opts.Loops = 8
	opts.Source = PriceSourceFunc(func(id string, prev float64) float64 {
		if id == "BAD" && prev > 0 {
			panic("feed handler crashed")
		}
		return prev + 1
	})

	report, err := reg.Start(context.Background(), opts)
	if !errors.Is(err, ErrLoopFault) {
		t.Fatalf("expected ErrLoopFault, got %v", err)
	}
	if report.FaultCount() != 1 {
		t.Fatalf("FaultCount() = %d, want 1", report.FaultCount())
	}
	if _, ok := report.Faults["BAD"]; !ok {
		t.Errorf("expected fault recorded for BAD, got %v", report.Faults)
	}
	if report.States["BAD"] != LoopFaulted {
		t.Errorf("BAD state = %s, want faulted", report.States["BAD"])
	}

	// The panic happened under BAD's write lock, so BAD is poisoned.
	if _, err := reg.Snapshot("BAD"); !errors.Is(err, instrument.ErrLockFault) {
		t.Errorf("Snapshot(BAD): expected ErrLockFault, got %v", err)
	}

	for _, id := range []string{"AAPL", "EUR="} {
		snap, err := reg.Snapshot(id)
		if err != nil {
			t.Fatalf("Snapshot(%s): %v", id, err)
		}
		if snap.Tick != 8 || snap.Last != 8 {
			t.Errorf("%s = %+v, want tick=8 last=8", id, snap)
		}
	}
	if got := rec.count("AAPL", model.NotificationUpdate); got != 8 {
		t.Errorf("AAPL updates = %d, want 8", got)
	}
}

func TestStart_NotifierPanicIsolated(t *testing.T) {
	notifier := NotifierFunc(func(n model.Notification) error {
		if n.InstrumentID == "AAPL" && n.Type == model.NotificationUpdate {
			panic("sink exploded")
		}
		return nil
	})
	reg := New("reuters", notifier, nil)
	reg.Register(instrument.New(model.KindEquity, "AAPL"))
	reg.Register(instrument.New(model.KindEquity, "MSFT.O"))
	reg.Subscribe("AAPL")

	opts := fast
	opts.Loops = 3
	report, err := reg.Start(context.Background(), opts)
	if err == nil {
		t.Fatal("expected fault error")
	}
	if report.Ticks["AAPL"] != 1 {
		t.Errorf("AAPL ticks = %d, want 1", report.Ticks["AAPL"])
	}
	// The panic happened outside the lock; AAPL is still readable.
	if _, err := reg.Snapshot("AAPL"); err != nil {
		t.Errorf("Snapshot(AAPL): %v", err)
	}
	if report.Ticks["MSFT.O"] != 3 {
		t.Errorf("MSFT.O ticks = %d, want 3", report.Ticks["MSFT.O"])
	}
}

func TestStart_ContextCanceled(t *testing.T) {
	reg, _ := newTestRegistry(t, "AAPL", "EUR=")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	opts := Options{Loops: 1000, MaxDelay: 20 * time.Millisecond}
	done := make(chan struct{})
	var report Report
	var err error
	go func() {
		report, err = reg.Start(ctx, opts)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if report.States["AAPL"] != LoopCanceled {
		t.Errorf("AAPL state = %s, want canceled", report.States["AAPL"])
	}
}

func TestLoopState_Lifecycle(t *testing.T) {
	reg, _ := newTestRegistry(t, "AAPL")

	if s, _ := reg.LoopState("AAPL"); s != LoopIdle {
		t.Errorf("before Start: %s, want idle", s)
	}

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	opts := fast
	opts.Loops = 1
	opts.Source = PriceSourceFunc(func(string, float64) float64 {
		entered <- struct{}{}
		<-release
		return 1
	})

	done := make(chan struct{})
	go func() {
		reg.Start(context.Background(), opts)
		close(done)
	}()

	<-entered
	if s, _ := reg.LoopState("AAPL"); s != LoopRunning {
		t.Errorf("during run: %s, want running", s)
	}
	close(release)
	<-done

	if s, _ := reg.LoopState("AAPL"); s != LoopCompleted {
		t.Errorf("after Start: %s, want completed", s)
	}
	if _, err := reg.LoopState("NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStart_ConcurrencyLimit(t *testing.T) {
	ids := []string{"A1", "A2", "A3", "A4", "A5", "A6"}
	reg, _ := newTestRegistry(t, ids...)

	var mu sync.Mutex
	running, peak := 0, 0
	opts := Options{Loops: 2, MaxDelay: -1, Concurrency: 2}
	opts.Source = PriceSourceFunc(func(id string, prev float64) float64 {
		return prev + 1
	})

	// Track concurrent loops through the notifier-free path by wrapping Start's
	// work in subscriptions: every tick emits an update we can observe.
	for _, id := range ids {
		reg.Subscribe(id)
	}
	reg.notifier = NotifierFunc(func(n model.Notification) error {
		if n.Type != model.NotificationUpdate {
			return nil
		}
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	})

	if _, err := reg.Start(context.Background(), opts); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if peak > 2 {
		t.Errorf("peak concurrent loops = %d, want <= 2", peak)
	}
	for _, id := range ids {
		if snap, _ := reg.Snapshot(id); snap.Tick != 2 {
			t.Errorf("%s tick = %d, want 2", id, snap.Tick)
		}
	}
}

// Many readers run alongside the simulation; every read must be internally
// consistent and the run must terminate.
func TestStart_ConcurrentReaders(t *testing.T) {
	ids := []string{"AAPL", "MSFT.O", "EUR=", "CHF=", "IDR="}
	reg, _ := newTestRegistry(t, ids...)
	reg.Subscribe("AAPL")
	reg.Subscribe("EUR=")

	opts := Options{Loops: 20, MaxDelay: time.Millisecond}
	opts.Source = PriceSourceFunc(func(id string, prev float64) float64 { return prev + 1 })

	done := make(chan struct{})
	var readers sync.WaitGroup
	errs := make(chan string, 16)
	for r := 0; r < 8; r++ {
		readers.Add(1)
		go func(r int) {
			defer readers.Done()
			last := make(map[string]uint64)
			for {
				select {
				case <-done:
					return
				default:
				}
				if r%2 == 0 {
					reg.Flush()
				}
				for _, id := range ids {
					s, err := reg.Snapshot(id)
					if err != nil {
						errs <- err.Error()
						return
					}
					// Last always equals the tick count with this source.
					if s.Last != float64(s.Tick) {
						errs <- "torn read on " + id
						return
					}
					if s.Tick < last[id] {
						errs <- "tick went backwards on " + id
						return
					}
					last[id] = s.Tick
				}
			}
		}(r)
	}

	finished := make(chan error, 1)
	go func() {
		_, err := reg.Start(context.Background(), opts)
		finished <- err
	}()

	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("simulation deadlocked")
	}
	close(done)
	readers.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}
