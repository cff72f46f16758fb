package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

type tickers struct {
	mu sync.Mutex
	by map[time.Duration]*manualTicker
}

func newTickers() *tickers {
	return &tickers{by: make(map[time.Duration]*manualTicker)}
}

func (t *tickers) New(d time.Duration) Ticker {
	t.mu.Lock()
	defer t.mu.Unlock()
	mt := &manualTicker{ch: make(chan time.Time)}
	t.by[d] = mt
	return mt
}

func (t *tickers) get(tb testing.TB, d time.Duration) *manualTicker {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		t.mu.Lock()
		mt := t.by[d]
		t.mu.Unlock()
		if mt != nil {
			return mt
		}
		time.Sleep(time.Millisecond)
	}
	tb.Fatalf("ticker for %v never created", d)
	return nil
}

func newTestScheduler(tk *tickers) *Scheduler {
	return New(
		WithTicker(tk.New),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(NewMetrics(nil)),
	)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScheduler_RunsOnTickAndStops(t *testing.T) {
	tk := newTickers()
	s := newTestScheduler(tk)

	var sessions, events atomic.Int32
	if err := s.Add("session_cleanup", 15*time.Minute, func(context.Context) (int64, error) {
		sessions.Add(1)
		return 2, nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("security_event_cleanup", time.Hour, func(context.Context) (int64, error) {
		events.Add(1)
		return 0, nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	tk.get(t, 15*time.Minute).ch <- time.Now()
	waitFor(t, func() bool { return sessions.Load() == 1 })
	if events.Load() != 0 {
		t.Fatalf("expected hourly job idle")
	}

	tk.get(t, time.Hour).ch <- time.Now()
	waitFor(t, func() bool { return events.Load() == 1 })

	cancel()
	s.Wait()

	if !tk.get(t, time.Hour).stopped.Load() || !tk.get(t, 15*time.Minute).stopped.Load() {
		t.Fatalf("expected tickers stopped")
	}
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	tk := newTickers()
	s := newTestScheduler(tk)

	release := make(chan struct{})
	var runs atomic.Int32
	if err := s.Add("slow", time.Minute, func(ctx context.Context) (int64, error) {
		runs.Add(1)
		<-release
		return 0, nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	mt := tk.get(t, time.Minute)

	mt.ch <- time.Now()
	waitFor(t, func() bool { return runs.Load() == 1 })

	// Both ticks are consumed while the first run is blocked.
	mt.ch <- time.Now()
	mt.ch <- time.Now()
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected overlapping ticks skipped, got %d runs", got)
	}
	if s.RunNow(ctx, "slow") {
		t.Fatalf("expected RunNow refused while running")
	}

	close(release)
	cancel()
	s.Wait()
}

func TestScheduler_ErrorsAndPanicsDoNotStopJob(t *testing.T) {
	tk := newTickers()
	s := newTestScheduler(tk)

	var runs atomic.Int32
	if err := s.Add("flaky", time.Minute, func(context.Context) (int64, error) {
		switch runs.Add(1) {
		case 1:
			return 0, errors.New("store down")
		case 2:
			panic("bug")
		}
		return 1, nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	mt := tk.get(t, time.Minute)

	for i := int32(1); i <= 3; i++ {
		mt.ch <- time.Now()
		want := i
		waitFor(t, func() bool { return runs.Load() == want })
		waitFor(t, func() bool { return !s.jobs[0].running.Load() })
	}
}

func TestScheduler_AddValidation(t *testing.T) {
	s := newTestScheduler(newTickers())
	noop := func(context.Context) (int64, error) { return 0, nil }

	if err := s.Add("", time.Minute, noop); err == nil {
		t.Fatalf("expected empty name rejected")
	}
	if err := s.Add("x", 0, noop); err == nil {
		t.Fatalf("expected zero interval rejected")
	}
	if err := s.Add("x", time.Minute, nil); err == nil {
		t.Fatalf("expected nil func rejected")
	}
	if err := s.Add("x", time.Minute, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("x", time.Minute, noop); err == nil {
		t.Fatalf("expected duplicate rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	if err := s.Add("y", time.Minute, noop); !errors.Is(err, ErrStarted) {
		t.Fatalf("expected ErrStarted, got %v", err)
	}
	cancel()
	s.Wait()
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler(newTickers())

	var runs atomic.Int32
	if err := s.Add("once", time.Hour, func(context.Context) (int64, error) {
		runs.Add(1)
		return 0, nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if !s.RunNow(context.Background(), "once") {
		t.Fatalf("expected RunNow to run")
	}
	if runs.Load() != 1 {
		t.Fatalf("expected 1 run, got %d", runs.Load())
	}
	if s.RunNow(context.Background(), "missing") {
		t.Fatalf("expected unknown job refused")
	}
}
