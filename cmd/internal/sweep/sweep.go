// Package sweep runs named periodic jobs until their context is cancelled.
//
// Each job gets its own goroutine and ticker. A tick that arrives while the
// previous run of the same job is still going is skipped, never queued.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrStarted is returned by Add after Start.
var ErrStarted = errors.New("sweep: scheduler already started")

// Func is one run of a job. It returns how many records it affected.
type Func func(ctx context.Context) (int64, error)

// Ticker is the subset of *time.Ticker the scheduler uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewStdTicker wraps time.NewTicker.
func NewStdTicker(d time.Duration) Ticker { return stdTicker{t: time.NewTicker(d)} }

type job struct {
	name     string
	interval time.Duration
	fn       Func
	running  atomic.Bool
}

// Scheduler owns a fixed set of jobs.
type Scheduler struct {
	log       *slog.Logger
	newTicker TickerFunc
	metrics   *Metrics

	mu      sync.Mutex
	jobs    []*job
	started bool
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTicker replaces NewStdTicker.
func WithTicker(f TickerFunc) Option {
	return func(s *Scheduler) {
		if f != nil {
			s.newTicker = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics sets the collectors.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New returns an empty Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		log:       slog.Default(),
		newTicker: NewStdTicker,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Add registers a job. Names must be unique and intervals positive.
func (s *Scheduler) Add(name string, interval time.Duration, fn Func) error {
	if name == "" || fn == nil || interval <= 0 {
		return fmt.Errorf("sweep: invalid job %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrStarted
	}
	for _, j := range s.jobs {
		if j.name == name {
			return fmt.Errorf("sweep: duplicate job %q", name)
		}
	}
	s.jobs = append(s.jobs, &job{name: name, interval: interval, fn: fn})
	return nil
}

// Start launches every job. Jobs stop when ctx is cancelled; Wait joins them.
// Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	s.log.Info("sweep.start", "jobs", len(s.jobs))
}

// Wait blocks until every job goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	t := s.newTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweep.stop", "sweep", j.name)
			return
		case <-t.C():
			if !j.running.CompareAndSwap(false, true) {
				s.metrics.observe(j.name, "skipped", 0)
				s.log.Warn("sweep.overlap.skip", "sweep", j.name)
				continue
			}
			// Runs off the tick loop so a slow run shows up as skipped ticks.
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer j.running.Store(false)
				s.run(ctx, j)
			}()
		}
	}
}

// RunNow executes a job once, synchronously, honoring the overlap guard.
// It reports false when the job is unknown or already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	var target *job
	for _, j := range s.jobs {
		if j.name == name {
			target = j
		}
	}
	s.mu.Unlock()

	if target == nil || !target.running.CompareAndSwap(false, true) {
		return false
	}
	defer target.running.Store(false)
	s.run(ctx, target)
	return true
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.observe(j.name, "panic", 0)
			s.log.Error("sweep.run.panic", "sweep", j.name, "panic", r)
		}
	}()

	n, err := j.fn(ctx)
	if err != nil {
		s.metrics.observe(j.name, "error", 0)
		s.log.Error("sweep.run.fail", "sweep", j.name, "err", err, "elapsed", time.Since(start))
		return
	}
	s.metrics.observe(j.name, "ok", n)
	s.log.Info("sweep.run.ok", "sweep", j.name, "affected", n, "elapsed", time.Since(start))
}

// Metrics counts sweep runs by outcome.
type Metrics struct {
	runs     *prometheus.CounterVec
	affected *prometheus.CounterVec
}

// NewMetrics creates collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "sweep_runs_total",
			Help:      "Sweep runs by sweep and result.",
		}, []string{"sweep", "result"}),
		affected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "sweep_affected_total",
			Help:      "Records affected by sweeps.",
		}, []string{"sweep"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.affected)
	}
	return m
}

func (m *Metrics) observe(name, result string, n int64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(name, result).Inc()
	if n > 0 {
		m.affected.WithLabelValues(name).Add(float64(n))
	}
}
