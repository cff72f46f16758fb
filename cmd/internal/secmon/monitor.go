package secmon

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"vigil/cmd/internal/ids"
)

// AlertSink receives every raised alert after it has been recorded.
// PublishAlert must not block.
type AlertSink interface {
	PublishAlert(ev StoredEvent)
}

// Monitor records security events and runs detectors over each source's activity window.
// It is safe for concurrent use.
type Monitor struct {
	cfg       Config
	store     Store
	detectors []Detector
	now       func() time.Time
	log       *slog.Logger
	metrics   *Metrics
	sink      AlertSink
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithClock injects the time source.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if log != nil {
			m.log = log
		}
	}
}

// WithMetrics sets the collectors.
func WithMetrics(metrics *Metrics) MonitorOption {
	return func(m *Monitor) { m.metrics = metrics }
}

// WithDetectors replaces DefaultDetectors.
func WithDetectors(ds ...Detector) MonitorOption {
	return func(m *Monitor) { m.detectors = ds }
}

// WithAlertSink forwards raised alerts to sink.
func WithAlertSink(sink AlertSink) MonitorOption {
	return func(m *Monitor) { m.sink = sink }
}

// NewMonitor builds a Monitor over store. Call store.Init before recording.
func NewMonitor(cfg Config, store Store, opts ...MonitorOption) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfig)
	}
	m := &Monitor{
		cfg:       cfg,
		store:     store,
		detectors: DefaultDetectors(),
		now:       func() time.Time { return time.Now().UTC() },
		log:       slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Config returns the active configuration.
func (m *Monitor) Config() Config { return m.cfg }

// Store returns the backing store.
func (m *Monitor) Store() Store { return m.store }

// LogSecurityEvent records ev and synchronously analyzes its source.
//
// The only error is ErrInvalidEvent. Store failures and detector panics are
// logged and counted; the stored event is returned regardless.
func (m *Monitor) LogSecurityEvent(ctx context.Context, ev Event) (StoredEvent, error) {
	ev.normalize()
	if err := ev.validate(); err != nil {
		return StoredEvent{}, err
	}

	now := m.now()
	stored := StoredEvent{
		ID:        ids.NewEventID(now),
		Type:      ev.Type,
		UserID:    ev.UserID,
		IPAddress: ev.IPAddress,
		UserAgent: ev.UserAgent,
		Path:      ev.Path,
		Method:    ev.Method,
		Severity:  ev.Severity,
		Details:   ev.Details,
		Timestamp: now,
	}

	if err := m.store.Append(ctx, stored, m.cfg.EventBuffer); err != nil {
		m.metrics.observeStoreError("append")
		m.log.Error("secmon.store.append.fail", "type", stored.Type, "source", stored.Source(), "err", err)
	}
	m.metrics.observeEvent(stored.Type, stored.Severity)

	level := slog.LevelInfo
	if stored.Severity == SeverityHigh || stored.Severity == SeverityCritical {
		level = slog.LevelWarn
	}
	m.log.Log(ctx, level, "secmon.event",
		"id", stored.ID,
		"type", stored.Type,
		"severity", stored.Severity,
		"source", stored.Source(),
		"path", stored.Path,
	)

	m.analyze(ctx, stored)
	return stored, nil
}

func (m *Monitor) analyze(ctx context.Context, ev StoredEvent) {
	source := ev.Source()
	window, err := m.store.AppendActivity(ctx, source, activityOf(ev), m.cfg.ActivityWindow)
	if err != nil {
		m.metrics.observeStoreError("append_activity")
		m.log.Error("secmon.store.activity.fail", "source", source, "err", err)
		return
	}
	now := m.now()
	for _, d := range m.detectors {
		m.runDetector(ctx, d, now, ev, window)
	}
}

func (m *Monitor) runDetector(ctx context.Context, d Detector, now time.Time, ev StoredEvent, window []Activity) {
	name := d.Name()
	defer func() {
		if r := recover(); r != nil {
			m.metrics.observePanic(name)
			m.log.Error("secmon.detector.panic", "detector", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	alert, ok := d.Detect(now, ev, window)
	if !ok {
		return
	}

	source := ev.Source()
	first, err := m.store.MarkAlert(ctx, source, name)
	if err != nil {
		m.metrics.observeStoreError("mark_alert")
		m.log.Error("secmon.store.alert.fail", "detector", name, "source", source, "err", err)
		return
	}
	if !first {
		return
	}

	stored, err := m.LogSecurityEvent(ctx, alert)
	if err != nil {
		m.log.Error("secmon.alert.invalid", "detector", name, "err", err)
		return
	}
	m.metrics.observeAlert(name)
	m.log.Warn("secmon.alert.raised", "detector", name, "source", source, "event_id", stored.ID)
	if m.sink != nil {
		m.sink.PublishAlert(stored)
	}
}

// CleanupOldEvents drops events older than the retention period, removes
// empty keys, and clears every alert so detectors re-arm. It returns the
// number of events dropped.
func (m *Monitor) CleanupOldEvents(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.cfg.Retention)
	n, err := m.store.Prune(ctx, cutoff)
	if err != nil {
		return n, err
	}
	if err := m.store.ClearAlerts(ctx); err != nil {
		return n, err
	}
	m.log.Info("secmon.cleanup", "dropped", n, "cutoff", cutoff)
	return n, nil
}
