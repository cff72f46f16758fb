package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus collectors for session lifecycle events.
type Metrics struct {
	created     prometheus.Counter
	evicted     prometheus.Counter
	refresh     *prometheus.CounterVec
	invalidated prometheus.Counter
	cleaned     prometheus.Counter
}

// NewMetrics creates and registers session collectors on reg.
// A nil reg yields unregistered collectors, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "sessions_evicted_total",
			Help:      "Sessions deactivated by the per-user concurrency cap.",
		}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "session_refresh_total",
			Help:      "Refresh attempts by result.",
		}, []string{"result"}),
		invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "sessions_invalidated_total",
			Help:      "Sessions deactivated by logout.",
		}),
		cleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "sessions_cleaned_total",
			Help:      "Sessions deactivated by the expiry/inactivity sweep.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.created, m.evicted, m.refresh, m.invalidated, m.cleaned)
	}
	return m
}

func (m *Metrics) observeCreate(evicted int) {
	if m == nil {
		return
	}
	m.created.Inc()
	m.evicted.Add(float64(evicted))
}

func (m *Metrics) observeRefresh(result string) {
	if m == nil {
		return
	}
	m.refresh.WithLabelValues(result).Inc()
}

func (m *Metrics) observeInvalidated(n int64) {
	if m == nil {
		return
	}
	m.invalidated.Add(float64(n))
}

func (m *Metrics) observeCleaned(n int64) {
	if m == nil {
		return
	}
	m.cleaned.Add(float64(n))
}
