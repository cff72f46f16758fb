package secmon

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus collectors for recorded events and alerts.
type Metrics struct {
	events      *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	panics      *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
}

// NewMetrics creates collectors and registers them on reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "security_events_total",
			Help:      "Security events recorded, by type and severity.",
		}, []string{"type", "severity"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "security_alerts_total",
			Help:      "Alerts raised, by detector.",
		}, []string{"detector"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "security_detector_panics_total",
			Help:      "Recovered detector panics, by detector.",
		}, []string{"detector"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "security_store_errors_total",
			Help:      "Event store failures, by operation.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.alerts, m.panics, m.storeErrors)
	}
	return m
}

func (m *Metrics) observeEvent(t EventType, s Severity) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(t), string(s)).Inc()
}

func (m *Metrics) observeAlert(detector string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(detector).Inc()
}

func (m *Metrics) observePanic(detector string) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(detector).Inc()
}

func (m *Metrics) observeStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}
