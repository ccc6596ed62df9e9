package livesync

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	frames          *prometheus.CounterVec
	malformed       prometheus.Counter
	reconnects      prometheus.Counter
	connectionState prometheus.Gauge
	rollbacks       prometheus.Counter
	pageLoads       *prometheus.CounterVec
	eventsDropped   prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livesync",
			Name:      "frames_total",
			Help:      "Frames received, by subscription channel.",
		}, []string{"channel"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livesync",
			Name:      "frames_malformed_total",
			Help:      "Frames dropped because they could not be decoded.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livesync",
			Name:      "reconnects_total",
			Help:      "Connection attempts after the first.",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livesync",
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livesync",
			Name:      "optimistic_rollbacks_total",
			Help:      "Placeholders removed after a failed send.",
		}),
		pageLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livesync",
			Name:      "page_loads_total",
			Help:      "Message page fetches, by result.",
		}, []string{"result"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livesync",
			Name:      "events_dropped_total",
			Help:      "Change notifications dropped because the event buffer was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.frames, m.malformed, m.reconnects, m.connectionState,
			m.rollbacks, m.pageLoads, m.eventsDropped)
	}
	return m
}

func (m *Metrics) frame(channel string) {
	if m != nil {
		m.frames.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) malformedFrame() {
	if m != nil {
		m.malformed.Inc()
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) state(s ConnState) {
	if m == nil {
		return
	}
	switch s {
	case StateConnecting:
		m.connectionState.Set(1)
	case StateConnected:
		m.connectionState.Set(2)
	default:
		m.connectionState.Set(0)
	}
}

func (m *Metrics) rollback() {
	if m != nil {
		m.rollbacks.Inc()
	}
}

func (m *Metrics) pageLoad(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.pageLoads.WithLabelValues("error").Inc()
		return
	}
	m.pageLoads.WithLabelValues("ok").Inc()
}

func (m *Metrics) dropped() {
	if m != nil {
		m.eventsDropped.Inc()
	}
}
