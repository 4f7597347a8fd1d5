package relay

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors a Gateway reports to. A nil
// *Metrics disables reporting.
type Metrics struct {
	// Connection handling
	connections *prometheus.CounterVec   // By kind
	duration    *prometheus.HistogramVec // By kind
	failures    *prometheus.CounterVec   // By kind and reason

	// Transmission
	responses *prometheus.CounterVec // By status code
	events    *prometheus.CounterVec // Outbound events by type

	// State
	startupComplete prometheus.Gauge // 1 once the startup handshake finished
}

// NewMetrics creates the gateway collectors and registers them with reg. A
// nil reg leaves them unregistered, which is mostly useful in tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "gateway",
			Name:      "connections_total",
			Help:      "Total number of connections accepted by the gateway",
		}, []string{"kind"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "gateway",
			Name:      "connection_duration_seconds",
			Help:      "Time spent handling one connection",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 30.0},
		}, []string{"kind"}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "gateway",
			Name:      "connection_failures_total",
			Help:      "Total number of connections that ended with an error",
		}, []string{"kind", "reason"}), // reason: timeout, connectivity, lifecycle, other

		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "gateway",
			Name:      "responses_total",
			Help:      "Total number of normalized responses transmitted",
		}, []string{"code"}),

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "gateway",
			Name:      "events_sent_total",
			Help:      "Total number of events handed to the transport",
		}, []string{"type"}),

		startupComplete: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "gateway",
			Name:      "startup_complete",
			Help:      "1 once the lifecycle startup handshake has completed",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.connections, m.duration, m.failures, m.responses, m.events, m.startupComplete,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNewMetrics is like NewMetrics but panics if registration fails.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) connectionStarted(kind Kind) time.Time {
	if m != nil {
		m.connections.WithLabelValues(string(kind)).Inc()
	}
	return time.Now()
}

func (m *Metrics) connectionDone(kind Kind, start time.Time, reason string) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	if reason != "" {
		m.failures.WithLabelValues(string(kind), reason).Inc()
	}
}

func (m *Metrics) response(status int) {
	if m != nil {
		m.responses.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

func (m *Metrics) sent(eventType string) {
	if m != nil {
		m.events.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) setStartupComplete(done bool) {
	if m == nil {
		return
	}
	if done {
		m.startupComplete.Set(1)
	} else {
		m.startupComplete.Set(0)
	}
}
