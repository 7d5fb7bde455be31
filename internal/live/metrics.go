package live

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricConnections       = "live_connections_active"
	MetricConnects          = "live_connects_total"
	MetricDisconnects       = "live_disconnects_total"
	MetricRoomJoins         = "live_room_joins_total"
	MetricRoomLeaves        = "live_room_leaves_total"
	MetricAuthFailures      = "live_auth_failures_total"
	MetricDenials           = "live_authorization_denials_total"
	MetricStoreFailures     = "live_store_failures_total"
	MetricIdleSwept         = "live_idle_swept_total"
	MetricStoreOpLatency    = "live_store_op_latency_seconds"
)

// Metrics contains Prometheus metrics for the live connection layer.
// All operations are thread-safe.
type Metrics struct {
	connections    prometheus.Gauge
	connects       prometheus.Counter
	disconnects    prometheus.Counter
	roomJoins      prometheus.Counter
	roomLeaves     prometheus.Counter
	authFailures   prometheus.Counter
	denials        *prometheus.CounterVec
	storeFailures  *prometheus.CounterVec
	idleSwept      prometheus.Counter
	storeOpLatency prometheus.Histogram
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them.
func NewMetrics() *Metrics {
	return &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricConnections,
			Help: "Number of currently authenticated live connections",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricConnects,
			Help: "Total number of successful connection authentications",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDisconnects,
			Help: "Total number of disconnects",
		}),
		roomJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRoomJoins,
			Help: "Total number of successful room joins",
		}),
		roomLeaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRoomLeaves,
			Help: "Total number of room leaves",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuthFailures,
			Help: "Total number of failed connection authentications",
		}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricDenials,
			Help: "Total number of authorization and moderation denials",
		}, []string{"operation"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricStoreFailures,
			Help: "Total number of degraded operations due to store unavailability",
		}, []string{"operation"}),
		idleSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricIdleSwept,
			Help: "Total number of connections removed by the idle sweep",
		}),
		storeOpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricStoreOpLatency,
			Help:    "Histogram of shared-store operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connections,
		m.connects,
		m.disconnects,
		m.roomJoins,
		m.roomLeaves,
		m.authFailures,
		m.denials,
		m.storeFailures,
		m.idleSwept,
		m.storeOpLatency,
	}
}

func (m *Metrics) IncConnects() {
	m.connects.Inc()
	m.connections.Inc()
}

func (m *Metrics) IncDisconnects() {
	m.disconnects.Inc()
	m.connections.Dec()
}

func (m *Metrics) IncRoomJoins()  { m.roomJoins.Inc() }
func (m *Metrics) IncRoomLeaves() { m.roomLeaves.Inc() }
func (m *Metrics) IncAuthFailures() {
	m.authFailures.Inc()
}

func (m *Metrics) IncDenials(operation string) {
	m.denials.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncStoreFailures(operation string) {
	m.storeFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) AddIdleSwept(n int) {
	m.idleSwept.Add(float64(n))
}

// ObserveStoreOpLatency records one shared-store operation latency sample.
func (m *Metrics) ObserveStoreOpLatency(seconds float64) {
	m.storeOpLatency.Observe(seconds)
}
