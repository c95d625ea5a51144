package metrics

import "github.com/prometheus/client_golang/prometheus"

// BridgeMetrics covers the broker side: routed and dropped messages,
// listener failures, reconnection attempts and connectivity probes.
type BridgeMetrics struct {
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	ListenerPanics   *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	ProbesTotal      *prometheus.CounterVec
	ProbeDuration    prometheus.Histogram
}

// NewBridgeMetrics creates and registers bridge metrics on the given registry.
func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_received_total",
			Help:      "Broker messages received by topic.",
		}, []string{"topic"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_dropped_total",
			Help:      "Broker messages dropped by topic and reason.",
		}, []string{"topic", "reason"}),
		ListenerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "listener_panics_total",
			Help:      "Listener invocations that panicked, by listener set.",
		}, []string{"set"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "reconnect_attempts_total",
			Help:      "Broker reconnection attempts by connection.",
		}, []string{"connection"}),
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "total",
			Help:      "Connectivity probes by result.",
		}, []string{"result"}),
		ProbeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Time until a connectivity probe resolved.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 3},
		}),
	}

	reg.MustRegister(m.MessagesReceived, m.MessagesDropped, m.ListenerPanics, m.Reconnects, m.ProbesTotal, m.ProbeDuration)
	return m
}
