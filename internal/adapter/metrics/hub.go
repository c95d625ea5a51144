package metrics

import "github.com/prometheus/client_golang/prometheus"

// HubMetrics holds Prometheus metrics for connected stream clients.
type HubMetrics struct {
	ConnectedClients   prometheus.Gauge
	EventsBroadcast    *prometheus.CounterVec
	SlowClientsEvicted prometheus.Counter
	RejectedClients    *prometheus.CounterVec
}

// NewHubMetrics creates and registers hub metrics on the given registry.
func NewHubMetrics(reg prometheus.Registerer) *HubMetrics {
	m := &HubMetrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connected_clients",
			Help:      "Number of connected stream clients.",
		}),
		EventsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "events_broadcast_total",
			Help:      "Events broadcast to clients by event name.",
		}, []string{"event"}),
		SlowClientsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "slow_clients_evicted_total",
			Help:      "Clients disconnected because their queue was full.",
		}),
		RejectedClients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "rejected_clients_total",
			Help:      "Client registrations rejected, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.ConnectedClients, m.EventsBroadcast, m.SlowClientsEvicted, m.RejectedClients)
	return m
}
