package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	metricLiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "imlast",
		Subsystem: "realtime",
		Name:      "live_connections",
		Help:      "Number of live websocket connections.",
	})

	metricOnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "imlast",
		Subsystem: "realtime",
		Name:      "online_users",
		Help:      "Number of users with at least one live connection.",
	})

	metricDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imlast",
		Subsystem: "realtime",
		Name:      "deliveries_total",
		Help:      "Envelopes enqueued to live connections, by target kind.",
	}, []string{"target"})

	metricDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imlast",
		Subsystem: "realtime",
		Name:      "drops_total",
		Help:      "Envelopes dropped under backpressure, by target kind.",
	}, []string{"target"})

	metricPresenceTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imlast",
		Subsystem: "realtime",
		Name:      "presence_transitions_total",
		Help:      "Observable presence transitions, by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		metricLiveConnections,
		metricOnlineUsers,
		metricDeliveries,
		metricDrops,
		metricPresenceTransitions,
	)
}
