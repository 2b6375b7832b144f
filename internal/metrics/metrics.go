package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of live websocket connections.",
		},
	)

	OnlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_online_users",
			Help: "Number of distinct users with at least one live connection.",
		},
	)

	EventsDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_delivered_total",
			Help: "Total number of events pushed to client connections.",
		},
		[]string{"type"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_dropped_total",
			Help: "Total number of events dropped on full client buffers.",
		},
		[]string{"type"},
	)

	MessagesStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_stored_total",
			Help: "Total number of persisted messages.",
		},
		[]string{"kind"},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		ActiveConnections,
		OnlineUsers,
		EventsDeliveredTotal,
		EventsDroppedTotal,
		MessagesStoredTotal,
	)
}
