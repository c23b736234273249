package realtime

import "github.com/prometheus/client_golang/prometheus"

var (
	// wsConns gauges currently open websocket connections.
	wsConns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connections_active",
			Help: "Current number of open websocket connections.",
		},
	)

	// roomJoins counts joins that added a new member to a room.
	roomJoins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_room_joins_total",
			Help: "Total number of room joins that added a member.",
		},
	)

	// broadcastFrames counts frames fanned out to rooms, by event name.
	broadcastFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_broadcast_frames_total",
			Help: "Frames broadcast to rooms, by event.",
		},
		[]string{"event"},
	)

	// broadcastDropped counts per-recipient deliveries skipped because the
	// recipient's send buffer was full or the connection was closing.
	broadcastDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_broadcast_dropped_total",
			Help: "Frames dropped for a recipient with a full or closed send buffer.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsConns, roomJoins, broadcastFrames, broadcastDropped)
}
