package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cuecard_gateway_connections",
		Help: "Open websocket connections",
	})

	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuecard_gateway_messages_sent_total",
		Help: "Messages queued to websocket clients by type",
	}, []string{"type"})

	ClientCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cuecard_gateway_client_commands_total",
		Help: "Commands received from websocket clients by outcome",
	}, []string{"outcome"})

	DroppedConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cuecard_gateway_slow_connections_dropped_total",
		Help: "Connections closed because their send buffer was full",
	})
)
