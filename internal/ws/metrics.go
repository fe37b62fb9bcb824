package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hubConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_hub_connections",
		Help: "Number of active WebSocket subscribers across all channels.",
	})

	hubFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_hub_frames_total",
		Help: "Total frames handled by the hub grouped by type.",
	}, []string{"type"})

	hubDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_hub_dropped_frames_total",
		Help: "Frames dropped because a subscriber's send buffer was full.",
	})
)
