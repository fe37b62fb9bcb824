package wsclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wsclient_reconnects_total",
		Help: "Total reconnect attempts scheduled after an unexpected close.",
	})
	framesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wsclient_frames_sent_total",
		Help: "Total frames written to the channel.",
	})
	framesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wsclient_frames_received_total",
		Help: "Total frames received from the channel.",
	})
)
