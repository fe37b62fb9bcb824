package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	positionsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_positions_total",
		Help: "Rider positions accepted from the fleet stream.",
	})
	positionsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_positions_rejected_total",
		Help: "Stream messages dropped for malformed rider IDs or coordinates.",
	})
)
