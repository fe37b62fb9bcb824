package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_samples_accepted_total",
		Help: "Position samples accepted by the poller.",
	})
	samplesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_samples_dropped_total",
		Help: "Position samples dropped by the source debounce window.",
	})
	updatesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_location_updates_sent_total",
		Help: "Location updates delivered to the backend.",
	})
	updateRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_location_update_retries_total",
		Help: "Location update retries scheduled after a send failure.",
	})
	updatesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_location_updates_failed_total",
		Help: "Location updates abandoned after exhausting the retry ceiling.",
	})
)
