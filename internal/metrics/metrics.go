// Package metrics provides Prometheus metrics for connections and transfers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	connectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescale_sftp_connect_attempts_total",
			Help: "Total connection attempts by result (ok or the failure kind)",
		},
		[]string{"result"},
	)

	connectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rescale_sftp_connect_duration_seconds",
			Help:    "Time to dial, authenticate and open SFTP channels",
			Buckets: prometheus.DefBuckets,
		},
	)

	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rescale_sftp_connections_active",
			Help: "Number of connections in the connected state",
		},
	)

	connectionsLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rescale_sftp_connections_lost_total",
			Help: "Connections that failed after being established",
		},
	)

	// Transfer metrics
	transfersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rescale_sftp_transfers_active",
			Help: "Transfers currently moving data",
		},
		[]string{"kind"},
	)

	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescale_sftp_transfers_total",
			Help: "Finished transfers by kind and terminal state",
		},
		[]string{"kind", "state"},
	)

	transferBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescale_sftp_transfer_bytes_total",
			Help: "Bytes moved by transfers",
		},
		[]string{"kind"},
	)

	transferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rescale_sftp_transfer_duration_seconds",
			Help:    "Wall time of finished transfers",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"kind"},
	)

	// Listing metrics
	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescale_sftp_listings_total",
			Help: "Directory listings by result",
		},
		[]string{"result"},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rescale_sftp_events_dropped_total",
			Help: "Progress events dropped because a subscriber buffer was full",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordConnect records a connection attempt. result is "ok" or a failure kind.
func RecordConnect(result string, duration time.Duration) {
	connectAttemptsTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		connectDuration.Observe(duration.Seconds())
		connectionsActive.Inc()
	}
}

// RecordDisconnect records a connected connection going away. lost is true when the
// peer or transport ended it rather than the caller.
func RecordDisconnect(lost bool) {
	connectionsActive.Dec()
	if lost {
		connectionsLostTotal.Inc()
	}
}

// RecordTransferStart records a transfer entering the active state.
func RecordTransferStart(kind string) {
	transfersActive.WithLabelValues(kind).Inc()
}

// RecordTransferBytes records bytes moved by a transfer chunk.
func RecordTransferBytes(kind string, n int) {
	transferBytesTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordTransferFinish records a transfer reaching a terminal state. started reports
// whether RecordTransferStart was called for it.
func RecordTransferFinish(kind, state string, started bool, duration time.Duration) {
	if started {
		transfersActive.WithLabelValues(kind).Dec()
	}
	transfersTotal.WithLabelValues(kind, state).Inc()
	transferDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordListing records a directory listing. result is "ok" or a failure kind.
func RecordListing(result string) {
	listingsTotal.WithLabelValues(result).Inc()
}

// AddDroppedEvents adds to the dropped progress event counter.
func AddDroppedEvents(n int64) {
	if n > 0 {
		eventsDroppedTotal.Add(float64(n))
	}
}
