// Package metrics provides Prometheus metrics for the file server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filexfer_connections_total",
			Help: "Total number of accepted connections",
		},
	)

	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filexfer_active_connections",
			Help: "Number of connections currently being served",
		},
	)

	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filexfer_commands_total",
			Help: "Total commands received, by command",
		},
		[]string{"command"},
	)

	listingEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filexfer_listing_entries_total",
			Help: "Total listing records acknowledged by clients",
		},
	)

	bytesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filexfer_bytes_sent_total",
			Help: "Total file bytes streamed to clients",
		},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filexfer_downloads_total",
			Help: "Total number of downloads",
		},
		[]string{"status"},
	)

	connectionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filexfer_connection_errors_total",
			Help: "Connections that ended in an error, by reason",
		},
		[]string{"reason"},
	)

	downloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filexfer_download_duration_seconds",
			Help:    "Time to stream a file, excluding lock wait",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Connection error reasons
const (
	ReasonUnknownCommand = "unknown_command"
	ReasonNotFound       = "not_found"
	ReasonCatalog        = "catalog"
	ReasonIO             = "io"
	ReasonProtocol       = "protocol"
	ReasonPanic          = "panic"
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ConnectionOpened records an accepted connection.
func ConnectionOpened() {
	connectionsTotal.Inc()
	activeConnections.Inc()
}

// ConnectionClosed records the end of a connection.
func ConnectionClosed() {
	activeConnections.Dec()
}

// RecordCommand records a parsed command.
func RecordCommand(command string) {
	commandsTotal.WithLabelValues(command).Inc()
}

// RecordListingEntry records one acknowledged listing record.
func RecordListingEntry() {
	listingEntriesTotal.Inc()
}

// RecordDownload records a finished download.
func RecordDownload(bytes int64, duration time.Duration, success bool) {
	bytesSentTotal.Add(float64(bytes))
	status := "success"
	if !success {
		status = "error"
	}
	downloadsTotal.WithLabelValues(status).Inc()
	if success {
		downloadDuration.Observe(duration.Seconds())
	}
}

// RecordConnectionError records a connection that ended with an error.
func RecordConnectionError(reason string) {
	connectionErrorsTotal.WithLabelValues(reason).Inc()
}
