package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agent",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agent",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	UpdateChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agent",
		Name:      "update_checks_total",
		Help:      "Total update checks by result (none, update, error).",
	}, []string{"result"})

	TransfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agent",
		Name:      "transfers_total",
		Help:      "Total firmware transfer attempts by outcome reason.",
	}, []string{"outcome"})

	TransferStateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agent",
		Name:      "transfer_state_transitions_total",
		Help:      "Total transfer session state transitions.",
	}, []string{"from", "to"})

	TransferBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "agent",
		Name:      "transfer_bytes_total",
		Help:      "Total bytes written to the staging partition across all attempts.",
	})

	TransferProgressBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agent",
		Name:      "transfer_progress_bytes",
		Help:      "Bytes written to the staging partition by the in-flight transfer.",
	})

	TransferDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agent",
		Name:      "transfer_duration_seconds",
		Help:      "Duration of firmware transfer attempts in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	LastCheckTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agent",
		Name:      "last_update_check_timestamp_seconds",
		Help:      "Unix timestamp of the most recent update check.",
	})

	WSClientsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agent",
		Name:      "ws_clients_connected",
		Help:      "Number of currently connected WebSocket clients.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		UpdateChecksTotal,
		TransfersTotal,
		TransferStateTransitionsTotal,
		TransferBytesTotal,
		TransferProgressBytes,
		TransferDuration,
		LastCheckTimestamp,
		WSClientsConnected,
	)
}
