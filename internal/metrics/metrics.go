// internal/metrics/metrics.go

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SparksCreated counts sparks persisted, by type
	SparksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_sparks_created_total",
		Help: "Total number of sparks created by type",
	}, []string{"type"})

	// DedupSuppressed counts creations suppressed by the dedup guard, by type
	DedupSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_dedup_suppressed_total",
		Help: "Total number of spark creations suppressed by the dedup guard",
	}, []string{"type"})

	// Responses counts responses by outcome: matched, partial, rejected, failed
	Responses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_responses_total",
		Help: "Total number of spark responses by outcome",
	}, []string{"outcome"})

	// IngestJobs counts location jobs by outcome: enqueued, processed, retried, failed, fallback, dropped
	IngestJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_ingest_jobs_total",
		Help: "Total number of location ingestion jobs by outcome",
	}, []string{"outcome"})

	// SweepRuns counts sweep executions, by sweep and status
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_sweep_runs_total",
		Help: "Total number of sweep runs by sweep and status",
	}, []string{"sweep", "status"})

	// SweepDuration observes sweep latency in seconds
	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spark_sweep_duration_seconds",
		Help:    "Sweep duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"sweep"})

	// ChatRoomsProvisioned counts rooms returned by the provisioner, by whether they were reused
	ChatRoomsProvisioned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_chat_rooms_provisioned_total",
		Help: "Total number of chat rooms provisioned",
	}, []string{"reused"})

	// WebSocketConnections tracks live spark stream connections
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spark_websocket_connections_active",
		Help: "Number of active spark stream WebSocket connections",
	})
)

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
