package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	CandidatesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "switchyard_candidates_total",
			Help: "Total number of registered candidates by domain",
		},
		[]string{"domain"},
	)

	RegistrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_registrations_total",
			Help: "Total number of candidate registrations by domain and source",
		},
		[]string{"domain", "source"},
	)

	ResolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_resolves_total",
			Help: "Total number of resolutions by domain",
		},
		[]string{"domain"},
	)

	// Lifecycle metrics
	InstancesReady = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "switchyard_instances_ready",
			Help: "Number of live instances in READY state by domain",
		},
		[]string{"domain"},
	)

	SwapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_swaps_total",
			Help: "Total number of swaps by domain and result",
		},
		[]string{"domain", "result"},
	)

	SwapDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchyard_swap_duration_seconds",
			Help:    "Swap duration in seconds by domain",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"domain"},
	)

	LifecycleErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_lifecycle_errors_total",
			Help: "Total number of lifecycle operation failures by domain and operation",
		},
		[]string{"domain", "op"},
	)

	// Manifest loader metrics
	ManifestFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_manifest_fetches_total",
			Help: "Total number of manifest fetches by source and result",
		},
		[]string{"source", "result"},
	)

	ManifestEntriesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_manifest_entries_rejected_total",
			Help: "Total number of manifest entries rejected by reason",
		},
		[]string{"reason"},
	)

	ArtifactDownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_artifact_downloads_total",
			Help: "Total number of artifact downloads by result",
		},
		[]string{"result"},
	)

	FetchBreakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "switchyard_fetch_breaker_open",
			Help: "Whether the fetch circuit breaker is open per source (1 = open)",
		},
		[]string{"source"},
	)

	// Orchestrator metrics
	SwapQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "switchyard_swap_queue_depth",
			Help: "Number of swap requests waiting in the orchestrator queue",
		},
	)

	SwapsDeferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "switchyard_swaps_deferred_total",
			Help: "Total number of swaps deferred because the target was paused or draining",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CandidatesTotal)
	prometheus.MustRegister(RegistrationsTotal)
	prometheus.MustRegister(ResolvesTotal)
	prometheus.MustRegister(InstancesReady)
	prometheus.MustRegister(SwapsTotal)
	prometheus.MustRegister(SwapDuration)
	prometheus.MustRegister(LifecycleErrorsTotal)
	prometheus.MustRegister(ManifestFetchesTotal)
	prometheus.MustRegister(ManifestEntriesRejected)
	prometheus.MustRegister(ArtifactDownloadsTotal)
	prometheus.MustRegister(FetchBreakerOpen)
	prometheus.MustRegister(SwapQueueDepth)
	prometheus.MustRegister(SwapsDeferred)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
