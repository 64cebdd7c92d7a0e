package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// All metrics are low-cardinality: camera names appear as labels
// because deployments run tens of cameras, not thousands.

var (
	FramesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_frames_processed_total",
			Help: "Total frames run through a pipeline",
		},
		[]string{"camera"},
	)

	FramesFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_frames_failed_total",
			Help: "Total frames whose pipeline execution failed",
		},
		[]string{"camera"},
	)

	FrameProcessingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analytics_frame_processing_latency_ms",
			Help:    "Per-frame pipeline execution latency in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
		},
		[]string{"camera"},
	)

	PipelineCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_pipeline_cache_hits_total",
			Help: "Pipeline cache lookups served without an API fetch",
		},
	)

	PipelineCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_pipeline_cache_misses_total",
			Help: "Pipeline cache lookups that required an API fetch",
		},
	)

	EventsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analytics_events_persisted_total",
			Help: "Events stored by sink nodes",
		},
		[]string{"event_type"},
	)

	CaptureWorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "analytics_capture_workers_active",
			Help: "Capture workers currently running",
		},
	)

	WsClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "analytics_ws_clients_connected",
			Help: "WebSocket clients currently connected",
		},
	)

	TrackerFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analytics_tracker_fallbacks_total",
			Help: "Times a pipeline tracker demoted to centroid mode",
		},
	)
)

// RecordFrame marks one processed frame with its latency.
func RecordFrame(camera string, latencyMs float64, failed bool) {
	FramesProcessedTotal.WithLabelValues(camera).Inc()
	FrameProcessingLatency.WithLabelValues(camera).Observe(latencyMs)
	if failed {
		FramesFailedTotal.WithLabelValues(camera).Inc()
	}
}

// Handler exposes the process metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
