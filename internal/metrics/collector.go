// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// Collector
// =============================================================================

// Collector bundles the Prometheus instruments for the daemon.
type Collector struct {
	// HTTP surface
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Chat pipeline
	chatRequestsTotal *prometheus.CounterVec
	chatDuration      *prometheus.HistogramVec
	streamFramesTotal *prometheus.CounterVec

	// Inference engines
	engineLoadsTotal   *prometheus.CounterVec
	engineLoadDuration *prometheus.HistogramVec
	generationDuration *prometheus.HistogramVec
	promptTokensTotal  *prometheus.CounterVec

	// Page actions
	actionDispatchesTotal *prometheus.CounterVec

	// Flag store
	flagHits   *prometheus.CounterVec
	flagMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the instrument set under namespace on the default
// registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.chatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Total number of chat requests",
		},
		[]string{"mode", "status"}, // mode: sync, stream
	)

	c.chatDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_duration_seconds",
			Help:      "End-to-end chat handling duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	c.streamFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_total",
			Help:      "Total number of streaming chat frames emitted",
		},
		[]string{"type"}, // chunk, action, done, error
	)

	c.engineLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_loads_total",
			Help:      "Total number of engine load attempts",
		},
		[]string{"kind", "status"},
	)

	c.engineLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_load_duration_seconds",
			Help:      "Engine load duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	c.generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Inference duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	c.promptTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_tokens_total",
			Help:      "Total number of prompt tokens sent to engines",
		},
		[]string{"kind"},
	)

	c.actionDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_dispatches_total",
			Help:      "Total number of structured page actions dispatched",
		},
		[]string{"action", "status"},
	)

	c.flagHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flag_hits_total",
			Help:      "Total number of flag store hits",
		},
		[]string{"flag"},
	)

	c.flagMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flag_misses_total",
			Help:      "Total number of flag store misses",
		},
		[]string{"flag"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// Recording
// =============================================================================

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordChat records one completed chat request.
func (c *Collector) RecordChat(mode, status string, duration time.Duration) {
	c.chatRequestsTotal.WithLabelValues(mode, status).Inc()
	c.chatDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordStreamFrame counts one emitted streaming frame.
func (c *Collector) RecordStreamFrame(frameType string) {
	c.streamFramesTotal.WithLabelValues(frameType).Inc()
}

// RecordEngineLoad records one engine load attempt.
func (c *Collector) RecordEngineLoad(kind, status string, duration time.Duration) {
	c.engineLoadsTotal.WithLabelValues(kind, status).Inc()
	c.engineLoadDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordGeneration records one inference round trip.
func (c *Collector) RecordGeneration(kind string, promptTokens int, duration time.Duration) {
	c.generationDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.promptTokensTotal.WithLabelValues(kind).Add(float64(promptTokens))
	}
}

// RecordActionDispatch records one structured action execution.
func (c *Collector) RecordActionDispatch(action string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	c.actionDispatchesTotal.WithLabelValues(action, status).Inc()
}

// RecordFlagHit records a flag store hit.
func (c *Collector) RecordFlagHit(flag string) {
	c.flagHits.WithLabelValues(flag).Inc()
}

// RecordFlagMiss records a flag store miss.
func (c *Collector) RecordFlagMiss(flag string) {
	c.flagMisses.WithLabelValues(flag).Inc()
}

func statusCode(status int) string {
	return fmt.Sprintf("%d", status)
}
