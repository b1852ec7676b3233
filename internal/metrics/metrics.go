// Package metrics exports Prometheus metrics for the memory service.
//
// All recorders are nil-safe so components can run without metrics in tests
// and one-shot CLI commands.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "session_memory"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	enrichmentJobs    *prometheus.CounterVec
	enrichmentDropped *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	embedLatency      prometheus.Histogram

	queries      *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec

	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{registry: registry}

	m.enrichmentJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "jobs_total",
			Help:      "Enrichment jobs processed, by space and outcome",
		},
		[]string{"space", "outcome"},
	)
	m.enrichmentDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "dropped_total",
			Help:      "Enrichment jobs dropped because the queue was full",
		},
		[]string{"space"},
	)
	m.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "queue_depth",
			Help:      "Jobs waiting in the enrichment queue",
		},
	)
	m.embedLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "latency_seconds",
			Help:      "Embedding call latency in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)
	m.queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "queries_total",
			Help:      "Retrieval queries, by space and result status",
		},
		[]string{"space", "status"},
	)
	m.queryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "latency_seconds",
			Help:      "Retrieval latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"space"},
	)
	m.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "MCP tool calls, by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)
	m.toolLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mcp",
			Name:      "tool_latency_seconds",
			Help:      "MCP tool call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	registry.MustRegister(
		m.enrichmentJobs, m.enrichmentDropped, m.queueDepth, m.embedLatency,
		m.queries, m.queryLatency, m.toolCalls, m.toolLatency,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EnrichmentJob(space, outcome string) {
	if m == nil {
		return
	}
	m.enrichmentJobs.WithLabelValues(space, outcome).Inc()
}

func (m *Metrics) EnrichmentDropped(space string) {
	if m == nil {
		return
	}
	m.enrichmentDropped.WithLabelValues(space).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) EmbedLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.embedLatency.Observe(d.Seconds())
}

func (m *Metrics) Query(space, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(space, status).Inc()
	m.queryLatency.WithLabelValues(space).Observe(d.Seconds())
}

func (m *Metrics) ToolCall(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(d.Seconds())
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
