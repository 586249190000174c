package utils

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tracks performance metrics across the replica
type MetricsCollector struct {
	mu           sync.RWMutex
	requestCount uint64
	errorCount   uint64

	// Maps operation name to its running count and total latency
	operations map[string]*opTotals

	systemStartTime time.Time

	registry      *prometheus.Registry
	eventsApplied *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
	published     *prometheus.CounterVec
	opLatency     *prometheus.HistogramVec
}

type opTotals struct {
	count uint64
	total time.Duration
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		operations:      make(map[string]*opTotals),
		systemStartTime: time.Now(),
		registry:        prometheus.NewRegistry(),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedmesh",
			Name:      "events_applied_total",
			Help:      "Mutation events written to the durable store.",
		}, []string{"kind", "origin"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedmesh",
			Name:      "events_dropped_total",
			Help:      "Mutation events absorbed without a store write.",
		}, []string{"reason"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedmesh",
			Name:      "events_published_total",
			Help:      "Events handed to the replication channel.",
		}, []string{"kind"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "feedmesh",
			Name:      "operation_seconds",
			Help:      "Latency of replica operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
	}
	mc.registry.MustRegister(mc.eventsApplied, mc.eventsDropped, mc.published, mc.opLatency)
	return mc
}

func (mc *MetricsCollector) IncrementRequests() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.requestCount++
}

func (mc *MetricsCollector) IncrementErrors() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.errorCount++
}

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.opLatency.WithLabelValues(operationName).Observe(duration.Seconds())

	mc.mu.Lock()
	defer mc.mu.Unlock()
	op, ok := mc.operations[operationName]
	if !ok {
		op = &opTotals{}
		mc.operations[operationName] = op
	}
	op.count++
	op.total += duration
}

func (mc *MetricsCollector) EventApplied(kind, origin string) {
	mc.eventsApplied.WithLabelValues(kind, origin).Inc()
}

func (mc *MetricsCollector) EventDropped(reason string) {
	mc.eventsDropped.WithLabelValues(reason).Inc()
}

func (mc *MetricsCollector) EventPublished(kind string) {
	mc.published.WithLabelValues(kind).Inc()
}

// OperationCount returns how many latencies were recorded for an operation.
func (mc *MetricsCollector) OperationCount(operationName string) int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if op, ok := mc.operations[operationName]; ok {
		return int(op.count)
	}
	return 0
}

// AverageLatency returns the mean recorded latency of an operation, zero
// when none was recorded.
func (mc *MetricsCollector) AverageLatency(operationName string) time.Duration {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	op, ok := mc.operations[operationName]
	if !ok || op.count == 0 {
		return 0
	}
	return op.total / time.Duration(op.count)
}

// Counts returns the request and error counters.
func (mc *MetricsCollector) Counts() (requests, errors uint64) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.requestCount, mc.errorCount
}

func (mc *MetricsCollector) Uptime() time.Duration {
	return time.Since(mc.systemStartTime)
}

// Handler serves the collector's registry in the Prometheus text format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}
