package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/glimte/mmate-orb/interceptors"
)

// maxSamples bounds the samples kept per operation for percentiles
const maxSamples = 100

// SimpleMetricsCollector implements an in-memory metrics collector keyed by
// side and operation
type SimpleMetricsCollector struct {
	mu sync.RWMutex

	requestCounters map[OperationKey]int64
	errorCounters   map[OperationKey]map[string]int64
	processingTimes map[OperationKey]*TimeStats
}

// OperationKey identifies one operation as seen from one side
type OperationKey struct {
	Side      string `json:"side"`
	Operation string `json:"operation"`
}

// String renders the key as side/operation
func (k OperationKey) String() string {
	return k.Side + "/" + k.Operation
}

// TimeStats tracks timing statistics
type TimeStats struct {
	Count   int64
	TotalMs int64
	MinMs   int64
	MaxMs   int64
	samples []int64
}

// NewSimpleMetricsCollector creates a new in-memory metrics collector
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	return &SimpleMetricsCollector{
		requestCounters: make(map[OperationKey]int64),
		errorCounters:   make(map[OperationKey]map[string]int64),
		processingTimes: make(map[OperationKey]*TimeStats),
	}
}

// IncrementRequestCount implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) IncrementRequestCount(side, operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestCounters[OperationKey{side, operation}]++
}

// RecordProcessingTime implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) RecordProcessingTime(side, operation string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := OperationKey{side, operation}
	durationMs := duration.Milliseconds()

	stats, exists := c.processingTimes[key]
	if !exists {
		stats = &TimeStats{
			MinMs:   durationMs,
			MaxMs:   durationMs,
			samples: make([]int64, 0, maxSamples),
		}
		c.processingTimes[key] = stats
	}

	stats.Count++
	stats.TotalMs += durationMs
	if durationMs < stats.MinMs {
		stats.MinMs = durationMs
	}
	if durationMs > stats.MaxMs {
		stats.MaxMs = durationMs
	}

	if len(stats.samples) >= maxSamples {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, durationMs)
}

// IncrementErrorCount implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) IncrementErrorCount(side, operation, errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := OperationKey{side, operation}
	if c.errorCounters[key] == nil {
		c.errorCounters[key] = make(map[string]int64)
	}
	c.errorCounters[key][errorType]++
}

// GetMetricsSummary returns a snapshot of all collected metrics
func (c *SimpleMetricsCollector) GetMetricsSummary() MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := MetricsSummary{
		RequestCounts:   make(map[OperationKey]int64, len(c.requestCounters)),
		ErrorCounts:     make(map[OperationKey]map[string]int64, len(c.errorCounters)),
		ProcessingStats: make(map[OperationKey]ProcessingStats, len(c.processingTimes)),
	}

	for key, count := range c.requestCounters {
		summary.RequestCounts[key] = count
	}

	for key, errs := range c.errorCounters {
		summary.ErrorCounts[key] = make(map[string]int64, len(errs))
		for errorType, count := range errs {
			summary.ErrorCounts[key][errorType] = count
		}
	}

	for key, stats := range c.processingTimes {
		procStats := ProcessingStats{
			Count: stats.Count,
			MinMs: stats.MinMs,
			MaxMs: stats.MaxMs,
		}
		if stats.Count > 0 {
			procStats.AvgMs = stats.TotalMs / stats.Count
		}
		if len(stats.samples) > 0 {
			sorted := append([]int64(nil), stats.samples...)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			procStats.P50Ms = percentile(sorted, 0.50)
			procStats.P95Ms = percentile(sorted, 0.95)
			procStats.P99Ms = percentile(sorted, 0.99)
		}
		summary.ProcessingStats[key] = procStats
	}

	return summary
}

// ErrorRate returns failed over started requests for one side
func (c *SimpleMetricsCollector) ErrorRate(side string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var requests, errs int64
	for key, count := range c.requestCounters {
		if key.Side == side {
			requests += count
		}
	}
	for key, byType := range c.errorCounters {
		if key.Side != side {
			continue
		}
		for _, count := range byType {
			errs += count
		}
	}
	if requests == 0 {
		return 0
	}
	return float64(errs) / float64(requests)
}

// percentile expects sorted samples
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}

// MetricsSummary represents a snapshot of all metrics
type MetricsSummary struct {
	RequestCounts   map[OperationKey]int64
	ErrorCounts     map[OperationKey]map[string]int64
	ProcessingStats map[OperationKey]ProcessingStats
}

// ProcessingStats represents processing time statistics for one operation
type ProcessingStats struct {
	Count int64 `json:"count"`
	AvgMs int64 `json:"avg_ms"`
	MinMs int64 `json:"min_ms"`
	MaxMs int64 `json:"max_ms"`
	P50Ms int64 `json:"p50_ms"`
	P95Ms int64 `json:"p95_ms"`
	P99Ms int64 `json:"p99_ms"`
}

// Reset clears all collected metrics
func (c *SimpleMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestCounters = make(map[OperationKey]int64)
	c.errorCounters = make(map[OperationKey]map[string]int64)
	c.processingTimes = make(map[OperationKey]*TimeStats)
}

var _ interceptors.MetricsCollector = (*SimpleMetricsCollector)(nil)
