package monitor

import (
	"slices"
	"sort"
	"sync"
	"time"

	mmate "github.com/glimte/mmate-broker"
	"github.com/glimte/mmate-broker/interceptors"
)

const maxSamples = 100

// SimpleMetricsCollector keeps in-memory counters for publishes per exchange
// and deliveries per queue
type SimpleMetricsCollector struct {
	mu sync.RWMutex

	// delivery counters by queue
	messageCounters map[string]int64

	// error counters by queue and error type
	errorCounters map[string]map[string]int64

	// processing time stats by queue
	processingTimes map[string]*TimeStats

	// publish counters by exchange
	publishCounters map[string]*PublishStats
}

// TimeStats tracks timing statistics
type TimeStats struct {
	Count   int64
	TotalMs int64
	MinMs   int64
	MaxMs   int64
	samples []int64 // last maxSamples values, for percentiles
}

// PublishStats counts publishes to one exchange
type PublishStats struct {
	Published  int64 `json:"published"`
	Routed     int64 `json:"routed"`
	Unroutable int64 `json:"unroutable"`
}

// NewSimpleMetricsCollector creates a new in-memory metrics collector
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	return &SimpleMetricsCollector{
		messageCounters: make(map[string]int64),
		errorCounters:   make(map[string]map[string]int64),
		processingTimes: make(map[string]*TimeStats),
		publishCounters: make(map[string]*PublishStats),
	}
}

// RecordPublish implements mmate.PublishRecorder. routed is the number of
// queues the message reached; zero counts as unroutable.
func (c *SimpleMetricsCollector) RecordPublish(exchange string, routed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.publishCounters[exchange]
	if !ok {
		stats = &PublishStats{}
		c.publishCounters[exchange] = stats
	}

	stats.Published++
	stats.Routed += int64(routed)
	if routed == 0 {
		stats.Unroutable++
	}
}

// IncrementMessageCount implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) IncrementMessageCount(queue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageCounters[queue]++
}

// RecordProcessingTime implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) RecordProcessingTime(queue string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	durationMs := duration.Milliseconds()

	stats, exists := c.processingTimes[queue]
	if !exists {
		stats = &TimeStats{
			MinMs:   durationMs,
			MaxMs:   durationMs,
			samples: make([]int64, 0, maxSamples),
		}
		c.processingTimes[queue] = stats
	}

	stats.Count++
	stats.TotalMs += durationMs
	stats.MinMs = min(stats.MinMs, durationMs)
	stats.MaxMs = max(stats.MaxMs, durationMs)

	if len(stats.samples) >= maxSamples {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, durationMs)
}

// IncrementErrorCount implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) IncrementErrorCount(queue string, errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errorCounters[queue] == nil {
		c.errorCounters[queue] = make(map[string]int64)
	}
	c.errorCounters[queue][errorType]++
}

// GetMetricsSummary returns a copy of everything collected so far
func (c *SimpleMetricsCollector) GetMetricsSummary() MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := MetricsSummary{
		Publishes:       make(map[string]PublishStats, len(c.publishCounters)),
		MessageCounts:   make(map[string]int64, len(c.messageCounters)),
		ErrorCounts:     make(map[string]map[string]int64, len(c.errorCounters)),
		ProcessingStats: make(map[string]ProcessingStats, len(c.processingTimes)),
	}

	for exchange, stats := range c.publishCounters {
		summary.Publishes[exchange] = *stats
	}

	for queue, count := range c.messageCounters {
		summary.MessageCounts[queue] = count
	}

	for queue, errs := range c.errorCounters {
		summary.ErrorCounts[queue] = make(map[string]int64, len(errs))
		for errorType, count := range errs {
			summary.ErrorCounts[queue][errorType] = count
		}
	}

	for queue, stats := range c.processingTimes {
		procStats := ProcessingStats{
			Count: stats.Count,
			MinMs: stats.MinMs,
			MaxMs: stats.MaxMs,
		}

		if stats.Count > 0 {
			procStats.AvgMs = stats.TotalMs / stats.Count
		}

		if len(stats.samples) > 0 {
			sorted := slices.Clone(stats.samples)
			slices.Sort(sorted)
			procStats.P50Ms = percentile(sorted, 0.50)
			procStats.P95Ms = percentile(sorted, 0.95)
			procStats.P99Ms = percentile(sorted, 0.99)
		}

		summary.ProcessingStats[queue] = procStats
	}

	return summary
}

// percentile reads a percentile from sorted samples
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)-1) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

// MetricsSummary represents a snapshot of all metrics
type MetricsSummary struct {
	Publishes       map[string]PublishStats     `json:"publishes"`
	MessageCounts   map[string]int64            `json:"message_counts"`
	ErrorCounts     map[string]map[string]int64 `json:"error_counts"`
	ProcessingStats map[string]ProcessingStats  `json:"processing_stats"`
}

// ProcessingStats represents processing time statistics for a queue
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

	c.messageCounters = make(map[string]int64)
	c.errorCounters = make(map[string]map[string]int64)
	c.processingTimes = make(map[string]*TimeStats)
	c.publishCounters = make(map[string]*PublishStats)
}

// AdvancedMetricsCollector extends MetricsCollector with latency and error analysis
type AdvancedMetricsCollector interface {
	interceptors.MetricsCollector
	GetLatencyPercentiles() LatencyStats
	GetErrorAnalysis() ErrorAnalysis
}

// LatencyStats provides detailed latency analysis
type LatencyStats struct {
	P50  time.Duration `json:"p50"`
	P75  time.Duration `json:"p75"`
	P90  time.Duration `json:"p90"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
	P999 time.Duration `json:"p999"`
	Min  time.Duration `json:"min"`
	Max  time.Duration `json:"max"`
	Mean time.Duration `json:"mean"`
}

// ErrorAnalysis breaks errors down by type and queue
type ErrorAnalysis struct {
	TotalErrors   int64            `json:"total_errors"`
	ErrorRate     float64          `json:"error_rate"`
	TopErrorTypes []ErrorTypeStats `json:"top_error_types"`
	ErrorsByQueue map[string]int64 `json:"errors_by_queue"`
}

// ErrorTypeStats represents statistics for a specific error type
type ErrorTypeStats struct {
	ErrorType string  `json:"error_type"`
	Count     int64   `json:"count"`
	Rate      float64 `json:"rate"`
}

// GetLatencyPercentiles implements AdvancedMetricsCollector
func (c *SimpleMetricsCollector) GetLatencyPercentiles() LatencyStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var allSamples []int64
	var totalDuration, totalCount int64
	minDuration, maxDuration := int64(-1), int64(0)

	for _, stats := range c.processingTimes {
		allSamples = append(allSamples, stats.samples...)
		totalDuration += stats.TotalMs
		totalCount += stats.Count

		if minDuration < 0 || stats.MinMs < minDuration {
			minDuration = stats.MinMs
		}
		maxDuration = max(maxDuration, stats.MaxMs)
	}

	if len(allSamples) == 0 {
		return LatencyStats{}
	}

	slices.Sort(allSamples)

	ms := func(v int64) time.Duration { return time.Duration(v) * time.Millisecond }
	return LatencyStats{
		P50:  ms(percentile(allSamples, 0.50)),
		P75:  ms(percentile(allSamples, 0.75)),
		P90:  ms(percentile(allSamples, 0.90)),
		P95:  ms(percentile(allSamples, 0.95)),
		P99:  ms(percentile(allSamples, 0.99)),
		P999: ms(percentile(allSamples, 0.999)),
		Min:  ms(minDuration),
		Max:  ms(maxDuration),
		Mean: ms(totalDuration / totalCount),
	}
}

// GetErrorAnalysis implements AdvancedMetricsCollector. Error types are
// ordered by count, highest first.
func (c *SimpleMetricsCollector) GetErrorAnalysis() ErrorAnalysis {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var totalErrors, totalMessages int64
	byType := make(map[string]int64)
	byQueue := make(map[string]int64)

	for _, count := range c.messageCounters {
		totalMessages += count
	}

	for queue, errs := range c.errorCounters {
		for errorType, count := range errs {
			totalErrors += count
			byQueue[queue] += count
			byType[errorType] += count
		}
	}

	analysis := ErrorAnalysis{
		TotalErrors:   totalErrors,
		ErrorsByQueue: byQueue,
		TopErrorTypes: make([]ErrorTypeStats, 0, len(byType)),
	}
	if totalMessages > 0 {
		analysis.ErrorRate = float64(totalErrors) / float64(totalMessages)
	}

	for errorType, count := range byType {
		analysis.TopErrorTypes = append(analysis.TopErrorTypes, ErrorTypeStats{
			ErrorType: errorType,
			Count:     count,
			Rate:      float64(count) / float64(totalErrors),
		})
	}
	sort.Slice(analysis.TopErrorTypes, func(i, j int) bool {
		a, b := analysis.TopErrorTypes[i], analysis.TopErrorTypes[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.ErrorType < b.ErrorType
	})

	return analysis
}

var (
	_ interceptors.MetricsCollector = (*SimpleMetricsCollector)(nil)
	_ AdvancedMetricsCollector      = (*SimpleMetricsCollector)(nil)
	_ mmate.PublishRecorder         = (*SimpleMetricsCollector)(nil)
)
