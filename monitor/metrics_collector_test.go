package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	mmate "github.com/glimte/mmate-broker"
	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/interceptors"
	"github.com/glimte/mmate-broker/queue"
	"github.com/glimte/mmate-broker/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSimpleMetricsCollector(t *testing.T) {
	t.Run("NewSimpleMetricsCollector creates collector", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		summary := collector.GetMetricsSummary()
		assert.Empty(t, summary.Publishes)
		assert.Empty(t, summary.MessageCounts)
		assert.Empty(t, summary.ErrorCounts)
		assert.Empty(t, summary.ProcessingStats)
	})

	t.Run("RecordPublish counts routed and unroutable", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		collector.RecordPublish("logs", 3)
		collector.RecordPublish("logs", 0)
		collector.RecordPublish("", 1)

		summary := collector.GetMetricsSummary()
		assert.Equal(t, PublishStats{Published: 2, Routed: 3, Unroutable: 1}, summary.Publishes["logs"])
		assert.Equal(t, PublishStats{Published: 1, Routed: 1}, summary.Publishes[""])
	})

	t.Run("IncrementMessageCount tracks messages", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		collector.IncrementMessageCount("task_queue")
		collector.IncrementMessageCount("task_queue")
		collector.IncrementMessageCount("hello")

		summary := collector.GetMetricsSummary()
		assert.Equal(t, int64(2), summary.MessageCounts["task_queue"])
		assert.Equal(t, int64(1), summary.MessageCounts["hello"])
	})

	t.Run("RecordProcessingTime tracks timing", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		collector.RecordProcessingTime("task_queue", 100*time.Millisecond)
		collector.RecordProcessingTime("task_queue", 200*time.Millisecond)
		collector.RecordProcessingTime("task_queue", 150*time.Millisecond)

		stats := collector.GetMetricsSummary().ProcessingStats["task_queue"]
		assert.Equal(t, int64(3), stats.Count)
		assert.Equal(t, int64(150), stats.AvgMs)
		assert.Equal(t, int64(100), stats.MinMs)
		assert.Equal(t, int64(200), stats.MaxMs)
	})

	t.Run("Percentiles", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		for i := 10; i >= 1; i-- {
			collector.RecordProcessingTime("q", time.Duration(i*10)*time.Millisecond)
		}

		stats := collector.GetMetricsSummary().ProcessingStats["q"]
		assert.Equal(t, int64(50), stats.P50Ms)
		assert.Equal(t, int64(90), stats.P95Ms)
		assert.Equal(t, int64(90), stats.P99Ms)
	})

	t.Run("Samples are capped", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()
		for i := 0; i < 3*maxSamples; i++ {
			collector.RecordProcessingTime("q", time.Millisecond)
		}

		collector.mu.RLock()
		defer collector.mu.RUnlock()
		assert.Len(t, collector.processingTimes["q"].samples, maxSamples)
		assert.Equal(t, int64(3*maxSamples), collector.processingTimes["q"].Count)
	})

	t.Run("IncrementErrorCount tracks errors", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		collector.IncrementErrorCount("q", "decode_error")
		collector.IncrementErrorCount("q", "decode_error")
		collector.IncrementErrorCount("q", "timeout")
		collector.IncrementErrorCount("other", "panic")

		summary := collector.GetMetricsSummary()
		assert.Equal(t, int64(2), summary.ErrorCounts["q"]["decode_error"])
		assert.Equal(t, int64(1), summary.ErrorCounts["q"]["timeout"])
		assert.Equal(t, int64(1), summary.ErrorCounts["other"]["panic"])
	})

	t.Run("Summary is a copy", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()
		collector.IncrementErrorCount("q", "panic")

		summary := collector.GetMetricsSummary()
		summary.ErrorCounts["q"]["panic"] = 100

		assert.Equal(t, int64(1), collector.GetMetricsSummary().ErrorCounts["q"]["panic"])
	})

	t.Run("Reset clears all metrics", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		collector.RecordPublish("x", 1)
		collector.IncrementMessageCount("q")
		collector.RecordProcessingTime("q", 100*time.Millisecond)
		collector.IncrementErrorCount("q", "error")

		collector.Reset()
		summary := collector.GetMetricsSummary()
		assert.Empty(t, summary.Publishes)
		assert.Empty(t, summary.MessageCounts)
		assert.Empty(t, summary.ProcessingStats)
		assert.Empty(t, summary.ErrorCounts)
	})

	t.Run("Thread safety with concurrent access", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		var wg sync.WaitGroup
		for _, fn := range []func(i int){
			func(int) { collector.IncrementMessageCount("q") },
			func(i int) { collector.RecordProcessingTime("q", time.Duration(i)*time.Millisecond) },
			func(int) { collector.IncrementErrorCount("q", "error") },
			func(i int) { collector.RecordPublish("x", i%2) },
		} {
			wg.Add(1)
			go func(fn func(int)) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					fn(i)
				}
			}(fn)
		}
		wg.Wait()

		summary := collector.GetMetricsSummary()
		assert.Equal(t, int64(100), summary.MessageCounts["q"])
		assert.Equal(t, int64(100), summary.ProcessingStats["q"].Count)
		assert.Equal(t, int64(100), summary.ErrorCounts["q"]["error"])
		assert.Equal(t, PublishStats{Published: 100, Routed: 50, Unroutable: 50}, summary.Publishes["x"])
	})
}

func TestAdvancedMetrics(t *testing.T) {
	t.Run("GetLatencyPercentiles", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()
		assert.Equal(t, LatencyStats{}, collector.GetLatencyPercentiles())

		for _, ms := range []int{50, 100, 150, 200, 250} {
			collector.RecordProcessingTime("q", time.Duration(ms)*time.Millisecond)
		}

		stats := collector.GetLatencyPercentiles()
		assert.Equal(t, 150*time.Millisecond, stats.P50)
		assert.GreaterOrEqual(t, stats.P95, stats.P50)
		assert.GreaterOrEqual(t, stats.P99, stats.P95)
		assert.Equal(t, 50*time.Millisecond, stats.Min)
		assert.Equal(t, 250*time.Millisecond, stats.Max)
		assert.Equal(t, 150*time.Millisecond, stats.Mean)
	})

	t.Run("GetErrorAnalysis orders error types", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()
		for i := 0; i < 10; i++ {
			collector.IncrementMessageCount("q")
		}
		collector.IncrementErrorCount("q", "timeout")
		collector.IncrementErrorCount("q", "panic")
		collector.IncrementErrorCount("other", "panic")

		analysis := collector.GetErrorAnalysis()
		assert.Equal(t, int64(3), analysis.TotalErrors)
		assert.InDelta(t, 0.3, analysis.ErrorRate, 1e-9)
		require.Len(t, analysis.TopErrorTypes, 2)
		assert.Equal(t, "panic", analysis.TopErrorTypes[0].ErrorType)
		assert.Equal(t, int64(2), analysis.TopErrorTypes[0].Count)
		assert.Equal(t, map[string]int64{"q": 2, "other": 1}, analysis.ErrorsByQueue)
	})
}

func TestCollectorWiredIntoBroker(t *testing.T) {
	defer leaktest.Check(t)()

	collector := NewSimpleMetricsCollector()
	b := mmate.New(mmate.WithLogger(quietLogger), mmate.WithPublishRecorder(collector))
	defer b.Close()
	ctx := context.Background()

	_, err := b.DeclareQueue(ctx, "work", queue.Options{})
	require.NoError(t, err)

	chain := interceptors.NewDefaultInterceptorChainBuilder(quietLogger).
		WithAck().
		WithMetrics(collector).
		Build()

	handler := interceptors.MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
		if string(d.Message.Body()) == "bad" {
			return fmt.Errorf("%w: bad payload", interceptors.ErrRejected)
		}
		return nil
	})
	_, err = b.Consume(ctx, "work", "", chain.Handler(ctx, handler))
	require.NoError(t, err)

	for _, body := range []string{"good", "bad"} {
		require.NoError(t, b.Publish(ctx, "", "work", []byte(body), contracts.Properties{}))
	}
	require.NoError(t, b.Publish(ctx, "", "nowhere", []byte("lost"), contracts.Properties{}))

	require.Eventually(t, func() bool {
		stats, err := b.QueueStats("work")
		return err == nil && stats.Messages == 0 && stats.Unacked == 0 &&
			collector.GetMetricsSummary().ProcessingStats["work"].Count == 2
	}, 2*time.Second, 5*time.Millisecond)

	summary := collector.GetMetricsSummary()
	assert.Equal(t, PublishStats{Published: 3, Routed: 2, Unroutable: 1}, summary.Publishes[routing.DefaultExchange])
	assert.Equal(t, int64(2), summary.MessageCounts["work"])
	assert.Equal(t, map[string]int64{"rejected": 1}, summary.ErrorCounts["work"])
}
