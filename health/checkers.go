package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	mmate "github.com/glimte/mmate-broker"
	"github.com/glimte/mmate-broker/queue"
	"github.com/glimte/mmate-broker/routing"
)

// Prober can redeclare an exchange. Redeclaring a predeclared exchange is a
// no-op on a live broker and fails once it is closed.
type Prober interface {
	DeclareExchange(ctx context.Context, name string, kind routing.ExchangeType, options ...mmate.ExchangeOption) error
}

// BrokerChecker checks that the broker still accepts topology operations
type BrokerChecker struct {
	broker Prober
}

// NewBrokerChecker creates a broker health checker
func NewBrokerChecker(broker Prober) *BrokerChecker {
	return &BrokerChecker{broker: broker}
}

func (c *BrokerChecker) Name() string {
	return "broker"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	if err := c.broker.DeclareExchange(ctx, routing.AmqDirect, routing.ExchangeDirect); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Broker rejected exchange probe"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "Broker is accepting work"
	}

	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// QueueSource reports queue statistics
type QueueSource interface {
	QueueStats(name string) (queue.Stats, error)
}

// QueueChecker checks that a queue exists and is keeping up
type QueueChecker struct {
	queueName   string
	source      QueueSource
	maxMessages int
}

// NewQueueChecker creates a checker that degrades once more than
// maxMessages are pending
func NewQueueChecker(queueName string, source QueueSource, maxMessages int) *QueueChecker {
	return &QueueChecker{
		queueName:   queueName,
		source:      source,
		maxMessages: maxMessages,
	}
}

func (c *QueueChecker) Name() string {
	return fmt.Sprintf("queue_%s", c.queueName)
}

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	stats, err := c.source.QueueStats(c.queueName)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Queue %s not accessible", c.queueName)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Details["message_count"] = stats.Messages
	result.Details["unacked_count"] = stats.Unacked
	result.Details["consumer_count"] = len(stats.Consumers)

	switch {
	case stats.Messages > c.maxMessages:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Queue %s has high message count", c.queueName)
	case stats.Messages > 0 && len(stats.Consumers) == 0:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Queue %s has messages but no consumers", c.queueName)
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("Queue %s is accessible", c.queueName)
	}

	result.Duration = time.Since(start)
	return result
}

// GoroutineChecker watches the goroutine count. Every consumer runs its own
// delivery goroutine, so a runaway count usually means leaked consumers.
type GoroutineChecker struct {
	warning  int
	critical int
}

// NewGoroutineChecker creates a goroutine checker
func NewGoroutineChecker(warning, critical int) *GoroutineChecker {
	return &GoroutineChecker{warning: warning, critical: critical}
}

func (c *GoroutineChecker) Name() string {
	return "goroutines"
}

func (c *GoroutineChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	goroutines := runtime.NumGoroutine()
	result.Details["goroutines"] = goroutines
	result.Details["memory_used_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC

	switch {
	case goroutines > c.critical:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case goroutines > c.warning:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Goroutine count is normal"
	}

	result.Duration = time.Since(start)
	return result
}

// ComponentChecker allows checking custom components
type ComponentChecker struct {
	name    string
	checker func(ctx context.Context) (Status, string, error)
}

// NewComponentChecker creates a checker for custom components
func NewComponentChecker(name string, checker func(ctx context.Context) (Status, string, error)) *ComponentChecker {
	return &ComponentChecker{
		name:    name,
		checker: checker,
	}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	status, message, err := c.checker(ctx)
	result := CheckResult{
		Name:      c.Name(),
		Status:    status,
		Message:   message,
		Timestamp: start,
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)

	return result
}
