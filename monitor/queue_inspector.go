package monitor

import (
	"fmt"

	"github.com/containerd/errdefs"
	mmate "github.com/glimte/mmate-broker"
	"github.com/glimte/mmate-broker/queue"
)

// Status is the health of a queue
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// BrokerView is the read side of a broker the inspector needs
type BrokerView interface {
	QueueStats(name string) (queue.Stats, error)
	Queues() []queue.Stats
	Exchanges() []mmate.ExchangeInfo
}

// QueueInfo is the inspected state of one queue
type QueueInfo struct {
	Name       string `json:"name"`
	Messages   int    `json:"messages"`
	Unacked    int    `json:"unacked"`
	Consumers  int    `json:"consumers"`
	Durable    bool   `json:"durable"`
	Exclusive  bool   `json:"exclusive"`
	AutoDelete bool   `json:"auto_delete"`
}

// QueueHealth represents basic queue health information
type QueueHealth struct {
	QueueName string `json:"queue_name"`
	Status    Status `json:"status"`
	Message   string `json:"message"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

// QueueInspector reports queue and exchange state from a broker
type QueueInspector struct {
	broker BrokerView

	degradedAt int
	criticalAt int
}

// NewQueueInspector creates an inspector over broker
func NewQueueInspector(broker BrokerView) *QueueInspector {
	return &QueueInspector{
		broker:     broker,
		degradedAt: 1000,
		criticalAt: 10000,
	}
}

// WithThresholds sets the pending counts at which a queue is reported as
// elevated and high
func (qi *QueueInspector) WithThresholds(elevated, high int) *QueueInspector {
	qi.degradedAt = elevated
	qi.criticalAt = high
	return qi
}

// InspectQueue returns the state of a single queue
func (qi *QueueInspector) InspectQueue(queueName string) (*QueueInfo, error) {
	stats, err := qi.broker.QueueStats(queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue %s: %w", queueName, err)
	}

	info := toQueueInfo(stats)
	return &info, nil
}

// ListQueues returns the state of every queue sorted by name
func (qi *QueueInspector) ListQueues() []QueueInfo {
	all := qi.broker.Queues()
	out := make([]QueueInfo, 0, len(all))
	for _, stats := range all {
		out = append(out, toQueueInfo(stats))
	}
	return out
}

// ListExchanges returns every declared exchange with its bindings
func (qi *QueueInspector) ListExchanges() []mmate.ExchangeInfo {
	return qi.broker.Exchanges()
}

// CheckQueueExists reports whether a queue is declared
func (qi *QueueInspector) CheckQueueExists(queueName string) (bool, error) {
	_, err := qi.broker.QueueStats(queueName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check queue existence: %w", err)
	}
	return true, nil
}

// GetServiceQueueHealth assesses a queue from its pending and consumer counts
func (qi *QueueInspector) GetServiceQueueHealth(queueName string) (*QueueHealth, error) {
	info, err := qi.InspectQueue(queueName)
	if err != nil {
		return &QueueHealth{
			QueueName: queueName,
			Status:    StatusUnhealthy,
			Message:   fmt.Sprintf("Failed to inspect queue: %v", err),
		}, err
	}

	health := &QueueHealth{
		QueueName: queueName,
		Messages:  info.Messages,
		Consumers: info.Consumers,
	}

	switch {
	case info.Messages > qi.criticalAt:
		health.Status = StatusDegraded
		health.Message = fmt.Sprintf("High message count: %d messages", info.Messages)
	case info.Messages > qi.degradedAt:
		health.Status = StatusDegraded
		health.Message = fmt.Sprintf("Elevated message count: %d messages", info.Messages)
	case info.Consumers == 0 && info.Messages > 0:
		health.Status = StatusUnhealthy
		health.Message = fmt.Sprintf("No consumers for %d messages", info.Messages)
	default:
		health.Status = StatusHealthy
		health.Message = "Queue is healthy"
	}

	return health, nil
}

func toQueueInfo(stats queue.Stats) QueueInfo {
	return QueueInfo{
		Name:       stats.Name,
		Messages:   stats.Messages,
		Unacked:    stats.Unacked,
		Consumers:  len(stats.Consumers),
		Durable:    stats.Durable,
		Exclusive:  stats.Exclusive,
		AutoDelete: stats.AutoDelete,
	}
}

var _ BrokerView = (*mmate.Broker)(nil)
