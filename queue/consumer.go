package queue

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	events "github.com/docker/go-events"
	"github.com/glimte/mmate-broker/contracts"
)

// AckMode selects how deliveries are acknowledged
type AckMode int

const (
	// AckManual keeps every delivery in flight until Ack or Nack
	AckManual AckMode = iota
	// AckAuto treats a delivery as acknowledged the moment it is dispatched
	AckAuto
)

func (m AckMode) String() string {
	if m == AckAuto {
		return "auto"
	}
	return "manual"
}

// DeliveryHandler receives dispatched messages. Deliveries to one consumer
// arrive one at a time, in dispatch order.
type DeliveryHandler func(d Delivery)

// Delivery is a message dispatched to a consumer
type Delivery struct {
	Message     *contracts.Message
	Queue       string
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	AckMode     AckMode

	queue *Queue
}

// Ack acknowledges the delivery. It is a no-op for auto-ack consumers.
func (d Delivery) Ack() error {
	if d.AckMode == AckAuto || d.queue == nil {
		return nil
	}
	return d.queue.Ack(d.ConsumerTag, d.DeliveryTag, false)
}

// Nack rejects the delivery, putting it back at the head of the queue when
// requeue is set. It is a no-op for auto-ack consumers.
func (d Delivery) Nack(requeue bool) error {
	if d.AckMode == AckAuto || d.queue == nil {
		return nil
	}
	return d.queue.Nack(d.ConsumerTag, d.DeliveryTag, false, requeue)
}

// ConsumerOption configures a consumer
type ConsumerOption func(*Consumer)

// WithPrefetchCount sets the maximum number of unacknowledged deliveries (0 = unlimited)
func WithPrefetchCount(count int) ConsumerOption {
	return func(c *Consumer) {
		if count < 0 {
			count = 0
		}
		c.prefetch = count
	}
}

// WithAutoAck enables automatic acknowledgment
func WithAutoAck(autoAck bool) ConsumerOption {
	return func(c *Consumer) {
		if autoAck {
			c.ackMode = AckAuto
		} else {
			c.ackMode = AckManual
		}
	}
}

// WithAckMode sets the acknowledgment mode
func WithAckMode(mode AckMode) ConsumerOption {
	return func(c *Consumer) {
		c.ackMode = mode
	}
}

// WithExclusive makes the consumer the only one allowed on its queue
func WithExclusive(exclusive bool) ConsumerOption {
	return func(c *Consumer) {
		c.exclusive = exclusive
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// Consumer is attached to exactly one queue. Its in-flight set is guarded by
// the queue's lock.
type Consumer struct {
	tag       string
	prefetch  int
	ackMode   AckMode
	exclusive bool
	handler   DeliveryHandler
	logger    *slog.Logger

	inflight map[uint64]*entry

	sink     *events.Queue
	attached bool
	detached atomic.Bool
	done     chan struct{}
}

// NewConsumer creates a manual-ack consumer with unlimited prefetch unless
// options say otherwise
func NewConsumer(tag string, handler DeliveryHandler, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		tag:      tag,
		ackMode:  AckManual,
		handler:  handler,
		logger:   slog.Default(),
		inflight: make(map[uint64]*entry),
		done:     make(chan struct{}),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Tag returns the consumer tag
func (c *Consumer) Tag() string {
	return c.tag
}

// Prefetch returns the prefetch limit (0 = unlimited)
func (c *Consumer) Prefetch() int {
	return c.prefetch
}

// AckMode returns the acknowledgment mode
func (c *Consumer) AckMode() AckMode {
	return c.ackMode
}

// Exclusive reports whether the consumer is exclusive
func (c *Consumer) Exclusive() bool {
	return c.exclusive
}

// Done is closed once the consumer is detached and its pending callbacks
// have drained
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

func (c *Consumer) hasCredit() bool {
	if c.ackMode == AckAuto || c.prefetch == 0 {
		return true
	}
	return len(c.inflight) < c.prefetch
}

func (c *Consumer) start() {
	c.attached = true
	c.sink = events.NewQueue(&deliverySink{consumer: c})
}

// stop closes the delivery sink without waiting for it: the handler may be
// the caller.
func (c *Consumer) stop() {
	c.detached.Store(true)
	sink := c.sink
	go func() {
		if err := sink.Close(); err != nil {
			c.logger.Debug("delivery sink close failed", "consumerTag", c.tag, "error", err)
		}
		close(c.done)
	}()
}

func (c *Consumer) emit(d Delivery) {
	if err := c.sink.Write(d); err != nil {
		c.logger.Warn("failed to queue delivery",
			"consumerTag", c.tag,
			"queue", d.Queue,
			"deliveryTag", d.DeliveryTag,
			"error", err,
		)
	}
}

// deliverySink runs the consumer's handler on the events queue goroutine
type deliverySink struct {
	consumer *Consumer
}

func (s *deliverySink) Write(event events.Event) error {
	d, ok := event.(Delivery)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	// manual deliveries still queued at detach time were requeued
	if d.AckMode == AckManual && s.consumer.detached.Load() {
		return nil
	}

	s.invoke(d)
	return nil
}

func (s *deliverySink) invoke(d Delivery) {
	defer func() {
		if r := recover(); r != nil {
			s.consumer.logger.Error("delivery handler panicked",
				"consumerTag", d.ConsumerTag,
				"queue", d.Queue,
				"messageId", d.Message.ID(),
				"panic", r,
			)
			if d.AckMode != AckManual || d.queue == nil {
				return
			}
			requeued, err := d.queue.settlePanic(d.ConsumerTag, d.DeliveryTag)
			if err != nil {
				s.consumer.logger.Debug("nack after panic failed", "error", err)
				return
			}
			s.consumer.logger.Debug("settled panicked delivery", "messageId", d.Message.ID(), "requeued", requeued)
		}
	}()

	s.consumer.handler(d)
}

func (s *deliverySink) Close() error {
	return nil
}
