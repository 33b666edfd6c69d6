package amqpbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/queue"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrChannelClosed is returned by operations on a closed Channel
var ErrChannelClosed = fmt.Errorf("amqpbridge: channel closed: %w", errdefs.ErrUnavailable)

// Broker is the broker surface the bridge drives
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, props contracts.Properties) error
	Consume(ctx context.Context, queueName, consumerID string, handler queue.DeliveryHandler, options ...queue.ConsumerOption) (string, error)
	Cancel(consumerID string) error
	AckDelivery(consumerID string, deliveryTag uint64, multiple bool) error
	NackDelivery(consumerID string, deliveryTag uint64, multiple, requeue bool) error
}

// Channel exposes a broker through amqp091-go shaped calls, so code written
// against *amqp.Channel publishing and consuming can run in-process.
type Channel struct {
	broker Broker
	logger *slog.Logger

	mu            sync.Mutex
	prefetch      int
	subscriptions map[string]*subscription
	closed        bool
}

// Option configures a Channel
type Option func(*Channel)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// NewChannel creates a channel over broker
func NewChannel(broker Broker, options ...Option) *Channel {
	c := &Channel{
		broker:        broker,
		logger:        slog.Default(),
		subscriptions: make(map[string]*subscription),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Qos sets the prefetch count used by subsequent Consume calls
func (c *Channel) Qos(prefetchCount int) error {
	if prefetchCount < 0 {
		return fmt.Errorf("amqpbridge: negative prefetch %d: %w", prefetchCount, errdefs.ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefetch = prefetchCount
	return nil
}

// PublishWithContext publishes msg to exchange with routingKey
func (c *Channel) PublishWithContext(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if c.isClosed() {
		return ErrChannelClosed
	}

	body, props := FromPublishing(msg)
	return c.broker.Publish(ctx, exchange, routingKey, body, props)
}

// Consume starts a consumer and returns its delivery channel. The channel
// is closed after Cancel, Close or when ctx is done; manual-ack deliveries
// not yet received are requeued.
func (c *Channel) Consume(ctx context.Context, queueName, consumerTag string, autoAck, exclusive bool) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	prefetch := c.prefetch
	c.mu.Unlock()

	if consumerTag == "" {
		consumerTag = "ctag-" + uuid.NewString()
	}

	sub := &subscription{
		ack:  &acknowledger{broker: c.broker, consumerTag: consumerTag},
		out:  make(chan amqp.Delivery),
		done: make(chan struct{}),
	}

	tag, err := c.broker.Consume(ctx, queueName, consumerTag, sub.deliver,
		queue.WithAutoAck(autoAck),
		queue.WithExclusive(exclusive),
		queue.WithPrefetchCount(prefetch),
	)
	if err != nil {
		sub.close()
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = c.stop(tag, sub)
		return nil, ErrChannelClosed
	}
	c.subscriptions[tag] = sub
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Cancel(tag)
		case <-sub.done:
		}
	}()

	c.logger.Debug("bridge consumer started", "queue", queueName, "consumerTag", tag, "autoAck", autoAck)
	return sub.out, nil
}

// Cancel stops a consumer started by Consume
func (c *Channel) Cancel(consumerTag string) error {
	c.mu.Lock()
	sub, ok := c.subscriptions[consumerTag]
	delete(c.subscriptions, consumerTag)
	c.mu.Unlock()

	if !ok {
		return &queue.ConsumerError{ConsumerTag: consumerTag, Op: "cancel", Err: queue.ErrConsumerNotFound}
	}
	return c.stop(consumerTag, sub)
}

// Close cancels every consumer of the channel
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subscriptions
	c.subscriptions = make(map[string]*subscription)
	c.mu.Unlock()

	var errs []error
	for tag, sub := range subs {
		if err := c.stop(tag, sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Channel) stop(tag string, sub *subscription) error {
	sub.close()

	err := c.broker.Cancel(tag)
	if errdefs.IsNotFound(err) {
		// the queue went away first
		err = nil
	}
	return err
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// subscription hands broker deliveries to a receive channel. Senders hold
// the read lock; close takes the write lock after done is closed, so out is
// never closed while a send is in progress.
type subscription struct {
	ack  amqp.Acknowledger
	out  chan amqp.Delivery
	done chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func (s *subscription) deliver(d queue.Delivery) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	var ack amqp.Acknowledger = s.ack
	if d.AckMode == queue.AckAuto {
		ack = autoAcknowledger{}
	}

	select {
	case s.out <- ToDelivery(d, ack):
	case <-s.done:
	}
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.closed = true
		close(s.out)
		s.mu.Unlock()
	})
}

// acknowledger settles deliveries of one consumer by delivery tag
type acknowledger struct {
	broker      Broker
	consumerTag string
}

func (a *acknowledger) Ack(tag uint64, multiple bool) error {
	return a.broker.AckDelivery(a.consumerTag, tag, multiple)
}

func (a *acknowledger) Nack(tag uint64, multiple, requeue bool) error {
	return a.broker.NackDelivery(a.consumerTag, tag, multiple, requeue)
}

func (a *acknowledger) Reject(tag uint64, requeue bool) error {
	return a.broker.NackDelivery(a.consumerTag, tag, false, requeue)
}

// autoAcknowledger accepts settlement of auto-ack deliveries as a no-op
type autoAcknowledger struct{}

func (autoAcknowledger) Ack(uint64, bool) error { return nil }

func (autoAcknowledger) Nack(uint64, bool, bool) error { return nil }

func (autoAcknowledger) Reject(uint64, bool) error { return nil }
