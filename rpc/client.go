package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/internal/reliability"
	"github.com/glimte/mmate-broker/queue"
	"github.com/google/uuid"
)

// Broker is the part of the broker the rpc client and server need
type Broker interface {
	DeclareQueue(ctx context.Context, name string, options queue.Options) (string, error)
	Consume(ctx context.Context, queueName, consumerID string, handler queue.DeliveryHandler, options ...queue.ConsumerOption) (string, error)
	Cancel(consumerID string) error
	Publish(ctx context.Context, exchange, routingKey string, body []byte, props contracts.Properties) error
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientLogger sets the logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDefaultTimeout sets the timeout used when Call is given none
func WithDefaultTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.defaultTimeout = timeout
	}
}

// WithJanitorInterval sets how often expired calls are swept
func WithJanitorInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.janitorInterval = interval
	}
}

// CallOption tweaks the request message of a single call
type CallOption func(*contracts.Properties)

// WithContentType sets the request content type
func WithContentType(contentType string) CallOption {
	return func(p *contracts.Properties) {
		p.ContentType = contentType
	}
}

// WithHeader sets a request header
func WithHeader(key string, value interface{}) CallOption {
	return func(p *contracts.Properties) {
		if p.Headers == nil {
			p.Headers = make(map[string]interface{})
		}
		p.Headers[key] = value
	}
}

// WithType sets the request message type
func WithType(messageType string) CallOption {
	return func(p *contracts.Properties) {
		p.Type = messageType
	}
}

// Client sends requests to a named queue and waits for correlated replies on
// its own exclusive reply queue
type Client struct {
	broker          Broker
	tracker         *Tracker
	logger          *slog.Logger
	defaultTimeout  time.Duration
	janitorInterval time.Duration

	replyQueue  string
	consumerTag string

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient declares the reply queue and starts consuming it
func NewClient(ctx context.Context, broker Broker, opts ...ClientOption) (*Client, error) {
	c := &Client{
		broker:          broker,
		logger:          slog.Default(),
		defaultTimeout:  30 * time.Second,
		janitorInterval: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.tracker = NewTracker(WithTrackerLogger(c.logger))

	replyQueue, err := broker.DeclareQueue(ctx, "", queue.Options{Exclusive: true, AutoDelete: true})
	if err != nil {
		return nil, fmt.Errorf("failed to declare reply queue: %w", err)
	}

	tag, err := broker.Consume(ctx, replyQueue, "", c.handleReply, queue.WithAutoAck(true), queue.WithExclusive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to consume reply queue %s: %w", replyQueue, err)
	}

	c.replyQueue = replyQueue
	c.consumerTag = tag
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.tracker.Run(c.ctx, c.janitorInterval)
	}()

	c.logger.Debug("rpc client started", "replyQueue", replyQueue, "consumerTag", tag)
	return c, nil
}

// ReplyQueue returns the name of the client's reply queue
func (c *Client) ReplyQueue() string {
	return c.replyQueue
}

// Pending returns the number of calls awaiting a reply
func (c *Client) Pending() int {
	return c.tracker.Pending()
}

// Call publishes body to requestQueue via the default exchange and waits for
// the reply. A non-positive timeout uses the client's default. A reply that
// carries a remote handler error is returned together with a *RemoteError.
func (c *Client) Call(ctx context.Context, requestQueue string, body []byte, timeout time.Duration, opts ...CallOption) (*contracts.Message, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	correlationID := uuid.NewString()
	call, err := c.tracker.Register(correlationID, time.Now().Add(timeout))
	if err != nil {
		return nil, err
	}

	props := contracts.Properties{
		CorrelationID: correlationID,
		ReplyTo:       c.replyQueue,
	}
	for _, opt := range opts {
		opt(&props)
	}

	if err := c.broker.Publish(ctx, "", requestQueue, body, props); err != nil {
		c.tracker.Cancel(correlationID)
		return nil, fmt.Errorf("failed to publish request to %s: %w", requestQueue, err)
	}

	c.logger.Debug("rpc request sent",
		"queue", requestQueue,
		"correlationId", correlationID,
		"timeout", timeout,
	)

	reply, err := call.Wait(ctx)
	if err != nil {
		return nil, err
	}

	if v, ok := reply.Header(HeaderError); ok {
		return reply, &RemoteError{CorrelationID: correlationID, Message: fmt.Sprint(v)}
	}

	return reply, nil
}

// CallWithRetry repeats timed-out calls according to policy. Each attempt
// uses a fresh correlation id; other errors end the loop immediately.
func (c *Client) CallWithRetry(ctx context.Context, policy reliability.RetryPolicy, requestQueue string, body []byte, timeout time.Duration, opts ...CallOption) (*contracts.Message, error) {
	var reply *contracts.Message

	err := reliability.Retry(ctx, policy, func() error {
		var err error
		reply, err = c.Call(ctx, requestQueue, body, timeout, opts...)
		if err != nil && !errors.Is(err, ErrTimeout) {
			return reliability.Permanent(err)
		}
		return err
	})

	return reply, err
}

// Close cancels the reply consumer and fails outstanding calls with
// ErrClientClosed
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.cancel()
	c.wg.Wait()

	err := c.broker.Cancel(c.consumerTag)
	if n := c.tracker.Close(ErrClientClosed); n > 0 {
		c.logger.Debug("failed pending calls on close", "count", n)
	}

	if err != nil {
		return fmt.Errorf("failed to cancel reply consumer: %w", err)
	}
	return nil
}

func (c *Client) handleReply(d queue.Delivery) {
	id := d.Message.CorrelationID()
	if id == "" {
		c.logger.Warn("dropping reply without correlation id", "queue", d.Queue, "messageId", d.Message.ID())
		return
	}

	c.tracker.Resolve(id, d.Message)
}
