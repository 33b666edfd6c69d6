package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/interceptors"
	"github.com/glimte/mmate-broker/queue"
)

// Handler answers one request. The returned body is sent back to the
// caller; a returned error is sent back as a remote error instead.
type Handler func(ctx context.Context, req *contracts.Message) ([]byte, error)

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPrefetch sets how many requests the server works on at once
func WithPrefetch(count int) ServerOption {
	return func(s *Server) {
		s.prefetch = count
	}
}

// WithInterceptors wraps request handling in a chain. The chain runs inside
// the server's own acknowledgment.
func WithInterceptors(chain *interceptors.InterceptorChain) ServerOption {
	return func(s *Server) {
		s.chain = chain
	}
}

// WithReplyContentType sets the content type of replies
func WithReplyContentType(contentType string) ServerOption {
	return func(s *Server) {
		s.replyContentType = contentType
	}
}

// Server consumes a request queue and replies to each request's ReplyTo
// queue with its correlation id
type Server struct {
	broker           Broker
	queueName        string
	handler          Handler
	logger           *slog.Logger
	prefetch         int
	chain            *interceptors.InterceptorChain
	replyContentType string

	mu          sync.Mutex
	consumerTag string
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewServer creates a server for queueName
func NewServer(broker Broker, queueName string, handler Handler, opts ...ServerOption) *Server {
	s := &Server{
		broker:    broker,
		queueName: queueName,
		handler:   handler,
		logger:    slog.Default(),
		prefetch:  1,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.chain == nil {
		s.chain = interceptors.NewInterceptorChain(s.logger)
	}

	return s
}

// Start declares the request queue and begins consuming it
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumerTag != "" {
		return fmt.Errorf("rpc server for %s already started", s.queueName)
	}

	if _, err := s.broker.DeclareQueue(ctx, s.queueName, queue.Options{}); err != nil {
		return fmt.Errorf("failed to declare request queue %s: %w", s.queueName, err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	handler := s.chain.Handler(s.ctx, interceptors.MessageHandlerFunc(s.serve))

	tag, err := s.broker.Consume(ctx, s.queueName, "", s.settle(handler), queue.WithPrefetchCount(s.prefetch))
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to consume request queue %s: %w", s.queueName, err)
	}

	s.consumerTag = tag
	s.logger.Info("rpc server started", "queue", s.queueName, "consumerTag", tag, "prefetch", s.prefetch)
	return nil
}

// Stop cancels the consumer. Requests in flight are requeued.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumerTag == "" {
		return nil
	}

	s.cancel()
	err := s.broker.Cancel(s.consumerTag)
	s.consumerTag = ""
	if err != nil {
		return fmt.Errorf("failed to cancel rpc server consumer: %w", err)
	}
	return nil
}

// settle acks every request once handling is over, whatever the outcome:
// failures travel back to the caller inside the reply.
func (s *Server) settle(next queue.DeliveryHandler) queue.DeliveryHandler {
	return func(d queue.Delivery) {
		next(d)
		if err := d.Ack(); err != nil {
			s.logger.Debug("failed to ack request", "queue", d.Queue, "messageId", d.Message.ID(), "error", err)
		}
	}
}

func (s *Server) serve(ctx context.Context, d queue.Delivery) error {
	req := d.Message
	replyTo := req.ReplyTo()
	if replyTo == "" {
		s.logger.Warn("dropping request without reply-to",
			"queue", d.Queue,
			"messageId", req.ID(),
			"correlationId", req.CorrelationID(),
		)
		return nil
	}

	props := contracts.Properties{
		CorrelationID: req.CorrelationID(),
		ContentType:   s.replyContentType,
	}

	body, err := s.handler(ctx, req)
	if err != nil {
		s.logger.Warn("rpc handler failed",
			"queue", d.Queue,
			"correlationId", req.CorrelationID(),
			"error", err,
		)
		body = nil
		props.Headers = map[string]interface{}{HeaderError: err.Error()}
	}

	if perr := s.broker.Publish(ctx, "", replyTo, body, props); perr != nil {
		s.logger.Error("failed to publish rpc reply",
			"replyTo", replyTo,
			"correlationId", req.CorrelationID(),
			"error", perr,
		)
		return perr
	}

	return err
}
