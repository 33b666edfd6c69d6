package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-broker/queue"
)

// MessageHandler represents a delivery handler in the interceptor chain
type MessageHandler interface {
	Handle(ctx context.Context, d queue.Delivery) error
}

// MessageHandlerFunc is a function adapter for MessageHandler
type MessageHandlerFunc func(ctx context.Context, d queue.Delivery) error

// Handle implements MessageHandler
func (f MessageHandlerFunc) Handle(ctx context.Context, d queue.Delivery) error {
	return f(ctx, d)
}

// Interceptor processes deliveries before they reach the final handler
type Interceptor interface {
	// Intercept processes a delivery and calls the next handler in the chain
	Intercept(ctx context.Context, d queue.Delivery, next MessageHandler) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, d queue.Delivery, next MessageHandler) error
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, d queue.Delivery, next MessageHandler) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, d queue.Delivery, next MessageHandler) error {
	return i.fn(ctx, d, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain manages a chain of interceptors
type InterceptorChain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain creates a new interceptor chain
func NewInterceptorChain(logger *slog.Logger) *InterceptorChain {
	if logger == nil {
		logger = slog.Default()
	}

	return &InterceptorChain{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Len returns the number of interceptors
func (c *InterceptorChain) Len() int {
	return len(c.interceptors)
}

// Execute runs the delivery through every interceptor, outermost first,
// then the final handler
func (c *InterceptorChain) Execute(ctx context.Context, d queue.Delivery, finalHandler MessageHandler) error {
	if len(c.interceptors) == 0 {
		return finalHandler.Handle(ctx, d)
	}

	handler := finalHandler
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		currentHandler := handler
		handler = MessageHandlerFunc(func(ctx context.Context, d queue.Delivery) error {
			return interceptor.Intercept(ctx, d, currentHandler)
		})
	}

	return handler.Handle(ctx, d)
}

// Handler adapts the chain and a final handler into a queue.DeliveryHandler.
// Errors that escape the chain are logged.
func (c *InterceptorChain) Handler(ctx context.Context, finalHandler MessageHandler) queue.DeliveryHandler {
	return func(d queue.Delivery) {
		if err := c.Execute(ctx, d, finalHandler); err != nil {
			c.logger.Debug("delivery handler returned error",
				"queue", d.Queue,
				"consumerTag", d.ConsumerTag,
				"messageId", d.Message.ID(),
				"error", err,
			)
		}
	}
}

// LoggingInterceptor logs delivery processing
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, d queue.Delivery, next MessageHandler) error {
	start := time.Now()

	i.logger.Info("processing message",
		"queue", d.Queue,
		"messageId", d.Message.ID(),
		"correlationId", d.Message.CorrelationID(),
		"redelivered", d.Redelivered,
	)

	err := next.Handle(ctx, d)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("message processing failed",
			"queue", d.Queue,
			"messageId", d.Message.ID(),
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Info("message processed successfully",
			"queue", d.Queue,
			"messageId", d.Message.ID(),
			"duration", duration,
		)
	}

	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MetricsInterceptor collects per-queue processing metrics
type MetricsInterceptor struct {
	collector MetricsCollector
}

// MetricsCollector defines the interface for collecting metrics
type MetricsCollector interface {
	IncrementMessageCount(queueName string)
	RecordProcessingTime(queueName string, duration time.Duration)
	IncrementErrorCount(queueName string, errorType string)
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(ctx context.Context, d queue.Delivery, next MessageHandler) error {
	start := time.Now()

	i.collector.IncrementMessageCount(d.Queue)

	err := next.Handle(ctx, d)

	i.collector.RecordProcessingTime(d.Queue, time.Since(start))
	if err != nil {
		i.collector.IncrementErrorCount(d.Queue, errorType(err))
	}

	return err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

// ValidationInterceptor validates deliveries before processing
type ValidationInterceptor struct {
	validator MessageValidator
}

// MessageValidator defines the interface for delivery validation
type MessageValidator interface {
	Validate(ctx context.Context, d queue.Delivery) error
}

// MessageValidatorFunc is a function adapter for MessageValidator
type MessageValidatorFunc func(ctx context.Context, d queue.Delivery) error

// Validate implements MessageValidator
func (f MessageValidatorFunc) Validate(ctx context.Context, d queue.Delivery) error {
	return f(ctx, d)
}

// NewValidationInterceptor creates a new validation interceptor
func NewValidationInterceptor(validator MessageValidator) *ValidationInterceptor {
	return &ValidationInterceptor{validator: validator}
}

// Intercept implements Interceptor
func (i *ValidationInterceptor) Intercept(ctx context.Context, d queue.Delivery, next MessageHandler) error {
	if err := i.validator.Validate(ctx, d); err != nil {
		return fmt.Errorf("message validation failed: %w", err)
	}

	return next.Handle(ctx, d)
}

// Name implements Interceptor
func (i *ValidationInterceptor) Name() string {
	return "ValidationInterceptor"
}

// TimeoutInterceptor bounds the time the rest of the chain may take
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor
func (i *TimeoutInterceptor) Intercept(ctx context.Context, d queue.Delivery, next MessageHandler) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- next.Handle(timeoutCtx, d)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		return fmt.Errorf("message processing timeout after %v for message %s: %w", i.timeout, d.Message.ID(), timeoutCtx.Err())
	}
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}

// RecoveryInterceptor turns handler panics into errors
type RecoveryInterceptor struct {
	logger *slog.Logger
}

// NewRecoveryInterceptor creates a new recovery interceptor
func NewRecoveryInterceptor(logger *slog.Logger) *RecoveryInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &RecoveryInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *RecoveryInterceptor) Intercept(ctx context.Context, d queue.Delivery, next MessageHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("message handler panicked",
				"queue", d.Queue,
				"messageId", d.Message.ID(),
				"panic", r,
			)
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return next.Handle(ctx, d)
}

// Name implements Interceptor
func (i *RecoveryInterceptor) Name() string {
	return "RecoveryInterceptor"
}

// DefaultInterceptorChainBuilder builds a common interceptor chain
type DefaultInterceptorChainBuilder struct {
	chain  *InterceptorChain
	logger *slog.Logger
}

// NewDefaultInterceptorChainBuilder creates a new builder
func NewDefaultInterceptorChainBuilder(logger *slog.Logger) *DefaultInterceptorChainBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &DefaultInterceptorChainBuilder{
		chain:  NewInterceptorChain(logger),
		logger: logger,
	}
}

// WithAck adds the acknowledging interceptor
func (b *DefaultInterceptorChainBuilder) WithAck() *DefaultInterceptorChainBuilder {
	b.chain.Add(NewAckInterceptor(b.logger))
	return b
}

// WithRecovery adds panic recovery
func (b *DefaultInterceptorChainBuilder) WithRecovery() *DefaultInterceptorChainBuilder {
	b.chain.Add(NewRecoveryInterceptor(b.logger))
	return b
}

// WithLogging adds logging interceptor
func (b *DefaultInterceptorChainBuilder) WithLogging() *DefaultInterceptorChainBuilder {
	b.chain.Add(NewLoggingInterceptor(b.logger))
	return b
}

// WithMetrics adds metrics interceptor
func (b *DefaultInterceptorChainBuilder) WithMetrics(collector MetricsCollector) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewMetricsInterceptor(collector))
	return b
}

// WithValidation adds validation interceptor
func (b *DefaultInterceptorChainBuilder) WithValidation(validator MessageValidator) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewValidationInterceptor(validator))
	return b
}

// WithTimeout adds timeout interceptor
func (b *DefaultInterceptorChainBuilder) WithTimeout(timeout time.Duration) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewTimeoutInterceptor(timeout))
	return b
}

// WithCustom adds a custom interceptor
func (b *DefaultInterceptorChainBuilder) WithCustom(interceptor Interceptor) *DefaultInterceptorChainBuilder {
	b.chain.Add(interceptor)
	return b
}

// Build returns the built interceptor chain
func (b *DefaultInterceptorChainBuilder) Build() *InterceptorChain {
	return b.chain
}
