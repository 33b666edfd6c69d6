package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/glimte/mmate-broker/queue"
	"github.com/glimte/mmate-broker/routing"
)

// MessageFilter defines the interface for delivery filtering
type MessageFilter interface {
	// ShouldProcess returns true if the delivery should be processed
	ShouldProcess(ctx context.Context, d queue.Delivery) (bool, error)
}

// MessageFilterFunc is a function adapter for MessageFilter
type MessageFilterFunc func(ctx context.Context, d queue.Delivery) (bool, error)

// ShouldProcess implements MessageFilter
func (f MessageFilterFunc) ShouldProcess(ctx context.Context, d queue.Delivery) (bool, error) {
	return f(ctx, d)
}

// SkipBehavior defines what happens when a delivery is filtered out
type SkipBehavior int

const (
	// SkipSilently skips the delivery without error
	SkipSilently SkipBehavior = iota
	// SkipWithError rejects the delivery
	SkipWithError
	// SkipWithLog logs that the delivery was skipped
	SkipWithLog
)

// FilteringInterceptor stops deliveries that do not pass a filter
type FilteringInterceptor struct {
	filter       MessageFilter
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter MessageFilter, skipBehavior SkipBehavior) *FilteringInterceptor {
	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger used by SkipWithLog
func (i *FilteringInterceptor) WithLogger(logger *slog.Logger) *FilteringInterceptor {
	i.logger = logger
	return i
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, d queue.Delivery, next MessageHandler) error {
	shouldProcess, err := i.filter.ShouldProcess(ctx, d)
	if err != nil {
		return fmt.Errorf("filter error: %w", err)
	}

	if !shouldProcess {
		switch i.skipBehavior {
		case SkipWithError:
			return fmt.Errorf("%w: filtered message %s on queue %s", ErrRejected, d.Message.ID(), d.Queue)
		case SkipWithLog:
			i.logger.Info("message skipped by filter",
				"queue", d.Queue,
				"messageId", d.Message.ID(),
				"routingKey", d.Message.RoutingKey(),
			)
		}
		return nil
	}

	return next.Handle(ctx, d)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// CompositeFilter combines multiple filters with AND logic
type CompositeFilter struct {
	filters []MessageFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...MessageFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldProcess implements MessageFilter - all filters must return true
func (f *CompositeFilter) ShouldProcess(ctx context.Context, d queue.Delivery) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, d)
		if err != nil {
			return false, err
		}
		if !shouldProcess {
			return false, nil
		}
	}
	return true, nil
}

// OrFilter combines multiple filters with OR logic
type OrFilter struct {
	filters []MessageFilter
}

// NewOrFilter creates a new OR filter
func NewOrFilter(filters ...MessageFilter) *OrFilter {
	return &OrFilter{filters: filters}
}

// ShouldProcess implements MessageFilter - at least one filter must return true
func (f *OrFilter) ShouldProcess(ctx context.Context, d queue.Delivery) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, d)
		if err != nil {
			return false, err
		}
		if shouldProcess {
			return true, nil
		}
	}
	return false, nil
}

// MessageTypeFilter passes deliveries whose Type property is allowed
type MessageTypeFilter struct {
	allowedTypes map[string]bool
}

// NewMessageTypeFilter creates a filter that only allows specific message types
func NewMessageTypeFilter(allowedTypes ...string) *MessageTypeFilter {
	typeMap := make(map[string]bool)
	for _, t := range allowedTypes {
		typeMap[t] = true
	}
	return &MessageTypeFilter{allowedTypes: typeMap}
}

// ShouldProcess implements MessageFilter
func (f *MessageTypeFilter) ShouldProcess(ctx context.Context, d queue.Delivery) (bool, error) {
	return f.allowedTypes[d.Message.Properties().Type], nil
}

// RoutingKeyFilter passes deliveries whose routing key matches a topic pattern
type RoutingKeyFilter struct {
	pattern string
}

// NewRoutingKeyFilter creates a filter using topic exchange wildcards
func NewRoutingKeyFilter(pattern string) *RoutingKeyFilter {
	return &RoutingKeyFilter{pattern: pattern}
}

// ShouldProcess implements MessageFilter
func (f *RoutingKeyFilter) ShouldProcess(ctx context.Context, d queue.Delivery) (bool, error) {
	return routing.MatchTopic(f.pattern, d.Message.RoutingKey()), nil
}

// HeaderFilter passes deliveries carrying a header with the expected value
type HeaderFilter struct {
	key   string
	value interface{}
}

// NewHeaderFilter creates a header equality filter
func NewHeaderFilter(key string, value interface{}) *HeaderFilter {
	return &HeaderFilter{key: key, value: value}
}

// ShouldProcess implements MessageFilter
func (f *HeaderFilter) ShouldProcess(ctx context.Context, d queue.Delivery) (bool, error) {
	v, ok := d.Message.Header(f.key)
	return ok && reflect.DeepEqual(v, f.value), nil
}

// ConditionalInterceptor executes an interceptor only if a condition is met
type ConditionalInterceptor struct {
	condition   MessageFilter
	interceptor Interceptor
}

// NewConditionalInterceptor creates a new conditional interceptor
func NewConditionalInterceptor(condition MessageFilter, interceptor Interceptor) *ConditionalInterceptor {
	return &ConditionalInterceptor{
		condition:   condition,
		interceptor: interceptor,
	}
}

// Intercept implements Interceptor
func (i *ConditionalInterceptor) Intercept(ctx context.Context, d queue.Delivery, next MessageHandler) error {
	shouldExecute, err := i.condition.ShouldProcess(ctx, d)
	if err != nil {
		return err
	}

	if shouldExecute {
		return i.interceptor.Intercept(ctx, d, next)
	}

	return next.Handle(ctx, d)
}

// Name implements Interceptor
func (i *ConditionalInterceptor) Name() string {
	return fmt.Sprintf("ConditionalInterceptor[%s]", i.interceptor.Name())
}
