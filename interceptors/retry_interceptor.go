package interceptors

import (
	"context"
	"log/slog"

	"github.com/glimte/mmate-broker/internal/reliability"
	"github.com/glimte/mmate-broker/queue"
)

// RetryInterceptor re-runs the rest of the chain in place before the
// delivery is settled. Permanent errors are not retried.
type RetryInterceptor struct {
	retryPolicy reliability.RetryPolicy
	logger      *slog.Logger
}

// NewRetryInterceptor creates a new retry interceptor
func NewRetryInterceptor(retryPolicy reliability.RetryPolicy) *RetryInterceptor {
	return &RetryInterceptor{
		retryPolicy: retryPolicy,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the retry interceptor
func (r *RetryInterceptor) WithLogger(logger *slog.Logger) *RetryInterceptor {
	r.logger = logger
	return r
}

// Intercept implements the Interceptor interface
func (r *RetryInterceptor) Intercept(ctx context.Context, d queue.Delivery, next MessageHandler) error {
	attempt := 0
	return reliability.Retry(ctx, r.retryPolicy, func() error {
		attempt++
		err := next.Handle(ctx, d)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return reliability.Permanent(err)
		}

		r.logger.Debug("message processing attempt failed",
			"queue", d.Queue,
			"messageId", d.Message.ID(),
			"attempt", attempt,
			"error", err,
		)
		return err
	})
}

// Name returns the interceptor name
func (r *RetryInterceptor) Name() string {
	return "RetryInterceptor"
}
