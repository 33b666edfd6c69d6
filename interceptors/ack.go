package interceptors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/containerd/errdefs"
	"github.com/glimte/mmate-broker/contracts"
	"github.com/glimte/mmate-broker/queue"
)

var (
	// ErrHandlerPanic is returned by RecoveryInterceptor when the handler panicked
	ErrHandlerPanic = errors.New("interceptors: handler panicked")

	// ErrRejected marks a processing error that must not be redelivered
	ErrRejected = errors.New("interceptors: message rejected")
)

// AckInterceptor settles manual-ack deliveries from the chain's result:
// success acks, malformed messages are dropped and any other failure is
// requeued for another attempt.
type AckInterceptor struct {
	logger *slog.Logger
}

// NewAckInterceptor creates a new acknowledging interceptor
func NewAckInterceptor(logger *slog.Logger) *AckInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &AckInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *AckInterceptor) Intercept(ctx context.Context, d queue.Delivery, next MessageHandler) error {
	err := next.Handle(ctx, d)

	if err == nil {
		if ackErr := d.Ack(); ackErr != nil {
			i.logger.Warn("failed to ack message", "queue", d.Queue, "messageId", d.Message.ID(), "error", ackErr)
		}
		return nil
	}

	requeue := !IsPermanent(err)
	if nackErr := d.Nack(requeue); nackErr != nil {
		i.logger.Warn("failed to nack message", "queue", d.Queue, "messageId", d.Message.ID(), "error", nackErr)
	}

	i.logger.Debug("message rejected",
		"queue", d.Queue,
		"messageId", d.Message.ID(),
		"requeue", requeue,
		"error", err,
	)
	return err
}

// Name implements Interceptor
func (i *AckInterceptor) Name() string {
	return "AckInterceptor"
}

// IsPermanent reports whether a processing error means the message can never
// succeed: undecodable bodies, invalid arguments and explicit rejections.
func IsPermanent(err error) bool {
	return errors.Is(err, contracts.ErrDecode) ||
		errors.Is(err, ErrRejected) ||
		errdefs.IsInvalidArgument(err)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, contracts.ErrDecode):
		return "decode_error"
	case errors.Is(err, ErrHandlerPanic):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrRejected):
		return "rejected"
	}
	return "processing_error"
}
