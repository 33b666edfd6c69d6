package queue

import (
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrQueueNotFound is returned for operations on an undeclared queue
	ErrQueueNotFound = fmt.Errorf("queue: queue %w", errdefs.ErrNotFound)

	// ErrQueueDeleted is returned when attaching to a queue that was deleted
	ErrQueueDeleted = fmt.Errorf("queue: queue deleted: %w", errdefs.ErrNotFound)

	// ErrConsumerNotFound is returned when a consumer tag is not attached
	ErrConsumerNotFound = fmt.Errorf("queue: consumer %w", errdefs.ErrNotFound)

	// ErrDeliveryNotFound is returned when acknowledging a delivery the consumer does not hold
	ErrDeliveryNotFound = fmt.Errorf("queue: delivery %w", errdefs.ErrNotFound)

	// ErrConsumerExists is returned when attaching a consumer tag twice
	ErrConsumerExists = fmt.Errorf("queue: consumer %w", errdefs.ErrAlreadyExists)

	// ErrExclusiveConsumer is returned when an exclusive consumer and another consumer would share a queue
	ErrExclusiveConsumer = fmt.Errorf("queue: exclusive consumer conflict: %w", errdefs.ErrFailedPrecondition)

	// ErrCreditViolation is raised (as a panic) when a consumer would hold more
	// unacknowledged deliveries than its prefetch allows. It is an invariant
	// breach, never a recoverable condition.
	ErrCreditViolation = fmt.Errorf("queue: credit violation: %w", errdefs.ErrInternal)
)

// ConsumerError carries the queue and consumer an operation failed for
type ConsumerError struct {
	Queue       string
	ConsumerTag string
	Op          string
	Err         error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("queue: %s failed for consumer %s on queue %s: %v", e.Op, e.ConsumerTag, e.Queue, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}
