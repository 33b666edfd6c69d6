package mmate

import (
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrQueuePreconditionFailed is returned when a queue is re-declared with different flags
	ErrQueuePreconditionFailed = fmt.Errorf("mmate: queue precondition failed: %w", errdefs.ErrFailedPrecondition)

	// ErrBrokerClosed is returned for operations on a closed broker
	ErrBrokerClosed = fmt.Errorf("mmate: broker closed: %w", errdefs.ErrUnavailable)
)

// QueueError names the queue a broker operation failed for
type QueueError struct {
	Queue string
	Op    string
	Err   error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("mmate: %s queue %q: %v", e.Op, e.Queue, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}
