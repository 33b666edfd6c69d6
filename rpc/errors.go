package rpc

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
)

// HeaderError carries a server-side handler error back to the caller
const HeaderError = "x-rpc-error"

var (
	// ErrDuplicateCorrelationID is returned when registering an id that is already pending
	ErrDuplicateCorrelationID = fmt.Errorf("rpc: duplicate correlation id: %w", errdefs.ErrAlreadyExists)

	// ErrTimeout is returned when no reply arrived before the call's deadline
	ErrTimeout = fmt.Errorf("rpc: call timed out: %w", context.DeadlineExceeded)

	// ErrCancelled is returned when the call was cancelled before a reply arrived
	ErrCancelled = fmt.Errorf("rpc: call cancelled: %w", errdefs.ErrAborted)

	// ErrClientClosed is returned for calls on, or pending in, a closed client
	ErrClientClosed = fmt.Errorf("rpc: client closed: %w", errdefs.ErrUnavailable)
)

// CallError names the correlation id a call failed for
type CallError struct {
	CorrelationID string
	Err           error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc call %s: %v", e.CorrelationID, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// RemoteError is returned when the server's handler failed. The reply
// message is kept for inspection.
type RemoteError struct {
	CorrelationID string
	Message       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc call %s: remote error: %s", e.CorrelationID, e.Message)
}
