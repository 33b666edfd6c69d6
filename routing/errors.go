package routing

import (
	"fmt"

	"github.com/containerd/errdefs"
)

var (
	// ErrExchangeNotFound is returned when publishing to or binding against an undeclared exchange
	ErrExchangeNotFound = fmt.Errorf("routing: exchange %w", errdefs.ErrNotFound)

	// ErrTypeMismatch is returned when an exchange is re-declared with a different type
	ErrTypeMismatch = fmt.Errorf("routing: exchange type mismatch: %w", errdefs.ErrFailedPrecondition)

	// ErrExchangeInUse is returned when deleting an exchange that still has bindings with ifUnused set
	ErrExchangeInUse = fmt.Errorf("routing: exchange in use: %w", errdefs.ErrFailedPrecondition)

	// ErrDefaultExchange is returned for operations the default exchange does not allow
	ErrDefaultExchange = fmt.Errorf("routing: operation not permitted on the default exchange: %w", errdefs.ErrInvalidArgument)

	// ErrUnknownExchangeType is returned when parsing an unsupported exchange type
	ErrUnknownExchangeType = fmt.Errorf("routing: unknown exchange type: %w", errdefs.ErrInvalidArgument)
)

// ExchangeError carries the exchange an operation failed on
type ExchangeError struct {
	Exchange string
	Op       string
	Err      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("routing: %s exchange '%s': %v", e.Op, e.Exchange, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}
