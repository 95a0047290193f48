package resilience

import (
	"errors"
	"fmt"
)

// TransientError marks a downstream failure worth retrying: timeouts,
// connection failures, 5xx answers. Client adapters wrap raw transport
// errors in this type before handing them to the strategy.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient failure: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ClientError marks a 4xx-class rejection by the downstream service. The
// request itself is wrong, so retrying cannot help.
type ClientError struct {
	Err error
}

func (e *ClientError) Error() string { return fmt.Sprintf("client failure: %v", e.Err) }
func (e *ClientError) Unwrap() error { return e.Err }

// DownstreamUnreachableError is returned when the circuit is open or the
// retry budget is exhausted on transient failures.
type DownstreamUnreachableError struct {
	Name string
	Err  error
}

func (e *DownstreamUnreachableError) Error() string {
	return fmt.Sprintf("downstream service [%s] is unreachable: %v", e.Name, e.Err)
}

func (e *DownstreamUnreachableError) Unwrap() error { return e.Err }

// DownstreamRejectedError is returned when the downstream service rejected
// the request itself. It is never retried.
type DownstreamRejectedError struct {
	Name string
	Err  error
}

func (e *DownstreamRejectedError) Error() string {
	return fmt.Sprintf("downstream service [%s] rejected the request: %v", e.Name, e.Err)
}

func (e *DownstreamRejectedError) Unwrap() error { return e.Err }

// IsTransient reports whether err was classified as retryable.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
