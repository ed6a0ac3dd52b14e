package harness

import (
	"fmt"
	"time"
)

// TimeoutError reports a body that did not complete within its timeout.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s", e.Timeout)
}

// PanicError reports a body that panicked. It is the equivalent of an
// uncaught exception: the rest of the body does not run.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// RejectionError wraps an error returned by an async body.
type RejectionError struct {
	Err error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected: %v", e.Err)
}

func (e *RejectionError) Unwrap() error { return e.Err }
