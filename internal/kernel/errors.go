package kernel

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned when executing on a disposed or
	// disconnected session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrDuplicateCorrelation is returned when a correlation id is already
	// pending. Correlation ids are generated per execution, so hitting this
	// is an invariant violation.
	ErrDuplicateCorrelation = errors.New("duplicate correlation id")

	// ErrAborted is the outcome error for executions interrupted by a
	// disconnect or dispose before the kernel settled them.
	ErrAborted = errors.New("execution aborted")
)

// ExecutionError is a kernel-reported exception. It reaches the caller twice:
// as an ErrorOutput event on the sink and as the error of a Failed outcome.
type ExecutionError struct {
	Name      string
	Message   string
	Traceback string
}

func (e *ExecutionError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// abortError wraps a cause so that callers can match ErrAborted while the
// detail stays visible.
func abortError(cause error) error {
	if cause == nil {
		return ErrAborted
	}
	if errors.Is(cause, ErrAborted) {
		return cause
	}
	return fmt.Errorf("%w: %v", ErrAborted, cause)
}
