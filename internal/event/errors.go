package event

import "errors"

// NonRetriableError marks a failure as permanent: the runner stops retrying
// the failing step, the handler aborts, and no further events are emitted.
// The cause carries diagnostic context such as the offending model output.
type NonRetriableError struct {
	Msg   string
	Cause error
}

// NonRetriable wraps err as a permanent failure. A nil cause is allowed when
// the message alone describes the condition.
func NonRetriable(msg string, cause error) *NonRetriableError {
	return &NonRetriableError{Msg: msg, Cause: cause}
}

// Error implements the error interface.
func (e *NonRetriableError) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

// Unwrap returns the underlying cause.
func (e *NonRetriableError) Unwrap() error {
	return e.Cause
}

// IsNonRetriable reports whether err is classified as permanent.
func IsNonRetriable(err error) bool {
	var nre *NonRetriableError
	return errors.As(err, &nre)
}
