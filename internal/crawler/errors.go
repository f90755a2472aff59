package crawler

import (
	"errors"
	"fmt"
)

// ErrRetryBudgetExhausted is wrapped by the error of a run that stopped after
// too many consecutive fetch failures.
var ErrRetryBudgetExhausted = errors.New("fetch retry budget exhausted")

// ErrEngineUsed is returned when Run is called more than once.
var ErrEngineUsed = errors.New("engine already ran")

// FetchError classifies a fetch failure.
type FetchError struct {
	// StatusCode is the HTTP status when one was received.
	StatusCode int
	// Transient marks failures worth retrying.
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s fetch error (status %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch error: %v", kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// TransientError wraps err as a retryable fetch failure.
func TransientError(status int, err error) error {
	return &FetchError{StatusCode: status, Transient: true, Err: err}
}

// PermanentError wraps err as a fetch failure that must not be retried.
func PermanentError(status int, err error) error {
	return &FetchError{StatusCode: status, Err: err}
}

// IsPermanent reports whether err carries a non-transient FetchError.
func IsPermanent(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return !fe.Transient
	}
	return false
}
