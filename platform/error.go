package platform

import (
	"errors"
	"fmt"
)

// Error is a failed platform call. Status 0 means the request never got a
// response (transport error, timeout).
type Error struct {
	Platform string
	Op       string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s: %s", e.Platform, e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s: HTTP %d: %s", e.Platform, e.Op, e.Status, e.Message)
}

// Retryable reports whether the call may succeed on retry. Rate limits,
// server errors and transport failures are transient; other 4xx are permanent.
func (e *Error) Retryable() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}

// IsRetryable reports whether err is a transient platform error.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// IsPermanent reports whether err is a platform error that will not succeed
// on retry (invalid campaign, lead rejected, auth failure).
func IsPermanent(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return !pe.Retryable()
	}
	return false
}
