package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimedOut marks a remote call that did not complete in time.
// The call may or may not have been applied remotely.
var ErrTimedOut = errors.New("remote call timed out")

// RateLimitedError is returned when the remote service rejects a call by flood control.
//
// HasHint is false when the service did not advertise a usable wait duration.
type RateLimitedError struct {
	RetryAfter time.Duration
	HasHint    bool
	Err        error
}

func (e *RateLimitedError) Error() string {
	msg := "flood control exceeded"
	if e.HasHint {
		msg = fmt.Sprintf("flood control exceeded, retry after %s", e.RetryAfter)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// RateLimited builds a *RateLimitedError carrying a wait hint.
func RateLimited(after time.Duration, cause error) error {
	if after < 0 {
		after = 0
	}
	return &RateLimitedError{RetryAfter: after, HasHint: true, Err: cause}
}

// RateLimitedNoHint builds a *RateLimitedError without a wait hint.
func RateLimitedNoHint(cause error) error {
	return &RateLimitedError{Err: cause}
}

// TimedOut wraps cause so that errors.Is(err, ErrTimedOut) holds.
func TimedOut(cause error) error {
	if cause == nil {
		return ErrTimedOut
	}
	return fmt.Errorf("%w: %w", ErrTimedOut, cause)
}
