package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotDelivered marks send failures where the request provably never
// reached the platform (dial or DNS failure, rate-limit rejection). Only
// these are safe to resend without risking a duplicate message.
var ErrNotDelivered = errors.New("message not delivered")

// Retryable reports whether resending after err cannot duplicate a message.
func Retryable(err error) bool {
	if _, ok := RetryDelay(err); ok {
		return true
	}
	return errors.Is(err, ErrNotDelivered)
}

// RetryAfter attaches a platform supplied retry delay to a send error
// (for example Telegram's 429 "retry after N").
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// RetryDelay returns the retry hint carried by err, if any.
func RetryDelay(err error) (time.Duration, bool) {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return ra.RetryAfter(), true
	}
	return 0, false
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
