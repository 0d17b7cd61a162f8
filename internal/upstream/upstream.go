// Package upstream holds the error type and retry policy shared by the
// Gemini and Freshchat clients.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error is a failed call to one of the upstream services.
type Error struct {
	Service string // "gemini" or "freshchat"
	Status  int    // HTTP status, 0 for transport failures
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Service, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient. Authentication and
// quota errors are never retried (non-idempotent cost concern).
func (e *Error) Retryable() bool {
	switch {
	case e.Status == 0:
		return true // transport: timeout, connection reset, DNS
	case e.Status >= 500:
		return true
	default:
		return false // 401/403/429 and other 4xx surface immediately
	}
}

// Do runs attempt and retries it exactly once when the failure is
// transient. Context cancellation is never retried.
func Do(ctx context.Context, attempt func(ctx context.Context) error) error {
	err := attempt(ctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if !IsRetryable(err) {
		return err
	}
	return attempt(ctx)
}

// IsRetryable classifies an error under the retry policy above.
func IsRetryable(err error) bool {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
