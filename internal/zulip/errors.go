package zulip

import (
	"fmt"
	"time"
)

// AuthError reports a 401/403 from the backend. Never retried.
type AuthError struct {
	StatusCode int
	Msg        string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (HTTP %d): %s", e.StatusCode, e.Msg)
}

// NotFoundError reports a 404. Never retried.
type NotFoundError struct {
	Resource string
	Msg      string
}

func (e *NotFoundError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.Msg)
	}
	return fmt.Sprintf("not found: %s", e.Msg)
}

// RateLimitError reports a 429. Retried internally honoring RetryAfter;
// surfaced only once attempts are exhausted.
type RateLimitError struct {
	RetryAfter time.Duration
	Msg        string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.Msg, e.RetryAfter)
}

// TransientError reports a 5xx or network-level failure. Retried with
// backoff.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient backend error (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient network error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// APIError is a well-formed error reply from the backend that maps to no
// more specific kind. Never retried.
type APIError struct {
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("zulip api error %s: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("zulip api error: %s", e.Msg)
}

// IsQueueExpired reports whether err is the backend telling us our event
// queue is gone and must be re-registered.
func IsQueueExpired(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == "BAD_EVENT_QUEUE_ID"
}
