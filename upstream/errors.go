package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error variants returned by the client. Each carries enough context for the
// resilience layer to classify the failure without re-parsing responses.

// ClientError is a 4xx response other than 429. These indicate a caller
// mistake and are never retried.
type ClientError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("upstream rejected %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, truncate(e.Body, 200))
}

// ServerError is a 5xx response. Retryable and counted by the breaker.
type ServerError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("upstream failed %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, truncate(e.Body, 200))
}

// RateLimitedError is a 429 response. RetryAfter is zero when the upstream
// did not send a usable Retry-After header.
type RateLimitedError struct {
	Method     string
	Path       string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream rate limited %s %s, retry after %s", e.Method, e.Path, e.RetryAfter)
	}
	return fmt.Sprintf("upstream rate limited %s %s", e.Method, e.Path)
}

// TransportError wraps connection-level failures: DNS, refused connections,
// resets, TLS problems.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream unreachable %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError marks a request that exceeded its deadline.
type TimeoutError struct {
	Method string
	Path   string
	Err    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream timed out %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsRetryable reports whether the retry loop may reissue the request.
// Conflicts (409) are retryable only when the caller opts in; the
// consolidated configure endpoint returns 409 while a previous deployment is
// still settling.
func IsRetryable(err error, retryConflict bool) bool {
	var rl *RateLimitedError
	var srv *ServerError
	var tr *TransportError
	var to *TimeoutError
	var cl *ClientError
	switch {
	case errors.As(err, &rl), errors.As(err, &srv), errors.As(err, &tr), errors.As(err, &to):
		return true
	case errors.As(err, &cl):
		return retryConflict && cl.StatusCode == 409
	}
	return false
}

// CountsTowardBreaker reports whether a failure should advance the circuit
// breaker. Caller mistakes and canceled contexts say nothing about upstream
// health. Timeouts are excluded too: a slow upstream still answering is not
// the hard-down condition the breaker guards against.
func CountsTowardBreaker(err error) bool {
	var cl *ClientError
	if errors.As(err, &cl) {
		return false
	}
	var to *TimeoutError
	if errors.As(err, &to) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCanceled) {
		return false
	}
	return true
}

// ErrCanceled marks a request abandoned because the caller went away.
var ErrCanceled = errors.New("request canceled by caller")

// RetryAfterHint extracts the upstream's requested wait, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
