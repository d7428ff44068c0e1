// Package resilience provides retry and circuit breaker patterns for the
// engine's unreliable external dependencies: the AI provider and the POS
// adapter. Transient failures are recovered here and never surface as
// migration-fatal errors.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (timeouts, quota
// exhaustion, 5xx responses from the AI provider).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP
// status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether an error (or anything in its chain) is
// retryable: an explicit TransientError, a network timeout, a connection
// failure, or a provider message matching known throttling patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped provider/HTTP client errors lose their type; match the
	// usual throttling and connectivity messages.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"rate limit",
		"quota exceeded",
		"overloaded",
		"too many requests",
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status from the AI
// provider or a webhook target is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 529:
		return true
	default:
		return false
	}
}
