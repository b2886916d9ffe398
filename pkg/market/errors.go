package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorKind classifies a failed remote operation. The kind decides what the
// retry layer does with the error: transient and rate-limit failures are
// retried, circuit-open failures are substituted with defaults immediately,
// auth failures are fatal and malformed responses are logged and defaulted.
type ErrorKind int

const (
	// KindTransient covers timeouts, connection resets and other network
	// conditions that are expected to clear on their own.
	KindTransient ErrorKind = iota

	// KindRateLimit is an application-level throttle response (HTTP 429 or
	// an equivalent retCode). Retried with backoff, never surfaced.
	KindRateLimit

	// KindCircuitOpen means the endpoint's breaker denied the call before
	// it was attempted. Not retryable; the caller substitutes defaults.
	KindCircuitOpen

	// KindAuth covers bad signatures and invalid credentials. Fatal.
	KindAuth

	// KindMalformed means the response decoded but did not have the
	// expected shape. Not retryable; defaults are substituted.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimit:
		return "rate_limit"
	case KindCircuitOpen:
		return "circuit_open"
	case KindAuth:
		return "auth"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Common error variables returned by the connectivity layer.
var (
	// ErrCircuitOpen is returned when the breaker denies a call.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrInvalidCredentials is returned for signature or API-key failures.
	ErrInvalidCredentials = errors.New("invalid API credentials")

	// ErrMalformedResponse is returned when a response body lacks the
	// expected structure.
	ErrMalformedResponse = errors.New("malformed response")
)

// Error is the typed failure carried across the retry and aggregation
// boundaries. Endpoint and RetCode are informational; Kind drives behavior.
type Error struct {
	Kind     ErrorKind
	Endpoint Endpoint
	RetCode  int
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s error: %s", e.Endpoint, e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed error for the given endpoint and kind.
func NewError(kind ErrorKind, ep Endpoint, msg string, err error) *Error {
	return &Error{Kind: kind, Endpoint: ep, Msg: msg, Err: err}
}

// KindOf extracts the ErrorKind from err, walking the wrap chain. Unclassified
// errors are treated as transient so that an unknown network condition is
// retried rather than silently dropped.
func KindOf(err error) ErrorKind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	if errors.Is(err, ErrCircuitOpen) {
		return KindCircuitOpen
	}
	if errors.Is(err, ErrInvalidCredentials) {
		return KindAuth
	}
	if errors.Is(err, ErrMalformedResponse) {
		return KindMalformed
	}
	return KindTransient
}

// IsRetryable reports whether the retry executor should attempt err again.
// Context cancellation is never retried regardless of classification.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch KindOf(err) {
	case KindTransient, KindRateLimit:
		return true
	default:
		return false
	}
}

// IsConnReset reports whether err looks like a transport-level connection
// failure that warrants rebuilding the pooled HTTP session before the next
// attempt.
func IsConnReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && !ne.Timeout() {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "connection reset") || strings.Contains(s, "broken pipe")
}
