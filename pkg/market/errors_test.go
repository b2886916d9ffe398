package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"TypedError", NewError(KindRateLimit, EndpointKline, "throttled", nil), KindRateLimit},
		{"WrappedTypedError", fmt.Errorf("fetch: %w", NewError(KindAuth, EndpointTicker, "", nil)), KindAuth},
		{"CircuitSentinel", fmt.Errorf("gate: %w", ErrCircuitOpen), KindCircuitOpen},
		{"CredentialsSentinel", ErrInvalidCredentials, KindAuth},
		{"MalformedSentinel", ErrMalformedResponse, KindMalformed},
		{"UnclassifiedIsTransient", errors.New("something broke"), KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(KindTransient, EndpointTicker, "timeout", nil)))
	assert.True(t, IsRetryable(NewError(KindRateLimit, EndpointTicker, "429", nil)))
	assert.False(t, IsRetryable(NewError(KindAuth, EndpointTicker, "", nil)))
	assert.False(t, IsRetryable(NewError(KindMalformed, EndpointTicker, "", nil)))
	assert.False(t, IsRetryable(NewError(KindCircuitOpen, EndpointTicker, "", ErrCircuitOpen)))

	t.Run("CancellationNeverRetried", func(t *testing.T) {
		wrapped := NewError(KindTransient, EndpointTicker, "", context.Canceled)
		assert.False(t, IsRetryable(wrapped))
		assert.False(t, IsRetryable(context.DeadlineExceeded))
	})
}

func TestIsConnReset(t *testing.T) {
	assert.True(t, IsConnReset(syscall.ECONNRESET))
	assert.True(t, IsConnReset(syscall.EPIPE))
	assert.True(t, IsConnReset(io.EOF))
	assert.True(t, IsConnReset(fmt.Errorf("read tcp: %w", io.ErrUnexpectedEOF)))
	assert.True(t, IsConnReset(errors.New("write: connection reset by peer")))
	assert.False(t, IsConnReset(nil))
	assert.False(t, IsConnReset(errors.New("retCode 10001")))
}

func TestErrorFormatting(t *testing.T) {
	withMsg := NewError(KindRateLimit, EndpointKline, "quota exhausted", nil)
	assert.Contains(t, withMsg.Error(), "kline")
	assert.Contains(t, withMsg.Error(), "rate_limit")
	assert.Contains(t, withMsg.Error(), "quota exhausted")

	inner := errors.New("dial tcp: timeout")
	wrapped := NewError(KindTransient, EndpointTicker, "", inner)
	assert.ErrorIs(t, wrapped, inner)
}
