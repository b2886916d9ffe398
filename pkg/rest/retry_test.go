package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volatiq/exchange-core/pkg/logging"
	"github.com/volatiq/exchange-core/pkg/market"
)

func newRetryClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.MaxRetries = 3
	cfg.RetryDelay = time.Millisecond
	cfg.MaxJitter = time.Millisecond
	cfg.Logger = logging.NewNopLogger()
	client := NewClient(cfg)
	t.Cleanup(client.Close)
	return client
}

func TestExecute(t *testing.T) {
	t.Run("TransientFailureRetriedToSuccess", func(t *testing.T) {
		var calls atomic.Int32
		client := newRetryClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"retCode":0,"result":{"ok":true}}`))
		})

		raw, err := client.Execute(context.Background(), market.EndpointTicker, nil, false)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(raw))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("RateLimitRetried", func(t *testing.T) {
		var calls atomic.Int32
		client := newRetryClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{"retCode":0,"result":{}}`))
		})

		_, err := client.Execute(context.Background(), market.EndpointKline, nil, false)
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("AuthFailureNotRetried", func(t *testing.T) {
		var calls atomic.Int32
		client := newRetryClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
		})

		_, err := client.Execute(context.Background(), market.EndpointTicker, nil, true)
		require.Error(t, err)
		assert.Equal(t, market.KindAuth, market.KindOf(err))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("MalformedNotRetried", func(t *testing.T) {
		var calls atomic.Int32
		client := newRetryClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Write([]byte(`{"retCode":10001,"retMsg":"param error","result":{}}`))
		})

		_, err := client.Execute(context.Background(), market.EndpointTicker, nil, false)
		require.Error(t, err)
		assert.Equal(t, market.KindMalformed, market.KindOf(err))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("ExhaustionReturnsTypedLastError", func(t *testing.T) {
		var calls atomic.Int32
		client := newRetryClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := client.Execute(context.Background(), market.EndpointTrades, nil, false)
		require.Error(t, err)
		assert.Equal(t, int32(3), calls.Load())

		// LastErrorOnly keeps the error classifiable.
		var me *market.Error
		require.ErrorAs(t, err, &me)
		assert.Equal(t, market.KindTransient, me.Kind)
		assert.Equal(t, market.EndpointTrades, me.Endpoint)
	})

	t.Run("CancelledContextStopsRetrying", func(t *testing.T) {
		var calls atomic.Int32
		client := newRetryClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := client.Execute(ctx, market.EndpointTicker, nil, false)
		require.Error(t, err)
		assert.LessOrEqual(t, calls.Load(), int32(1))
	})
}
