package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volatiq/exchange-core/pkg/logging"
)

func newTestConn(t *testing.T, url string) *Conn {
	t.Helper()
	cfg := DefaultConfig(url)
	cfg.PingInterval = 100 * time.Millisecond
	cfg.ReconnectDelay = 50 * time.Millisecond
	cfg.MaxReconnectDelay = 200 * time.Millisecond
	cfg.Logger = logging.NewNopLogger()
	conn := NewConn(cfg)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestConnect(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mock, url := setupMockServer(t)
		conn := newTestConn(t, url)

		require.NoError(t, conn.Connect(context.Background()))
		assert.True(t, conn.IsConnected())
		assert.Equal(t, Connected, conn.StateOf())
		assert.Equal(t, 1, mock.ConnectionCount())
	})

	t.Run("Idempotent", func(t *testing.T) {
		mock, url := setupMockServer(t)
		conn := newTestConn(t, url)

		require.NoError(t, conn.Connect(context.Background()))
		require.NoError(t, conn.Connect(context.Background()))
		assert.Equal(t, 1, mock.ConnectionCount())
	})

	t.Run("Rejected", func(t *testing.T) {
		mock, url := setupMockServer(t)
		mock.SetRejectConnection(true)
		conn := newTestConn(t, url)

		err := conn.Connect(context.Background())
		require.Error(t, err)
		assert.Equal(t, Disconnected, conn.StateOf())
	})

	t.Run("CancelledContext", func(t *testing.T) {
		_, url := setupMockServer(t)
		conn := newTestConn(t, url)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.Error(t, conn.Connect(ctx))
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("SendsSubscriptionFrame", func(t *testing.T) {
		mock, url := setupMockServer(t)
		conn := newTestConn(t, url)
		require.NoError(t, conn.Connect(context.Background()))

		require.NoError(t, conn.Subscribe("liquidation.BTCUSDT", func([]byte) {}))
		assert.Eventually(t, func() bool {
			return len(mock.SubscribedTopics()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Contains(t, mock.SubscribedTopics(), "liquidation.BTCUSDT")
		assert.Contains(t, conn.Topics(), "liquidation.BTCUSDT")
	})

	t.Run("BeforeConnectJoinsReplaySet", func(t *testing.T) {
		mock, url := setupMockServer(t)
		conn := newTestConn(t, url)

		err := conn.Subscribe("liquidation.ETHUSDT", func([]byte) {})
		require.Error(t, err)
		assert.Contains(t, conn.Topics(), "liquidation.ETHUSDT")

		// The first connect replays the registered topic like a reconnect.
		require.NoError(t, conn.Connect(context.Background()))
		assert.Eventually(t, func() bool {
			return len(mock.SubscribedTopics()) == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		_, url := setupMockServer(t)
		conn := newTestConn(t, url)
		require.NoError(t, conn.Connect(context.Background()))

		require.NoError(t, conn.Subscribe("liquidation.BTCUSDT", func([]byte) {}))
		require.NoError(t, conn.Unsubscribe("liquidation.BTCUSDT"))
		assert.NotContains(t, conn.Topics(), "liquidation.BTCUSDT")
	})
}

func TestDispatch(t *testing.T) {
	t.Run("TopicFrameReachesHandler", func(t *testing.T) {
		mock, url := setupMockServer(t)
		conn := newTestConn(t, url)
		require.NoError(t, conn.Connect(context.Background()))

		received := make(chan []byte, 1)
		require.NoError(t, conn.Subscribe("tickers.BTCUSDT", func(msg []byte) {
			received <- msg
		}))

		frame := []byte(`{"topic":"tickers.BTCUSDT","type":"snapshot","data":{"lastPrice":"43250"},"ts":1700000000000}`)
		mock.Broadcast(frame)

		select {
		case msg := <-received:
			assert.JSONEq(t, string(frame), string(msg))
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for dispatched frame")
		}
	})

	t.Run("HandlerPanicDoesNotKillConnection", func(t *testing.T) {
		mock, url := setupMockServer(t)
		conn := newTestConn(t, url)
		require.NoError(t, conn.Connect(context.Background()))

		require.NoError(t, conn.Subscribe("tickers.ETHUSDT", func([]byte) {
			panic("handler bug")
		}))
		mock.Broadcast([]byte(`{"topic":"tickers.ETHUSDT","data":{},"ts":1}`))

		time.Sleep(200 * time.Millisecond)
		assert.True(t, conn.IsConnected())
	})

	t.Run("ParseErrorBudgetRecyclesConnection", func(t *testing.T) {
		mock, url := setupMockServer(t)
		conn := newTestConn(t, url)
		// A quiet keepalive so no pong resets the consecutive-error count.
		conn.cfg.PingInterval = 10 * time.Second
		require.NoError(t, conn.Connect(context.Background()))

		for i := 0; i < conn.cfg.MaxParseErrors; i++ {
			mock.Broadcast([]byte(`{{{not json`))
		}

		// The poisoned connection is recycled and a fresh dial follows.
		assert.Eventually(t, func() bool {
			return mock.ConnectionCount() >= 2 && conn.IsConnected()
		}, 5*time.Second, 20*time.Millisecond)
	})
}

func TestLiquidationCapture(t *testing.T) {
	mock, url := setupMockServer(t)
	conn := newTestConn(t, url)
	require.NoError(t, conn.Connect(context.Background()))

	now := time.Now().UnixMilli()

	t.Run("ArrayPayload", func(t *testing.T) {
		frame := fmt.Sprintf(
			`{"topic":"liquidation.BTCUSDT","type":"snapshot","ts":%d,"data":[{"s":"BTCUSDT","S":"Sell","v":"1.5","p":"43000.5","T":%d}]}`,
			now, now)
		mock.Broadcast([]byte(frame))

		assert.Eventually(t, func() bool {
			return len(conn.Liquidations("BTCUSDT")) == 1
		}, 2*time.Second, 10*time.Millisecond)

		events := conn.Liquidations("BTCUSDT")
		require.Len(t, events, 1)
		assert.Equal(t, "Sell", events[0].Side)
		assert.Equal(t, 1.5, events[0].Size)
		assert.Equal(t, 43000.5, events[0].Price)
	})

	t.Run("SingleObjectPayload", func(t *testing.T) {
		frame := fmt.Sprintf(
			`{"topic":"allLiquidation.ETHUSDT","ts":%d,"data":{"s":"ETHUSDT","S":"Buy","v":"10","p":"2300"}}`,
			now)
		mock.Broadcast([]byte(frame))

		assert.Eventually(t, func() bool {
			return len(conn.Liquidations("ETHUSDT")) == 1
		}, 2*time.Second, 10*time.Millisecond)

		// A missing per-event time falls back to the frame timestamp.
		events := conn.Liquidations("ETHUSDT")
		require.Len(t, events, 1)
		assert.Equal(t, now, events[0].Timestamp)
	})

	t.Run("NoHandlerRequired", func(t *testing.T) {
		// Liquidation capture happens before handler lookup; no Subscribe
		// call was made in this test.
		assert.NotContains(t, conn.Topics(), "liquidation.BTCUSDT")
	})
}

func TestReconnect(t *testing.T) {
	mock, url := setupMockServer(t)
	conn := newTestConn(t, url)
	require.NoError(t, conn.Connect(context.Background()))

	require.NoError(t, conn.Subscribe("liquidation.BTCUSDT", func([]byte) {}))
	require.NoError(t, conn.Subscribe("tickers.BTCUSDT", func([]byte) {}))
	assert.Eventually(t, func() bool {
		return len(mock.SubscribedTopics()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mock.DropConnections()

	// The connection heals itself and replays the full topic set.
	assert.Eventually(t, func() bool {
		return conn.IsConnected() && mock.ConnectionCount() >= 2
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		count := map[string]int{}
		for _, topic := range mock.SubscribedTopics() {
			count[topic]++
		}
		return count["liquidation.BTCUSDT"] >= 2 && count["tickers.BTCUSDT"] >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestClose(t *testing.T) {
	mock, url := setupMockServer(t)
	conn := newTestConn(t, url)
	require.NoError(t, conn.Connect(context.Background()))

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsConnected())

	// Deliberate shutdown; no reconnect may follow.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, mock.ConnectionCount())
	assert.Equal(t, Disconnected, conn.StateOf())

	t.Run("CloseTwice", func(t *testing.T) {
		require.NoError(t, conn.Close())
	})
}

func TestCloseDuringReconnect(t *testing.T) {
	mock, url := setupMockServer(t)
	conn := newTestConn(t, url)
	require.NoError(t, conn.Connect(context.Background()))

	// Force the connection into an active reconnect backoff.
	mock.SetRejectConnection(true)
	mock.DropConnections()
	assert.Eventually(t, func() bool {
		return conn.StateOf() == Reconnecting
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	mock.SetRejectConnection(false)

	// A shut-down connection must stay down even though the server is
	// reachable again and retry attempts were still pending.
	time.Sleep(800 * time.Millisecond)
	assert.Equal(t, 1, mock.ConnectionCount())
	assert.False(t, conn.IsConnected())
	assert.Equal(t, Disconnected, conn.StateOf())

	t.Run("ManualReconnectAfterClose", func(t *testing.T) {
		require.NoError(t, conn.Connect(context.Background()))
		assert.True(t, conn.IsConnected())
		assert.Equal(t, 2, mock.ConnectionCount())
	})
}

func TestControlFrameShapes(t *testing.T) {
	// Outgoing control frames follow the exchange's op envelope.
	ping, err := json.Marshal(map[string]string{"op": "ping"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"ping"}`, string(ping))

	sub, err := json.Marshal(map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"liquidation.BTCUSDT"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":["liquidation.BTCUSDT"]}`, string(sub))
}
