// Package stream maintains the persistent WebSocket connection to one market
// segment. A Conn owns three concerns: a receive loop dispatching inbound
// frames to topic handlers, a keepalive loop that pings on an interval and
// watches for silence, and a reconnect loop that re-dials with capped
// exponential backoff and replays the full subscription set.
//
// Liquidation frames are additionally parsed into market.LiquidationEvent
// records and retained in a time-windowed per-symbol buffer that consumers
// read through Liquidations.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/gorilla/websocket"
	"github.com/volatiq/exchange-core/pkg/logging"
	"github.com/volatiq/exchange-core/pkg/market"
	"github.com/volatiq/exchange-core/pkg/ratelimit"
)

// Handler is a callback for inbound messages on one topic. It receives the
// raw frame; decoding is the handler's business.
type Handler func(message []byte)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config holds stream connection configuration.
type Config struct {
	URL string

	// PingInterval is the keepalive cadence.
	PingInterval time.Duration

	// ReadTimeout is the silence threshold after which the keepalive loop
	// pings proactively instead of assuming failure.
	ReadTimeout time.Duration

	// DeadAfter is the silence threshold at which the connection is
	// treated as dead and torn down for reconnection.
	DeadAfter time.Duration

	// ReconnectDelay is the base backoff delay; MaxReconnectDelay caps
	// the exponential growth.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	MaxReconnects     uint

	// MaxParseErrors is the consecutive unparsable-frame count that
	// forces a reconnect.
	MaxParseErrors int

	// LiquidationRetention bounds the liquidation buffer window.
	LiquidationRetention time.Duration

	// Pacer spaces outgoing control frames (pings, subscriptions).
	Pacer ratelimit.Pacer

	Logger logging.Logger
}

// DefaultConfig returns the tuning used against the production stream.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		PingInterval:         20 * time.Second,
		ReadTimeout:          30 * time.Second,
		DeadAfter:            60 * time.Second,
		ReconnectDelay:       time.Second,
		MaxReconnectDelay:    60 * time.Second,
		MaxReconnects:        10,
		MaxParseErrors:       5,
		LiquidationRetention: market.DefaultLiquidationRetention,
	}
}

// frame is the inbound message envelope. Data stays raw for the handlers.
type frame struct {
	Topic  string          `json:"topic"`
	Type   string          `json:"type"`
	Op     string          `json:"op"`
	RetMsg string          `json:"ret_msg"`
	Data   json.RawMessage `json:"data"`
	Ts     int64           `json:"ts"`
}

// Conn is a self-healing WebSocket connection. Safe for concurrent use.
type Conn struct {
	cfg    Config
	logger logging.Logger
	pacer  ratelimit.Pacer
	liq    *market.LiquidationBuffer

	conn    *websocket.Conn
	writeMu sync.Mutex

	stateMu sync.Mutex
	state   State

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	doneMu sync.Mutex
	done   chan struct{}
	closed bool

	reconnectMu  sync.Mutex
	reconnecting bool
	shuttingDown bool

	lastMsgMu sync.Mutex
	lastMsg   time.Time

	parseErrMu sync.Mutex
	parseErrs  int
}

// NewConn creates a stream connection. Connect must be called before
// Subscribe can reach the wire; handlers registered earlier are replayed on
// the first successful connect like any reconnect.
func NewConn(cfg Config) *Conn {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger()
	}
	if cfg.Pacer == nil {
		cfg.Pacer = ratelimit.NewPacer(ratelimit.DefaultControlRate())
	}
	if cfg.MaxParseErrors <= 0 {
		cfg.MaxParseErrors = 5
	}
	return &Conn{
		cfg:      cfg,
		logger:   cfg.Logger,
		pacer:    cfg.Pacer,
		liq:      market.NewLiquidationBuffer(cfg.LiquidationRetention),
		handlers: make(map[string]Handler),
		state:    Disconnected,
	}
}

// StateOf returns the current lifecycle state.
func (c *Conn) StateOf() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// IsConnected reports whether the connection is healthy.
func (c *Conn) IsConnected() bool {
	return c.StateOf() == Connected
}

// Liquidations returns the retained liquidation events for symbol.
func (c *Conn) Liquidations(symbol string) []market.LiquidationEvent {
	return c.liq.Events(symbol)
}

// Connect dials the stream URL, confirms liveness with a ping exchange and
// starts the receive and keepalive loops. Prior subscriptions are replayed
// before Connect returns, so a reconnecting caller sees the full topic set
// restored once the connection is reported healthy. Only Connect clears the
// shutdown latch set by Close; the internal reconnect loop never does, so a
// Close racing an in-flight reconnect stays closed.
func (c *Conn) Connect(ctx context.Context) error {
	c.reconnectMu.Lock()
	c.shuttingDown = false
	c.reconnectMu.Unlock()
	return c.connect(ctx)
}

// connect is the dial path shared with the reconnect loop. It refuses to
// revive a connection the caller has shut down.
func (c *Conn) connect(ctx context.Context) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if c.shuttingDown {
		return fmt.Errorf("stream closed")
	}
	if c.IsConnected() {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("context already cancelled: %w", ctx.Err())
	}

	c.setState(Connecting)
	c.logger.Debug("dialing stream",
		logging.String("url", c.cfg.URL),
		logging.Duration("ping_interval", c.cfg.PingInterval),
	)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("dialing %s: %w", c.cfg.URL, err)
	}

	if err := c.confirmLiveness(conn); err != nil {
		conn.Close()
		c.setState(Disconnected)
		return err
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	c.touch()
	c.resetParseErrors()

	c.doneMu.Lock()
	c.done = make(chan struct{})
	c.closed = false
	c.doneMu.Unlock()

	c.setState(Connected)

	go c.readPump(ctx)
	go c.keepalive()
	go func() {
		select {
		case <-ctx.Done():
			c.logger.Info("context cancelled, closing stream")
			c.Close()
		case <-c.doneCh():
		}
	}()

	c.logger.Info("stream connected", logging.String("url", c.cfg.URL))

	c.resubscribe()
	return nil
}

// confirmLiveness sends a ping and waits for any response frame before the
// connection is declared healthy.
func (c *Conn) confirmLiveness(conn *websocket.Conn) error {
	ping, _ := json.Marshal(map[string]string{"op": "ping"})
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		return fmt.Errorf("sending connect ping: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	if _, _, err := conn.ReadMessage(); err != nil {
		return fmt.Errorf("awaiting connect ping ack: %w", err)
	}
	return nil
}

func (c *Conn) doneCh() chan struct{} {
	c.doneMu.Lock()
	defer c.doneMu.Unlock()
	return c.done
}

func (c *Conn) touch() {
	c.lastMsgMu.Lock()
	c.lastMsg = time.Now()
	c.lastMsgMu.Unlock()
}

func (c *Conn) silence() time.Duration {
	c.lastMsgMu.Lock()
	defer c.lastMsgMu.Unlock()
	return time.Since(c.lastMsg)
}

func (c *Conn) resetParseErrors() {
	c.parseErrMu.Lock()
	c.parseErrs = 0
	c.parseErrMu.Unlock()
}

// noteParseError returns true when the consecutive parse-error budget is
// exhausted and the connection should be recycled.
func (c *Conn) noteParseError() bool {
	c.parseErrMu.Lock()
	defer c.parseErrMu.Unlock()
	c.parseErrs++
	return c.parseErrs >= c.cfg.MaxParseErrors
}

// readPump reads frames until the connection dies, then arranges a
// reconnect unless the close was deliberate.
func (c *Conn) readPump(ctx context.Context) {
	conn := c.currentConn()
	defer func() {
		c.setState(Disconnected)
		if conn != nil {
			_ = conn.Close()
		}

		c.doneMu.Lock()
		if !c.closed {
			close(c.done)
			c.closed = true
		}
		c.doneMu.Unlock()

		c.logger.Info("receive loop stopped")

		c.reconnectMu.Lock()
		deliberate := c.shuttingDown
		c.reconnectMu.Unlock()
		if !deliberate && ctx.Err() == nil {
			go c.reconnect()
		}
	}()

	if conn == nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.DeadAfter))
	conn.SetPongHandler(func(string) error {
		c.touch()
		conn.SetReadDeadline(time.Now().Add(c.cfg.DeadAfter))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(c.cfg.DeadAfter))
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", logging.Error(err))
			}
			return
		}

		c.touch()

		if msgType != websocket.TextMessage {
			c.logger.Debug("dropping non-text frame", logging.Int("type", msgType))
			continue
		}

		if ok := c.dispatch(message); !ok {
			if c.noteParseError() {
				c.logger.Error("too many consecutive parse errors, recycling connection")
				return
			}
			continue
		}
		c.resetParseErrors()
	}
}

// dispatch routes one frame. Returns false when the frame was unparsable.
func (c *Conn) dispatch(message []byte) bool {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		c.logger.Warn("unparsable frame", logging.Error(err))
		return false
	}

	// Pong and op acknowledgements carry no topic.
	if f.Topic == "" {
		return true
	}

	if strings.HasPrefix(f.Topic, "liquidation.") || strings.HasPrefix(f.Topic, "allLiquidation.") {
		c.recordLiquidations(f)
	}

	c.handlersMu.RLock()
	handler, exists := c.handlers[f.Topic]
	c.handlersMu.RUnlock()

	if exists {
		go func(topic string, data []byte, h Handler) {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("handler panic recovered",
						logging.String("topic", topic),
						logging.String("panic", fmt.Sprintf("%v", r)),
					)
				}
			}()
			h(data)
		}(f.Topic, message, handler)
	}
	return true
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// liquidationEntry matches both the single-object and array data encodings
// the exchange has used for liquidation topics.
type liquidationEntry struct {
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
	Time   int64  `json:"T"`
}

func (c *Conn) recordLiquidations(f frame) {
	var entries []liquidationEntry
	if err := json.Unmarshal(f.Data, &entries); err != nil {
		var single liquidationEntry
		if err := json.Unmarshal(f.Data, &single); err != nil {
			c.logger.Warn("unparsable liquidation payload", logging.String("topic", f.Topic))
			return
		}
		entries = []liquidationEntry{single}
	}

	for _, e := range entries {
		ts := e.Time
		if ts == 0 {
			ts = f.Ts
		}
		c.liq.Add(market.LiquidationEvent{
			Symbol:    e.Symbol,
			Side:      e.Side,
			Size:      parseFloat(e.Size),
			Price:     parseFloat(e.Price),
			Timestamp: ts,
		})
	}
}

// keepalive pings on the configured interval and enforces the silence
// thresholds: past ReadTimeout it pings immediately to verify liveness, past
// DeadAfter it recycles the connection.
func (c *Conn) keepalive() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	done := c.doneCh()
	for {
		select {
		case <-ticker.C:
			if !c.IsConnected() {
				return
			}

			silence := c.silence()
			if silence > c.cfg.DeadAfter {
				c.logger.Warn("stream silent past dead threshold, recycling",
					logging.Duration("silence", silence),
				)
				c.closeConn()
				return
			}
			if silence > c.cfg.ReadTimeout {
				c.logger.Debug("stream quiet, pinging to verify liveness",
					logging.Duration("silence", silence),
				)
			}

			if err := c.sendControl(map[string]string{"op": "ping"}); err != nil {
				c.logger.Warn("keepalive ping failed", logging.Error(err))
				c.closeConn()
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Conn) currentConn() *websocket.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn
}

func (c *Conn) closeConn() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// sendControl writes a JSON control frame through the pacer.
func (c *Conn) sendControl(message interface{}) error {
	if err := c.pacer.Wait(context.Background()); err != nil {
		return err
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling control frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// reconnect re-dials with exponential backoff capped at MaxReconnectDelay.
// Subscription replay happens inside Connect.
func (c *Conn) reconnect() {
	c.reconnectMu.Lock()
	if c.reconnecting || c.shuttingDown {
		c.reconnectMu.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectMu.Unlock()

	defer func() {
		c.reconnectMu.Lock()
		c.reconnecting = false
		c.reconnectMu.Unlock()
	}()

	c.setState(Reconnecting)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	err := retry.Do(
		func() error {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			if err := c.connect(ctx); err != nil {
				c.reconnectMu.Lock()
				stopping := c.shuttingDown
				c.reconnectMu.Unlock()
				if stopping {
					return retry.Unrecoverable(err)
				}
				return err
			}
			return nil
		},
		retry.Attempts(c.cfg.MaxReconnects),
		retry.Delay(c.cfg.ReconnectDelay),
		retry.MaxDelay(c.cfg.MaxReconnectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("reconnect attempt failed",
				logging.Int("attempt", int(n+1)),
				logging.Error(err),
			)
		}),
	)
	if err != nil {
		c.setState(Disconnected)
		c.logger.Error("reconnection failed", logging.Error(err))
		return
	}

	c.logger.Info("reconnection successful")
}

// Subscribe registers a handler for topic and sends the subscription frame.
// The topic joins the replay set, so it survives reconnects.
func (c *Conn) Subscribe(topic string, handler Handler) error {
	c.handlersMu.Lock()
	c.handlers[topic] = handler
	c.handlersMu.Unlock()

	if !c.IsConnected() {
		return fmt.Errorf("stream not connected")
	}
	return c.sendControl(map[string]interface{}{
		"op":   "subscribe",
		"args": []string{topic},
	})
}

// Unsubscribe removes the handler and sends the unsubscription frame.
func (c *Conn) Unsubscribe(topic string) error {
	c.handlersMu.Lock()
	delete(c.handlers, topic)
	c.handlersMu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	return c.sendControl(map[string]interface{}{
		"op":   "unsubscribe",
		"args": []string{topic},
	})
}

// Topics returns the current replay set.
func (c *Conn) Topics() []string {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	topics := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		topics = append(topics, t)
	}
	return topics
}

// resubscribe replays every registered topic. Partial failure is logged but
// never aborts the reconnect; a topic that failed to replay will be retried
// on the next reconnect cycle.
func (c *Conn) resubscribe() {
	for _, topic := range c.Topics() {
		err := c.sendControl(map[string]interface{}{
			"op":   "subscribe",
			"args": []string{topic},
		})
		if err != nil {
			c.logger.Error("failed to resubscribe",
				logging.String("topic", topic),
				logging.Error(err),
			)
			continue
		}
		c.logger.Debug("resubscribed", logging.String("topic", topic))
	}
}

// Close shuts the connection down deterministically; no reconnect follows.
func (c *Conn) Close() error {
	c.reconnectMu.Lock()
	c.shuttingDown = true
	c.reconnectMu.Unlock()

	c.doneMu.Lock()
	wasClosed := c.closed
	if !c.closed && c.done != nil {
		close(c.done)
		c.closed = true
	}
	c.doneMu.Unlock()
	if wasClosed {
		return nil
	}

	c.setState(Disconnected)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed connection"))
		time.Sleep(100 * time.Millisecond)
		err := c.conn.Close()
		if err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
			return err
		}
	}
	return nil
}
