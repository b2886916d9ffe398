package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// MockServer is an in-process WebSocket server for tests. It answers ping
// ops with pongs, acknowledges subscribe/unsubscribe ops, records the topics
// each connection subscribed to and can broadcast frames or drop
// connections on demand.
type MockServer struct {
	server *httptest.Server
	url    string

	mu            sync.Mutex
	connections   map[*websocket.Conn]bool
	subscriptions [][]string // one entry per subscribe op received, in order
	rejectConnect bool
	connectCount  int
}

// NewMockServer starts a mock server.
func NewMockServer() *MockServer {
	m := &MockServer{
		connections: make(map[*websocket.Conn]bool),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	m.url = "ws" + strings.TrimPrefix(m.server.URL, "http")
	return m
}

// URL returns the ws:// address of the server.
func (m *MockServer) URL() string { return m.url }

// Close shuts the server down.
func (m *MockServer) Close() { m.server.Close() }

// SetRejectConnection makes subsequent dials fail with HTTP 403.
func (m *MockServer) SetRejectConnection(reject bool) {
	m.mu.Lock()
	m.rejectConnect = reject
	m.mu.Unlock()
}

// DropConnections force-closes every active connection.
func (m *MockServer) DropConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.connections {
		conn.Close()
	}
}

// ConnectionCount reports how many dials succeeded since start.
func (m *MockServer) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCount
}

// ActiveConnections reports currently open connections.
func (m *MockServer) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// SubscribedTopics returns every topic received in subscribe ops, in arrival
// order, possibly with duplicates across reconnects.
func (m *MockServer) SubscribedTopics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var topics []string
	for _, args := range m.subscriptions {
		topics = append(topics, args...)
	}
	return topics
}

// Broadcast sends a text frame to every active connection.
func (m *MockServer) Broadcast(message []byte) {
	m.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(m.connections))
	for conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteMessage(websocket.TextMessage, message)
	}
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	reject := m.rejectConnect
	m.mu.Unlock()
	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.connections[conn] = true
	m.connectCount++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.connections, conn)
		m.mu.Unlock()
		conn.Close()
	}()

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var op struct {
			Op   string   `json:"op"`
			Args []string `json:"args"`
		}
		if err := json.Unmarshal(message, &op); err != nil {
			continue
		}

		switch op.Op {
		case "ping":
			pong, _ := json.Marshal(map[string]string{"op": "pong"})
			if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return
			}
		case "subscribe":
			m.mu.Lock()
			m.subscriptions = append(m.subscriptions, op.Args)
			m.mu.Unlock()
			ack, _ := json.Marshal(map[string]interface{}{"op": "subscribe", "success": true})
			if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
				return
			}
		case "unsubscribe":
			ack, _ := json.Marshal(map[string]interface{}{"op": "unsubscribe", "success": true})
			if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
				return
			}
		}
	}
}

func setupMockServer(t *testing.T) (*MockServer, string) {
	t.Helper()
	mock := NewMockServer()
	t.Cleanup(mock.Close)
	return mock, mock.URL()
}
