// Package api exposes the engine's event stream to remote observers over
// WebSocket.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/modegate/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024
)

// SubscribeMessage is the only client-to-server message: it narrows the
// stream to a single work-item kind ("*" for everything, the default).
type SubscribeMessage struct {
	Type string `json:"type"` // "subscribe"
	Kind string `json:"kind,omitempty"`
}

// StreamHandler upgrades HTTP connections and forwards published engine
// events to each peer.
type StreamHandler struct {
	upgrader  websocket.Upgrader
	publisher events.Publisher
	logger    *slog.Logger

	mu          sync.Mutex
	connections map[*websocket.Conn]*streamConn
}

type streamConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu        sync.Mutex
	kind      string
	eventChan <-chan events.Event
	closed    bool
}

// NewStreamHandler creates a stream handler over publisher.
func NewStreamHandler(publisher events.Publisher, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		publisher:   publisher,
		logger:      logger,
		connections: make(map[*websocket.Conn]*streamConn),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sc := &streamConn{
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.connections[conn] = sc
	h.mu.Unlock()

	h.subscribe(sc, events.GlobalKind)

	go h.readPump(sc)
	go h.writePump(sc)
}

// ConnectionCount returns the number of live peers.
func (h *StreamHandler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

func (h *StreamHandler) subscribe(c *streamConn, kind string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.eventChan != nil {
		h.publisher.Unsubscribe(c.kind, c.eventChan)
	}
	c.kind = kind
	c.eventChan = h.publisher.Subscribe(kind)
	ch := c.eventChan
	c.mu.Unlock()

	go h.forwardEvents(c, ch)
}

// forwardEvents copies published events into the connection's send queue.
// It exits when the subscription channel closes (unsubscribe or publisher
// shutdown) or the connection is done.
func (h *StreamHandler) forwardEvents(c *streamConn, ch <-chan events.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("marshal event failed", "error", err)
				continue
			}
			select {
			case c.send <- payload:
			case <-c.done:
				return
			default:
				// Slow peer: drop rather than stall the publisher.
			}
		case <-c.done:
			return
		}
	}
}

func (h *StreamHandler) readPump(c *streamConn) {
	defer h.closeConnection(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}

		var msg SubscribeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Debug("ignoring malformed client message", "error", err)
			continue
		}
		if msg.Type == "subscribe" {
			kind := msg.Kind
			if kind == "" {
				kind = events.GlobalKind
			}
			h.subscribe(c, kind)
		}
	}
}

func (h *StreamHandler) writePump(c *streamConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.closeConnection(c)
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (h *StreamHandler) closeConnection(c *streamConn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.eventChan != nil {
		h.publisher.Unsubscribe(c.kind, c.eventChan)
		c.eventChan = nil
	}
	c.mu.Unlock()

	close(c.done)
	_ = c.conn.Close()

	h.mu.Lock()
	delete(h.connections, c.conn)
	h.mu.Unlock()
}
