package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aktnk/camerad/internal/lib/sl"
)

// Event names pushed to subscribers.
const (
	RecordingFinalized = "recording-finalized"
	StreamDead         = "stream-dead"
)

const (
	writeWait      = 5 * time.Second
	sendBufferSize = 16
)

// envelope is the frame subscribers receive.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Hub fans events out to websocket subscribers. Slow subscribers are
// disconnected rather than allowed to stall the publishers.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the listener is loopback-only
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the connection subscribed
// until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", sl.Err(err))

		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.log.Debug("event subscriber connected", slog.Int("subscribers", n))

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Publish sends an event to every subscriber. It never blocks; clients
// whose buffers are full are dropped.
func (h *Hub) Publish(event string, data any) {
	payload, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		h.log.Error("event marshal failed", slog.String("event", event), sl.Err(err))

		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.dropLocked(c)
		}
	}
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) writeLoop(c *client) {
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(c)

			return
		}
	}

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// readLoop discards inbound frames; its job is to notice the peer
// closing the connection.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)

			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	delete(h.clients, c)
	close(c.send)
}
