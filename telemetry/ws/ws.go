// Package ws implements telemetry.Publisher over WebSocket connections,
// adapted directly from the corpus's ws.Hub/ws.Client: a registry of
// clients each with a buffered outbound channel, broadcast-with-drop when
// a client's buffer is full rather than blocking the publisher on a slow
// reader.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/homeems/core/domain"
)

const sendBuffer = 16

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// message is the wire envelope distinguishing snapshot pushes from
// schedule pushes on the same stream.
type message struct {
	Kind     string             `json:"kind"`
	Snapshot *domain.PowerSnapshot `json:"snapshot,omitempty"`
	Schedule *domain.Schedule      `json:"schedule,omitempty"`
}

// Client is one connected WebSocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub implements telemetry.Publisher by fanning every publish out to every
// registered Client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	logger  *log.Logger
}

// NewHub builds an empty Hub. logger defaults to log.Default() when nil.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{clients: make(map[*Client]bool), logger: logger}
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// resulting Client, the same pattern the corpus's hub-owning handler
// uses: upgrade, register, spawn the write pump, read until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("telemetry/ws: upgrade failed: %v", err)
		return
	}
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)
	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Printf("telemetry/ws: client buffer full, dropping message")
		}
	}
}

// ClientCount reports the number of currently connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// PublishSnapshot implements telemetry.Publisher.
func (h *Hub) PublishSnapshot(s domain.PowerSnapshot) {
	b, err := json.Marshal(message{Kind: "snapshot", Snapshot: &s})
	if err != nil {
		h.logger.Printf("telemetry/ws: marshal snapshot: %v", err)
		return
	}
	h.broadcast(b)
}

// PublishSchedule implements telemetry.Publisher.
func (h *Hub) PublishSchedule(s domain.Schedule) {
	b, err := json.Marshal(message{Kind: "schedule", Schedule: &s})
	if err != nil {
		h.logger.Printf("telemetry/ws: marshal schedule: %v", err)
		return
	}
	h.broadcast(b)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump exists only to detect client disconnects (this is a push-only
// stream; inbound messages are discarded) and to drive unregister.
func (c *Client) readPump() {
	defer c.hub.unregister(c)
	defer c.conn.Close()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
