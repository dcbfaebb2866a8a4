// Package realtime pushes leaderboard snapshots to browsers over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"trustmymrr/internal/logging"
)

// Message types
const (
	MessageTypeLeaderboard = "leaderboard"
	MessageTypeHeartbeat   = "heartbeat"
	MessageTypeError       = "error"
)

const sendBuffer = 16

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub tracks connected clients and fans out broadcasts.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Last leaderboard frame, replayed to new clients.
	latest []byte

	allowedOrigins map[string]bool
	allowNoOrigin  bool
	upgrader       websocket.Upgrader

	mu sync.RWMutex
}

// NewHub creates a hub accepting the given origins. Requests without an
// Origin header are accepted only when allowNoOrigin is set.
func NewHub(allowedOrigins []string, allowNoOrigin bool) *Hub {
	h := &Hub{
		clients:        make(map[*Client]bool),
		broadcast:      make(chan []byte, sendBuffer),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		allowedOrigins: make(map[string]bool, len(allowedOrigins)),
		allowNoOrigin:  allowNoOrigin,
	}
	for _, o := range allowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			h.allowedOrigins[o] = true
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return h.allowNoOrigin
	}
	return h.allowedOrigins["*"] || h.allowedOrigins[strings.TrimRight(origin, "/")]
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]bool)
			h.mu.Unlock()
			logging.L().Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			latest := h.latest
			h.mu.Unlock()
			if latest != nil {
				h.deliver(client, latest)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case frame := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				h.deliverLocked(client, frame)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) deliver(client *Client, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		h.deliverLocked(client, frame)
	}
}

// deliverLocked drops clients whose buffer is full.
func (h *Hub) deliverLocked(client *Client, frame []byte) {
	select {
	case client.send <- frame:
	default:
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast sends msg to every client. Leaderboard messages are also kept
// for clients that connect later.
func (h *Hub) Broadcast(msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if msg.Type == MessageTypeLeaderboard {
		h.mu.Lock()
		h.latest = frame
		h.mu.Unlock()
	}
	select {
	case h.broadcast <- frame:
	case <-h.done:
	}
	return nil
}

// BroadcastLeaderboard publishes a leaderboard snapshot.
func (h *Hub) BroadcastLeaderboard(entries interface{}) error {
	return h.Broadcast(Message{Type: MessageTypeLeaderboard, Data: entries})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and attaches the connection to the hub.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L().Debug("websocket upgrade failed",
			zap.String("origin", c.GetHeader("Origin")),
			zap.Error(err))
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
