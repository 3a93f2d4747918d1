package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aaronlmathis/voltwatch/internal/metrics"
)

// Hub maintains the set of active clients and pushes dashboard updates to them.
// Each client is in exactly one room, the device it is watching.
type Hub struct {
	logger *zap.Logger

	// Registered clients
	clients map[*Client]struct{}

	// Register and unregister requests from the clients
	register   chan *Client
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	mu sync.RWMutex

	// Connection limits
	maxConnections int
	maxRoomSize    int
}

// Client represents a WebSocket client
type Client struct {
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	id string

	// Device the client is subscribed to; guarded by hub.mu
	room string
}

// Message is the envelope of every frame sent to or received from a client
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Room string      `json:"room,omitempty"`
}

// Client message types
const (
	TypeSubscribe  = "subscribe"
	TypeSubscribed = "subscribed"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin
		return true
	},
}

// NewHub creates a new WebSocket hub. maxConnections <= 0 means 1000.
func NewHub(logger *zap.Logger, maxConnections int) *Hub {
	if maxConnections <= 0 {
		maxConnections = 1000
	}
	return &Hub{
		logger:         logger,
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		clients:        make(map[*Client]struct{}),
		maxConnections: maxConnections,
		maxRoomSize:    maxConnections,
	}
}

// Run processes registrations until ctx is cancelled, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.dropLocked(client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			metrics.RecordWebSocketConnection()

			h.logger.Info("Client registered",
				zap.String("id", client.id),
				zap.String("room", client.room))

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(client)
			h.mu.Unlock()

			h.logger.Info("Client unregistered", zap.String("id", client.id))
		}
	}
}

// dropLocked removes client; h.mu must be held
func (h *Hub) dropLocked(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.RecordWebSocketDisconnection()
	}
}

// BroadcastToRoom sends a message to all clients watching room. Clients whose
// send buffer is full are disconnected.
func (h *Hub) BroadcastToRoom(room string, messageType string, data interface{}) {
	msgBytes, err := json.Marshal(Message{Type: messageType, Data: data, Room: room})
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sent, dropped := 0, 0
	for client := range h.clients {
		if client.room != room {
			continue
		}
		select {
		case client.send <- msgBytes:
			sent++
		default:
			h.logger.Warn("Removing unresponsive WebSocket client",
				zap.String("clientId", client.id),
				zap.String("room", room))
			h.dropLocked(client)
			dropped++
		}
	}

	if dropped > 0 {
		h.logger.Info("WebSocket broadcast completed with dropped clients",
			zap.String("room", room),
			zap.Int("sent", sent),
			zap.Int("dropped", dropped))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients watching room
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.roomSizeLocked(room)
}

func (h *Hub) roomSizeLocked(room string) int {
	n := 0
	for client := range h.clients {
		if client.room == room {
			n++
		}
	}
	return n
}

// ServeWS upgrades the request and subscribes the client to room
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, room string) {
	h.mu.RLock()
	totalConnections := len(h.clients)
	roomConnections := h.roomSizeLocked(room)
	h.mu.RUnlock()

	if totalConnections >= h.maxConnections {
		h.logger.Warn("WebSocket connection rejected - total connection limit reached",
			zap.Int("current", totalConnections),
			zap.Int("limit", h.maxConnections))
		http.Error(w, "Connection limit reached", http.StatusServiceUnavailable)
		return
	}
	if roomConnections >= h.maxRoomSize {
		h.logger.Warn("WebSocket connection rejected - room connection limit reached",
			zap.String("room", room),
			zap.Int("current", roomConnections),
			zap.Int("limit", h.maxRoomSize))
		http.Error(w, "Room connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   uuid.NewString(),
		room: room,
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

// subscribe moves the client to another room
func (c *Client) subscribe(room string) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()

	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	c.room = room

	ack, _ := json.Marshal(Message{Type: TypeSubscribed, Room: room})
	select {
	case c.send <- ack:
	default:
	}
}

// readPump handles subscribe requests and pongs until the connection closes
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("Unexpected WebSocket close", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Debug("Ignoring malformed client message", zap.String("clientId", c.id))
			continue
		}
		if msg.Type == TypeSubscribe && msg.Room != "" {
			c.subscribe(msg.Room)
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
