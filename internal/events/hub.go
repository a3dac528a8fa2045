// Package events implements the event fan-out (C10): it publishes a
// committed transfer's transition to real-time WebSocket subscribers,
// following the hub/client/broadcast-channel shape of replay-api's
// pkg/infra/websocket/hub.go, retargeted from lobby rooms to the two
// topics spec §6 names: /topic/transfers and /topic/compliance/worklist.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Topic names the two subscription channels spec §6 defines.
type Topic string

const (
	TopicTransfers           Topic = "/topic/transfers"
	TopicComplianceWorklist  Topic = "/topic/compliance/worklist"
)

// Message is the wire protocol frame delivered to subscribers.
type Message struct {
	Topic     Topic           `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Client is one connected WebSocket subscriber.
type Client struct {
	ID     uuid.UUID
	Conn   *websocket.Conn
	Send   chan *Message
	Topics map[Topic]struct{}
}

// subscribeRequest asks Run to add topic to client's subscription set. It is
// routed through the hub rather than mutated directly from ReadPump's
// goroutine, because Client.Topics is otherwise only ever read from Run's
// goroutine in broadcastMessage.
type subscribeRequest struct {
	client *Client
	topic  Topic
}

// Hub manages connected clients and routes broadcast messages to whichever
// clients are subscribed to a message's topic.
type Hub struct {
	clients    map[uuid.UUID]*Client
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscribeRequest
	broadcast  chan *Message
	mu         sync.RWMutex
}

// NewHub builds an empty Hub. Call Run in its own goroutine to start
// servicing register/unregister/subscribe/broadcast.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		subscribe:  make(chan subscribeRequest, 256),
		broadcast:  make(chan *Message, 1024),
	}
}

// RegisterClient adds a client to the hub.
func (h *Hub) RegisterClient(c *Client) { h.register <- c }

// UnregisterClient removes a client from the hub.
func (h *Hub) UnregisterClient(c *Client) { h.unregister <- c }

// Run services the hub's channels until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.registerClient(c)
		case c := <-h.unregister:
			h.unregisterClient(c)
		case req := <-h.subscribe:
			req.client.Topics[req.topic] = struct{}{}
		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	slog.Info("websocket client connected", "client_id", c.ID, "topics", c.Topics)
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.Send)
		slog.Info("websocket client disconnected", "client_id", c.ID)
	}
}

func (h *Hub) broadcastMessage(msg *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if _, subscribed := c.Topics[msg.Topic]; !subscribed {
			continue
		}
		select {
		case c.Send <- msg:
		default:
			slog.Warn("client send buffer full, dropping message", "client_id", c.ID, "topic", msg.Topic)
		}
	}
}

// BroadcastRaw enqueues msg for delivery to subscribed clients. Non-blocking
// with respect to the caller's business transaction: the hub's broadcast
// channel is buffered, and a full buffer drops rather than stalls.
func (h *Hub) BroadcastRaw(topic Topic, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("events: marshal broadcast payload failed", "topic", topic, "error", err)
		return
	}
	msg := &Message{Topic: topic, Payload: raw, Timestamp: time.Now().Unix()}
	select {
	case h.broadcast <- msg:
	default:
		slog.Warn("events: hub broadcast channel full, dropping message", "topic", topic)
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		close(c.Send)
	}
	slog.Info("websocket hub shut down")
}

// ConnectedClients returns the number of currently registered clients.
func (h *Hub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the HTTP request to a WebSocket connection, registers a
// new Client with the hub, and starts its read/write pumps. Subscriptions
// are established afterward by the client sending
// {"type":"subscribe","topic":"/topic/transfers"} frames.
func ServeWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("events: websocket upgrade failed", "error", err)
			return
		}

		client := &Client{
			ID:     uuid.New(),
			Conn:   conn,
			Send:   make(chan *Message, 64),
			Topics: make(map[Topic]struct{}),
		}
		hub.RegisterClient(client)

		go client.WritePump()
		go client.ReadPump(hub)
	}
}

// WritePump delivers queued messages to the underlying connection until
// Send is closed.
func (c *Client) WritePump() {
	defer c.Conn.Close()
	for msg := range c.Send {
		if err := c.Conn.WriteJSON(msg); err != nil {
			slog.Error("events: write failed", "client_id", c.ID, "error", err)
			return
		}
	}
	c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ReadPump drains inbound frames (subscription control messages) until the
// connection closes, then unregisters the client.
func (c *Client) ReadPump(hub *Hub) {
	defer func() {
		hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(512)
	for {
		var msg struct {
			Type  string `json:"type"`
			Topic Topic  `json:"topic"`
		}
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("events: read error", "client_id", c.ID, "error", err)
			}
			return
		}
		if msg.Type == "subscribe" && msg.Topic != "" {
			hub.subscribe <- subscribeRequest{client: c, topic: msg.Topic}
		}
	}
}
