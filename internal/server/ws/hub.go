// Package ws streams committed ledger events to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/vestd/internal/domain"
	"github.com/alanyoungcy/vestd/internal/events"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// DefaultBacklog is how many recent events a new client receives.
	DefaultBacklog = 50
)

// wildcard subscribes a client to every event type.
const wildcard = "*"

// Backlog returns the most recent entries of a stream, oldest first.
type Backlog interface {
	StreamTail(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error)
}

// Config tunes the hub.
type Config struct {
	// Backlog is the number of recent events replayed on connect. Zero uses
	// DefaultBacklog; negative disables replay.
	Backlog int
	// AllowedOrigins restricts the websocket handshake. Empty allows any.
	AllowedOrigins []string
}

// Hub fans events published on the signal bus out to connected clients.
type Hub struct {
	bus      domain.SignalBus
	backlog  Backlog
	tail     int
	upgrader websocket.Upgrader
	logger   *slog.Logger

	clients    map[*client]bool
	broadcast  chan eventFrame
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
}

// eventFrame is one event payload together with its decoded type.
type eventFrame struct {
	typ  domain.EventType
	data []byte
}

// NewHub creates a hub reading from bus. backlog may be nil.
func NewHub(bus domain.SignalBus, backlog Backlog, logger *slog.Logger, cfg Config) *Hub {
	tail := cfg.Backlog
	if tail == 0 {
		tail = DefaultBacklog
	}
	tail = min(tail, sendBufferSize/2)
	origins := cfg.AllowedOrigins
	return &Hub{
		bus:     bus,
		backlog: backlog,
		tail:    tail,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]bool),
		broadcast:  make(chan eventFrame, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run subscribes to every event channel and serves clients until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	msgCh, err := h.bus.Subscribe(ctx, events.ChannelPattern)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "ws: subscribed", slog.String("pattern", events.ChannelPattern))
	go h.forward(ctx, msgCh)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case f := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(f.typ) {
					continue
				}
				select {
				case c.send <- f.data:
				default:
					h.logger.Warn("ws: dropping event for slow client", slog.String("type", string(f.typ)))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward decodes bus payloads into frames for the Run loop.
func (h *Hub) forward(ctx context.Context, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: event subscription closed")
				return
			}
			f, ok := frameOf(data)
			if !ok {
				h.logger.Warn("ws: skipping undecodable event", slog.Int("bytes", len(data)))
				continue
			}
			select {
			case h.broadcast <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}

func frameOf(data []byte) (eventFrame, bool) {
	var head struct {
		Type domain.EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.Type == "" {
		return eventFrame{}, false
	}
	return eventFrame{typ: head.Type, data: data}, true
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request, replays the recent backlog and registers
// the client for live events.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[domain.EventType]bool{wildcard: true},
	}
	c.replay(r.Context())

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[domain.EventType]bool
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change the event types
// it receives. "*" matches every type.
type subscribeMsg struct {
	Action string             `json:"action"` // "subscribe" or "unsubscribe"
	Types  []domain.EventType `json:"types"`
}

// replay queues the recent stream backlog ahead of live events.
func (c *client) replay(ctx context.Context) {
	if c.hub.backlog == nil || c.hub.tail <= 0 {
		return
	}
	msgs, err := c.hub.backlog.StreamTail(ctx, events.Stream, c.hub.tail)
	if err != nil {
		c.hub.logger.WarnContext(ctx, "ws: backlog read failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		c.send <- m.Payload
	}
}

// readPump reads subscription changes from the client until it disconnects.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Types {
			c.subs[t] = true
		}
	case "unsubscribe":
		for _, t := range msg.Types {
			delete(c.subs, t)
		}
	}
}

func (c *client) isSubscribed(t domain.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[wildcard] || c.subs[t]
}

// writePump sends queued events as JSON text frames plus periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
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

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
