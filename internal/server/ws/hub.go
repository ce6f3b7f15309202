// Package ws streams listing lifecycle events to dashboard clients over
// WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/adboard/internal/domain"
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

	replayCount = 50
)

// Replayer returns recent payloads for late joiners. The Redis signal bus
// implements it.
type Replayer interface {
	Recent(ctx context.Context, channel string, count int) ([][]byte, error)
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool
	mu     sync.RWMutex
}

// subscribeMsg changes a client's topic filter. Topics are "*" (everything),
// "tier:<id>", "listing:<id>" and "event:<name>"; a trailing "*" matches
// any suffix.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

// Hub manages a set of connected WebSocket clients and broadcasts listing
// events from the signal bus to clients whose topics match.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
	// AllowedOrigins restricts the upgrade; empty allows any origin.
	AllowedOrigins []string
}

// NewHub creates a hub that bridges the signal bus to WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  startedAt,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run starts the hub's main event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	msgCh, err := h.bus.Subscribe(ctx, domain.ListingEventsChannel)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "subscribed", slog.String("channel", domain.ListingEventsChannel))

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("event subscription closed")
				msgCh = nil
				continue
			}
			h.fanOut(data)
		}
	}
}

func (h *Hub) fanOut(data []byte) {
	var ev domain.ListingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.logger.Warn("dropping malformed event", slog.String("error", err.Error()))
		return
	}
	topics := eventTopics(ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(topics) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping message for slow client")
		}
	}
}

func eventTopics(ev domain.ListingEvent) []string {
	topics := []string{"event:" + ev.Event}
	if ev.ListingID != "" {
		topics = append(topics, "listing:"+ev.ListingID)
	}
	if ev.TierID != "" {
		topics = append(topics, "tier:"+string(ev.TierID))
	}
	return topics
}

// HandleWS upgrades the request and registers the client. The optional
// "topics" query parameter is a comma separated initial filter.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		topics: make(map[string]bool),
	}
	initial := "*"
	if q := r.URL.Query().Get("topics"); q != "" {
		initial = q
	}
	for _, t := range strings.Split(initial, ",") {
		if t = strings.TrimSpace(t); t != "" {
			c.topics[t] = true
		}
	}

	// Queue the greeting and backlog before the hub can close c.send.
	c.sendHello()
	c.replay(r.Context())
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription changes until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close error", slog.String("error", err.Error()))
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
		for _, t := range msg.Topics {
			c.topics[t] = true
		}
	case "unsubscribe":
		for _, t := range msg.Topics {
			delete(c.topics, t)
		}
	}
}

// sendHello tells the client which process mode it is connected to.
func (c *client) sendHello() {
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"uptime_seconds": max(0, int64(time.Since(c.hub.startedAt).Seconds())),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// replay sends recent matching events when the bus keeps history.
func (c *client) replay(ctx context.Context) {
	rp, ok := c.hub.bus.(Replayer)
	if !ok {
		return
	}
	recent, err := rp.Recent(ctx, domain.ListingEventsChannel, replayCount)
	if err != nil {
		c.hub.logger.Warn("replay failed", slog.String("error", err.Error()))
		return
	}
	for _, data := range recent {
		var ev domain.ListingEvent
		if json.Unmarshal(data, &ev) != nil || !c.wants(eventTopics(ev)) {
			continue
		}
		select {
		case c.send <- data:
		default:
			return
		}
	}
}

// wants reports whether any of the event's topics matches the client filter.
func (c *client) wants(topics []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.topics["*"] {
		return true
	}
	for _, topic := range topics {
		if c.topics[topic] {
			return true
		}
		for sub := range c.topics {
			if strings.HasSuffix(sub, "*") && strings.HasPrefix(topic, strings.TrimSuffix(sub, "*")) {
				return true
			}
		}
	}
	return false
}

// writePump sends queued events as text frames and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
