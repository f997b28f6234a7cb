// Package ws streams order lifecycle and order book events to websocket
// clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	// replayLimit leaves room in the send buffer for the hello frame and
	// live events that arrive while the replay drains.
	replayLimit = 200
)

// Channels lists the bus channels relayed to clients.
var Channels = []string{domain.ChannelOrders, domain.ChannelOrderBook}

// envelope wraps a bus payload with its channel.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	ID      string          `json:"id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// subscribeMsg is sent by clients to narrow or widen their channels.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// Hub relays SignalBus messages to connected clients subscribed to the
// originating channel.
type Hub struct {
	bus      domain.SignalBus
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub. allowedOrigins mirrors the HTTP CORS list; an empty
// list accepts any origin.
func NewHub(bus domain.SignalBus, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		bus:     bus,
		clients: make(map[*client]struct{}),
		logger:  logger.With(slog.String("component", "ws_hub")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowedOrigins) == 0 ||
				slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// Run subscribes to every relayed channel and blocks until ctx is done, then
// disconnects all clients.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, ch := range Channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			h.logger.ErrorContext(ctx, "subscribe failed",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
			continue
		}
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			for data := range msgs {
				h.broadcast(channel, data)
			}
		}(ch)
	}

	<-ctx.Done()
	wg.Wait()

	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) broadcast(channel string, data []byte) {
	msg, err := json.Marshal(envelope{Type: "event", Channel: channel, Data: data})
	if err != nil {
		h.logger.Warn("drop malformed event", slog.String("channel", channel))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping message for slow client", slog.String("channel", channel))
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and subscribes the client to every channel.
// With since set to a stream ID ("0" for the start), entries of the durable
// orders stream after it are sent as replay frames before live events.
// GET /ws?since=1760572800000-0
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var backlog []domain.StreamMessage
	if since := r.URL.Query().Get("since"); since != "" {
		msgs, err := h.bus.StreamRead(r.Context(), domain.StreamOrders, since, replayLimit)
		if err != nil {
			h.logger.Warn("replay read failed",
				slog.String("since", since),
				slog.String("error", err.Error()),
			)
			http.Error(w, `{"error":"invalid_request","message":"Cannot replay from the given stream id"}`, http.StatusBadRequest)
			return
		}
		backlog = msgs
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(Channels)),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}
	if hello, err := json.Marshal(envelope{Type: "connected"}); err == nil {
		c.send <- hello
	}
	for _, m := range backlog {
		frame, err := json.Marshal(envelope{Type: "replay", Channel: domain.StreamOrders, ID: m.ID, Data: m.Payload})
		if err != nil {
			continue
		}
		c.send <- frame
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.Int("clients", total))

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("client disconnected", slog.Int("clients", total))
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		c.mu.Lock()
		for _, ch := range msg.Channels {
			switch msg.Action {
			case "subscribe":
				if slices.Contains(Channels, ch) {
					c.subs[ch] = true
				}
			case "unsubscribe":
				delete(c.subs, ch)
			}
		}
		c.mu.Unlock()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
