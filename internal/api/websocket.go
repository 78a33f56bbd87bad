package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"license-gateway/internal/auth"
	"license-gateway/internal/events"
	"license-gateway/internal/license"
	"license-gateway/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Callers are authenticated with an admin credential before the upgrade
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient represents a WebSocket client
type WSClient struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *WSHub
	subject string
	types   map[license.EventType]bool // empty means every type
}

func (c *WSClient) wants(t license.EventType) bool {
	return len(c.types) == 0 || c.types[t]
}

type outbound struct {
	eventType license.EventType
	data      []byte
}

// WSHub fans audit events out to connected admin clients
type WSHub struct {
	bus        *events.EventBus
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	clients    map[*WSClient]bool
	broadcast  chan outbound
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub
func NewWSHub(bus *events.EventBus, m *metrics.Metrics, logger zerolog.Logger) *WSHub {
	return &WSHub{
		bus:        bus,
		metrics:    m,
		logger:     logger.With().Str("component", "event_stream").Logger(),
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan outbound, 4096),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run subscribes to the event bus and serves clients until ctx ends
func (h *WSHub) Run(ctx context.Context) {
	unsubscribe := h.bus.SubscribeAll(h.BroadcastEvent)
	defer unsubscribe()
	defer h.CloseAll()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.StreamClients.Inc()
			h.logger.Debug().Str("subject", client.subject).Msg("stream client connected")

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*WSClient
			for client := range h.clients {
				if !client.wants(msg.eventType) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				h.logger.Warn().Str("subject", client.subject).Msg("stream client too slow, disconnecting")
				h.remove(client)
			}
		}
	}
}

// remove drops a client and closes its send channel once
func (h *WSHub) remove(client *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.metrics.StreamClients.Dec()
	}
}

// CloseAll disconnects every client
func (h *WSHub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		h.metrics.StreamClients.Dec()
	}
}

// BroadcastEvent queues an event for every interested client
func (h *WSHub) BroadcastEvent(e license.AnalyticsEvent) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}

	select {
	case h.broadcast <- outbound{eventType: e.Type, data: data}:
	default:
		h.logger.Warn().Str("event_type", string(e.Type)).Msg("broadcast channel full, dropping message")
	}
}

// GetClientCount returns the number of connected clients
func (h *WSHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleStream upgrades the request and streams events. The optional
// event_type query parameter is a comma separated filter.
func (h *WSHub) HandleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &WSClient{
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		hub:   h,
		types: parseTypes(c.Query("event_type")),
	}
	if p := auth.GetPrincipal(c); p != nil {
		client.subject = p.Subject
	}

	select {
	case h.register <- client:
	case <-time.After(writeWait):
		h.logger.Warn().Msg("event stream hub not running, closing connection")
		conn.Close()
		return
	}

	go client.writePump()
	client.readPump()
}

func parseTypes(s string) map[license.EventType]bool {
	types := make(map[license.EventType]bool)
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[license.EventType(t)] = true
		}
	}
	return types
}

// writePump pumps messages from the hub to the websocket connection
func (c *WSClient) writePump() {
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
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug().Err(err).Msg("websocket write failed")
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

// readPump reads until the peer goes away; clients are not expected to send
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-time.After(time.Second):
			c.hub.remove(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}
