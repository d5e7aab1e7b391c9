package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/miradorstack/outage-watch/internal/models"
)

const (
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
)

// Event names sent to WebSocket clients.
const (
	EventConnectionEstablished = "connection_established"
	EventSubscribed            = "subscribed"
	EventOutageUpdate          = "outage_update"
)

// HubOptions tune client connections.
type HubOptions struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

// Hub maintains the set of connected WebSocket clients and broadcasts change
// batches to them.
type Hub struct {
	opts     HubOptions
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub constructs a hub. Mount it as the handler for the WebSocket route.
func NewHub(opts HubOptions, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= pongWait {
		opts.PingInterval = (pongWait * 9) / 10
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	h := &Hub{
		opts:    opts,
		logger:  logger.With(slog.String("component", "websocket_hub")),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) Name() string { return "websocket" }

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
	}
	if !h.register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	c.enqueue(encode(map[string]any{"event": EventConnectionEstablished, "data": map[string]string{"client_id": c.id}}))

	go c.writePump()
	go c.readPump()
}

// Notify broadcasts the batch to every connected client. Slow clients whose
// buffer is full are dropped.
func (h *Hub) Notify(_ context.Context, changes []models.ChangeEvent, _ string) error {
	if len(changes) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		h.logger.Debug("no connected clients to broadcast to")
		return nil
	}

	msg := encode(map[string]any{
		"event":   EventOutageUpdate,
		"changes": changes,
		"count":   len(changes),
	})
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("websocket client buffer full, removing", slog.String("client", c.id))
			h.removeLocked(c)
		}
	}
	h.logger.Info("broadcast changes", slog.Int("changes", len(changes)), slog.Int("clients", len(h.clients)))
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
	h.logger.Info("websocket hub closed")
	return nil
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("client connected", slog.String("client", c.id), slog.String("remote", c.conn.RemoteAddr().String()))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.removeLocked(c)
		h.logger.Info("client disconnected", slog.String("client", c.id))
	}
}

// removeLocked expects h.mu to be held. Closing send stops the write pump.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"event":"error"}`)
	}
	return data
}
