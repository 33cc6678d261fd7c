// Package events pushes bot status transitions to connected UI clients over
// WebSocket. The backend exposes one endpoint; the gateway authenticates the
// user, proxies the upgrade, and passes the session's owned bots in the
// X-Waclerk-Bots header so the hub only emits events the user may see.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// BotsHeader carries the comma-separated bot ids a connection may observe.
// When the header is absent the connection is unrestricted (admin, or a
// direct internal client); present-but-empty means the user owns nothing.
const BotsHeader = "X-Waclerk-Bots"

// sendQueueSize bounds the per-client outbound buffer. A client that falls
// this far behind is dropped rather than allowed to stall the hub.
const sendQueueSize = 16

// writeTimeout bounds one WebSocket write.
const writeTimeout = 5 * time.Second

// Event is one status transition as pushed to clients.
type Event struct {
	BotID  string `json:"bot_id"`
	Status string `json:"status"`
	QR     string `json:"qr,omitempty"`
	TS     int64  `json:"ts"`
}

// client is one accepted WebSocket connection with its permission set and
// bounded send queue.
type client struct {
	id      string
	conn    *websocket.Conn
	allowed map[string]bool // nil = unrestricted
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
}

func (c *client) mayObserve(botID string) bool {
	if c.allowed == nil {
		return true
	}
	return c.allowed[botID]
}

// Hub fans status events out to every connected client.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger.With("component", "events"),
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the request and blocks until the client disconnects.
// Authentication happened at the gateway; the handler only reads the
// ownership header.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The backend binds to localhost and trusts the gateway, which has
		// already checked the session. Origin checks happen there too.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Warn("events.accept", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		allowed: parseBotsHeader(r.Header),
		send:    make(chan []byte, sendQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	if !h.register(c) {
		cancel()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.unregister(c)

	h.logger.Info("events.client_connected", "client_id", c.id,
		"restricted", c.allowed != nil)

	go h.writePump(c)

	// Inbound traffic is ignored; the read loop only detects close.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Publish broadcasts one event to every client allowed to observe its bot.
// Clients whose send queue is full are dropped; a UI that cannot keep up
// with status transitions must reconnect and re-read state over REST.
func (h *Hub) Publish(ev Event) {
	if ev.TS == 0 {
		ev.TS = time.Now().UnixMilli()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("events.marshal", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.mayObserve(ev.BotID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("events.client_too_slow", "client_id", c.id)
			h.drop(c, websocket.StatusPolicyViolation, "send queue overflow")
		}
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c, websocket.StatusGoingAway, "shutting down")
	}
}

// writePump drains the client's send queue onto the wire.
func (h *Hub) writePump(c *client) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.drop(c, websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// drop force-disconnects a client; its ServeHTTP read loop then unregisters.
func (h *Hub) drop(c *client, code websocket.StatusCode, reason string) {
	c.cancel()
	c.conn.Close(code, reason)
}

// parseBotsHeader reads the ownership filter. A missing header means
// unrestricted; a present header (even empty) restricts to the listed ids.
func parseBotsHeader(header http.Header) map[string]bool {
	values, present := header[http.CanonicalHeaderKey(BotsHeader)]
	if !present {
		return nil
	}
	allowed := make(map[string]bool)
	for _, v := range values {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				allowed[id] = true
			}
		}
	}
	return allowed
}
