package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"geminilegion/backend/internal/events"
	"geminilegion/backend/internal/observability"
)

// Frame is the wire envelope for every event pushed to browser clients.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub fans engine events out to connected websocket clients. Slow clients
// get disconnected rather than backpressuring the turn pipeline.
type Hub struct {
	upgrader     websocket.Upgrader
	logger       *observability.Logger
	metrics      *observability.Metrics
	writeTimeout time.Duration
	pingInterval time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(bus *events.Bus, logger *observability.Logger, metrics *observability.Metrics, allowedOrigins []string, writeTimeout, pingInterval time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	origins := map[string]struct{}{}
	for _, origin := range allowedOrigins {
		origins[origin] = struct{}{}
	}

	h := &Hub{
		logger:       logger,
		metrics:      metrics,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		clients:      map[*client]struct{}{},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(origins) == 0 {
				return true
			}
			_, allowed := origins[origin]
			return allowed
		},
	}
	bus.Subscribe(h.broadcast)
	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws_upgrade_failed", observability.Fields{"error": err.Error()})
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWSClients(count)
	h.logger.Info("ws_client_connected", observability.Fields{"clients": count})

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, exists := h.clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	_ = c.conn.Close()
	h.metrics.SetWSClients(count)
	h.logger.Info("ws_client_disconnected", observability.Fields{"clients": count})
}

// readPump only services control frames; the gateway is push-only.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.pingInterval * 2))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pingInterval * 2))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		h.drop(c)
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) broadcast(ev events.Event) {
	payload, err := json.Marshal(Frame{Type: ev.EventName(), Payload: ev})
	if err != nil {
		h.logger.Error("ws_marshal_failed", observability.Fields{"event": ev.EventName(), "error": err.Error()})
		return
	}

	// Sends happen under the lock so a concurrent drop cannot close a
	// channel mid-send. The per-client select never blocks.
	var stalled []*client
	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.Unlock()

	// A full send buffer means the client cannot keep up; cut it loose.
	for _, c := range stalled {
		h.drop(c)
	}
}

// ClientCount is exposed for health reporting and tests.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
