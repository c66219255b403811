package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

type connection struct {
	conn   *websocket.Conn
	userID string
	// gorilla allows one concurrent writer per connection
	writeMu sync.Mutex
}

func (c *connection) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *connection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Hub keeps the open websocket connections of each user.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*connection]struct{}
	upgrader    websocket.Upgrader
}

func NewHub(allowedOrigins []string) *Hub {
	origins := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		origins[origin] = struct{}{}
	}

	return &Hub{
		connections: make(map[string]map[*connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowAll {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

func (h *Hub) add(userID string, conn *websocket.Conn) *connection {
	c := &connection{conn: conn, userID: userID}

	h.mu.Lock()
	if _, ok := h.connections[userID]; !ok {
		h.connections[userID] = make(map[*connection]struct{})
	}
	h.connections[userID][c] = struct{}{}
	total := len(h.connections[userID])
	h.mu.Unlock()

	zap.L().Debug("Websocket connected", zap.String("user_id", userID), zap.Int("connections", total))
	return c
}

func (h *Hub) remove(c *connection) {
	h.mu.Lock()
	if conns, ok := h.connections[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.connections, c.userID)
		}
	}
	h.mu.Unlock()

	_ = c.conn.Close()
	zap.L().Debug("Websocket disconnected", zap.String("user_id", c.userID))
}

func (h *Hub) snapshot(userID string) []*connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*connection, 0, len(h.connections[userID]))
	for c := range h.connections[userID] {
		conns = append(conns, c)
	}
	return conns
}

// Connected returns the number of open connections for userID.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}

// Close sends a close frame to every client and drops all connections.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*connection
	for _, conns := range h.connections {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.connections = make(map[string]map[*connection]struct{})
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range all {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
}

func (h *Hub) Notify(_ context.Context, userID string, event Event) error {
	for _, c := range h.snapshot(userID) {
		if err := c.writeJSON(event); err != nil {
			zap.L().Warn("Websocket send failed", zap.String("user_id", userID), zap.Error(err))
			h.remove(c)
		}
	}
	return nil
}

// ServeWS upgrades the request and holds the connection until the client
// goes away. The caller has already authenticated userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("Websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	c := h.add(userID, conn)
	defer h.remove(c)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
