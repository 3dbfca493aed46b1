// ABOUTME: WebSocket accept handler: authenticates, upgrades, registers connections
// ABOUTME: The read loop exists only to detect disconnects; all writes come from the registry

package ws

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/reloapp/relo-server/internal/auth"
	"github.com/reloapp/relo-server/internal/registry"
)

// Handler accepts WebSocket connections on /ws, verifies the caller's bearer
// token, and keeps the connection registered for the duration of its life.
type Handler struct {
	verifier     auth.TokenVerifier
	registry     *registry.Registry
	logger       *slog.Logger
	pingInterval time.Duration
	writeTimeout time.Duration

	upgrader websocket.Upgrader
}

// New creates a Handler. Pass nil logger for default.
func New(verifier auth.TokenVerifier, reg *registry.Registry, pingInterval, writeTimeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifier:     verifier,
		registry:     reg,
		logger:       logger.With("component", "ws"),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Token auth, not cookie auth, so cross-origin upgrades are fine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates, upgrades, and blocks until the connection dies.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticate(r)
	if err != nil {
		h.logger.Debug("rejected connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	connID := uuid.NewString()
	handle := newConnHandle(conn, h.writeTimeout)
	h.registry.Register(userID, connID, handle)
	h.logger.Info("connection open", "user_id", userID, "conn_id", connID)

	defer func() {
		h.registry.Unregister(userID, connID)
		_ = handle.Close()
		h.logger.Info("connection closed", "user_id", userID, "conn_id", connID)
	}()

	done := make(chan struct{})
	defer close(done)
	go h.pingLoop(handle, done)

	// Clients never speak on this channel; the read loop only notices the
	// close frame or a dead TCP connection.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout()))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// authenticate extracts the bearer token from the Authorization header or the
// token query parameter and resolves it to a user id.
func (h *Handler) authenticate(r *http.Request) (string, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return "", auth.ErrInvalidToken
	}
	return h.verifier.Verify(token)
}

func (h *Handler) readTimeout() time.Duration {
	// Two missed pings end the connection.
	return 2*h.pingInterval + h.writeTimeout
}

func (h *Handler) pingLoop(handle *connHandle, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := handle.WritePing(); err != nil {
				return
			}
		}
	}
}

// connHandle adapts a gorilla connection to registry.Handle. Gorilla permits
// one concurrent writer, so every write serializes through mu.
type connHandle struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newConnHandle(conn *websocket.Conn, writeTimeout time.Duration) *connHandle {
	return &connHandle{conn: conn, writeTimeout: writeTimeout}
}

// WriteMessage sends one text frame under the write deadline.
func (c *connHandle) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WritePing sends a ping control frame under the write deadline.
func (c *connHandle) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close sends a close frame best-effort and tears the connection down.
func (c *connHandle) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
