// Package live pushes store snapshots to browser views over WebSocket.
package live

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/skydesk/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Frame types.
const (
	FrameChat    = "chat"
	FrameTickets = "tickets"
)

const (
	frameBuffer  = 32
	writeTimeout = 5 * time.Second
)

// Frame is one pushed snapshot.
type Frame struct {
	Type     string `json:"type"`
	Snapshot any    `json:"snapshot"`
}

// Source delivers a user's snapshots. Subscribe must call fn with the current
// snapshot of every store before any later update, and fn must not block.
type Source interface {
	Subscribe(ctx context.Context, userID string, fn func(Frame)) (unsubscribe func(), err error)
}

// Hub tracks live connections per user and streams frames to them.
type Hub struct {
	source         Source
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger

	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewHub creates a hub streaming frames from source.
func NewHub(source Source, allowedOrigins []string, isDev bool, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		source:         source,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		logger:         logger,
		active:         make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Register adds a connection for a user.
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[*websocket.Conn]struct{})
	}
	h.active[userID][conn] = struct{}{}
	h.logger.Info("Live connection registered", "user_id", userID, "connections", len(h.active[userID]))
}

// Unregister removes a connection for a user.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[userID]
	if !ok {
		return
	}
	if _, exists := conns[conn]; !exists {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.active, userID)
	}
	h.logger.Info("Live connection unregistered", "user_id", userID)
}

// Count returns how many connections a user has.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}

// CloseUser terminates every connection of a user, e.g. when the user's
// workspace is evicted.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	conns := h.active[userID]
	delete(h.active, userID)
	h.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "workspace closed")
	}
	if len(conns) > 0 {
		h.logger.Info("Live connections closed", "user_id", userID, "count", len(conns))
	}
}

// ServeHTTP upgrades the request and streams frames until either side goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.Register(userID, ws)
	defer h.Unregister(userID, ws)

	// Views never send; CloseRead handles control frames and cancels ctx when
	// the peer disconnects.
	ctx := ws.CloseRead(r.Context())

	frames := make(chan Frame, frameBuffer)
	unsubscribe, err := h.source.Subscribe(ctx, userID, func(f Frame) { enqueue(frames, f) })
	if err != nil {
		h.logger.Warn("Live subscription failed", "error", err, "user_id", userID)
		_ = ws.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("Live stream ended", "user_id", userID)
			return
		case f := <-frames:
			if err := h.write(ctx, ws, f); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					h.logger.Warn("WebSocket write error", "error", err, "user_id", userID)
				}
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, ws *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, f)
}

// enqueue never blocks the caller. Frames carry whole snapshots, so when the
// buffer is full the oldest frame is dropped.
func enqueue(ch chan Frame, f Frame) {
	for {
		select {
		case ch <- f:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}
