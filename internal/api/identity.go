package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ashureev/skydesk/internal/store"
	"github.com/go-chi/chi/v5"
)

// IdentityHandler serves caller identity and readiness.
type IdentityHandler struct {
	*Handler
	repo store.Repository
	ttl  time.Duration
}

// NewIdentityHandler creates a new identity handler. repo may be nil.
func NewIdentityHandler(base *Handler, repo store.Repository, ttl time.Duration) *IdentityHandler {
	return &IdentityHandler{Handler: base, repo: repo, ttl: ttl}
}

// RegisterRoutes registers identity and readiness routes.
func (h *IdentityHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ready", h.Ready)
	r.Get("/api/me", h.GetMe)
}

// GetMe returns the current user's information.
func (h *IdentityHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	u := ws.User()
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":          u.UserID,
		"username":         u.Username,
		"default_platform": ws.DefaultPlatform(),
		"session_id":       ws.Chat.Snapshot().SessionID(),
		"workspace_ttl":    int64(h.ttl.Seconds()),
	})
}

// Ready reports whether the bridge can serve requests.
func (h *IdentityHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.repo.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", "error", err)
			Error(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ready",
		"workspaces": h.reg.Len(),
	})
}
