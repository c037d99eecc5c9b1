// Package api provides the HTTP handlers of the bridge server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/skydesk/internal/dispatch"
	"github.com/ashureev/skydesk/internal/identity"
	"github.com/ashureev/skydesk/internal/store"
	"github.com/ashureev/skydesk/internal/workspace"
	"github.com/go-chi/chi/v5"
)

const (
	defaultWaitTimeout = 30 * time.Second
	maxRequestBodySize = 64 << 10
)

// Handler provides common handler utilities.
type Handler struct {
	reg         *workspace.Registry
	waitTimeout time.Duration
	logger      *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(reg *workspace.Registry, waitTimeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}
	return &Handler{reg: reg, waitTimeout: waitTimeout, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON request body into v. An empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// workspace resolves the caller's workspace, writing an error response when
// it cannot.
func (h *Handler) workspace(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	ws, err := h.reg.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, workspace.ErrClosed) {
			Error(w, http.StatusServiceUnavailable, "server shutting down")
			return nil, false
		}
		h.logger.Error("Failed to get workspace", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to open workspace")
		return nil, false
	}
	return ws, true
}

// commandResponse reports issued commands. Snapshot is set when the caller
// asked to wait.
type commandResponse struct {
	CommandIDs []string    `json:"command_ids"`
	Snapshot   interface{} `json:"snapshot,omitempty"`
}

// respondCommands answers a command request. Without ?wait=true it returns
// 202 immediately; with it, it waits for every command to be reduced and
// returns the resulting snapshot.
func (h *Handler) respondCommands(w http.ResponseWriter, r *http.Request, snapshot func() interface{}, handles ...*dispatch.Handle) {
	resp := commandResponse{CommandIDs: make([]string, 0, len(handles))}
	for _, hd := range handles {
		if hd != nil {
			resp.CommandIDs = append(resp.CommandIDs, hd.ID.String())
		}
	}

	if !wantWait(r) {
		JSON(w, http.StatusAccepted, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()
	status := http.StatusOK
	if err := dispatch.WaitAll(ctx, handles...); err != nil {
		// Commands keep running; report what is known so far.
		status = http.StatusAccepted
	}
	resp.Snapshot = snapshot()
	JSON(w, status, resp)
}

func wantWait(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("wait"))
	return err == nil && v
}

// Mount registers every bridge API route on r.
func Mount(r chi.Router, base *Handler, repo store.Repository, ttl time.Duration) {
	NewIdentityHandler(base, repo, ttl).RegisterRoutes(r)
	NewChatHandler(base).RegisterRoutes(r)
	NewTicketHandler(base).RegisterRoutes(r)
}
