package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/skydesk/internal/domain"
	"github.com/go-chi/chi/v5"
)

// ChatHandler handles chat endpoints.
type ChatHandler struct {
	*Handler
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(base *Handler) *ChatHandler {
	return &ChatHandler{Handler: base}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Clear)
		r.Post("/messages", h.SendMessage)
		r.Post("/history", h.FetchHistory)
		r.Post("/close", h.CloseSession)
		r.Post("/escalate", h.Escalate)
	})
}

// Get returns the current chat snapshot.
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, ws.Chat.Snapshot())
}

type sendMessageRequest struct {
	Content  string          `json:"content"`
	Platform domain.Platform `json:"platform"`
}

// SendMessage sends a chat message on behalf of the caller.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Platform == "" {
		req.Platform = ws.DefaultPlatform()
	}
	if !req.Platform.IsValid() {
		Error(w, http.StatusBadRequest, "unknown platform")
		return
	}

	hd := ws.Chat.SendMessage(ws.Context(), req.Content, req.Platform, ws.User().UserID)
	h.respondCommands(w, r, func() interface{} { return ws.Chat.Snapshot() }, hd)
}

type historyRequest struct {
	SessionID string `json:"session_id"`
}

// FetchHistory reloads the message list of a session, the current one by
// default.
func (h *ChatHandler) FetchHistory(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req historyRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = ws.Chat.Snapshot().SessionID()
	}
	if req.SessionID == "" {
		Error(w, http.StatusConflict, "no active chat session")
		return
	}

	hd := ws.Chat.FetchHistory(ws.Context(), req.SessionID)
	h.respondCommands(w, r, func() interface{} { return ws.Chat.Snapshot() }, hd)
}

// CloseSession ends the current chat session.
func (h *ChatHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	hd := ws.Chat.CloseSession(ws.Context())
	if hd == nil {
		Error(w, http.StatusConflict, "no active chat session")
		return
	}
	h.respondCommands(w, r, func() interface{} { return ws.Chat.Snapshot() }, hd)
}

// Escalate hands the current chat session to a human agent.
func (h *ChatHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	hd := ws.Chat.Escalate(ws.Context())
	if hd == nil {
		Error(w, http.StatusConflict, "no active chat session")
		return
	}
	h.respondCommands(w, r, func() interface{} { return ws.Chat.Snapshot() }, hd)
}

// Clear drops the local conversation without contacting the server.
func (h *ChatHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Chat.Clear(); err != nil {
		Error(w, http.StatusServiceUnavailable, "workspace closed")
		return
	}
	JSON(w, http.StatusOK, ws.Chat.Snapshot())
}
