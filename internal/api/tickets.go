package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/skydesk/internal/dispatch"
	"github.com/ashureev/skydesk/internal/domain"
	"github.com/ashureev/skydesk/internal/workspace"
	"github.com/go-chi/chi/v5"
)

const defaultRecentLimit = 10

// TicketHandler handles ticket endpoints.
type TicketHandler struct {
	*Handler
}

// NewTicketHandler creates a new ticket handler.
func NewTicketHandler(base *Handler) *TicketHandler {
	return &TicketHandler{Handler: base}
}

// RegisterRoutes registers ticket routes.
func (h *TicketHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/tickets", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Clear)
		r.Post("/search", h.Search)
		r.Get("/lookup", h.Lookup)
		r.Get("/recent", h.Recent)
		r.Post("/{ticketNumber}/cancel", h.Cancel)
		r.Put("/{ticketNumber}/refund-status", h.UpdateRefundStatus)
		r.Post("/{ticketNumber}/history", h.FetchHistory)
	})
}

// Get returns the current ticket snapshot.
func (h *TicketHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, ws.Tickets.Snapshot())
}

type searchRequest struct {
	TicketNumber string `json:"ticket_number"`
}

// Search loads ticket details and refund status. Blank numbers issue nothing.
func (h *TicketHandler) Search(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req searchRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	handles := ws.Tickets.Search(ws.Context(), req.TicketNumber)
	h.respondTickets(w, r, ws, handles...)
}

// Lookup runs a free-text ticket search.
func (h *TicketHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	hd := ws.Tickets.Lookup(ws.Context(), r.URL.Query().Get("q"))
	h.respondTickets(w, r, ws, hd)
}

// Recent lists the tickets the caller looked up most recently.
func (h *TicketHandler) Recent(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	lookups, err := h.reg.RecentLookups(r.Context(), ws.User().UserID, limit)
	if err != nil {
		h.logger.Error("Failed to list recent lookups", "error", err, "user_id", ws.User().UserID)
		Error(w, http.StatusInternalServerError, "failed to list recent lookups")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"lookups": lookups})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel cancels a ticket. The reason is required here; the store itself
// forwards whatever it is given.
func (h *TicketHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		Error(w, http.StatusBadRequest, "reason is required")
		return
	}

	hd := ws.Tickets.Cancel(ws.Context(), chi.URLParam(r, "ticketNumber"), req.Reason)
	h.respondTickets(w, r, ws, hd)
}

type refundUpdateRequest struct {
	Status      domain.RefundStatus `json:"status"`
	ProcessedBy string              `json:"processed_by"`
}

// UpdateRefundStatus moves a refund request to a new status.
func (h *TicketHandler) UpdateRefundStatus(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req refundUpdateRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Status.IsValid() {
		Error(w, http.StatusBadRequest, "unknown refund status")
		return
	}
	if req.ProcessedBy == "" {
		req.ProcessedBy = ws.User().Username
	}

	hd := ws.Tickets.UpdateRefundStatus(ws.Context(), chi.URLParam(r, "ticketNumber"), req.Status, req.ProcessedBy)
	h.respondTickets(w, r, ws, hd)
}

// FetchHistory loads the audit history of a ticket.
func (h *TicketHandler) FetchHistory(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	hd := ws.Tickets.FetchHistory(ws.Context(), chi.URLParam(r, "ticketNumber"))
	h.respondTickets(w, r, ws, hd)
}

// Clear drops the held ticket, its refund and any search results.
func (h *TicketHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := ws.Tickets.Clear(); err != nil {
		Error(w, http.StatusServiceUnavailable, "workspace closed")
		return
	}
	JSON(w, http.StatusOK, ws.Tickets.Snapshot())
}

func (h *TicketHandler) respondTickets(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace, handles ...*dispatch.Handle) {
	h.respondCommands(w, r, func() interface{} { return ws.Tickets.Snapshot() }, handles...)
}
