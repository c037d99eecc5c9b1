package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ashureev/skydesk/internal/domain"
)

// CancelResult is the part of the cancel response the client consumes.
type CancelResult struct {
	Status domain.TicketStatus `json:"status"`
}

// GetTicket fetches ticket details by ticket number.
func (c *Client) GetTicket(ctx context.Context, ticketNumber string) (*domain.Ticket, error) {
	var resp struct {
		Ticket *domain.Ticket `json:"ticket"`
	}
	if err := c.do(ctx, http.MethodGet, c.endpoint("tickets", ticketNumber), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Ticket, nil
}

// CancelTicket requests cancellation of a ticket.
func (c *Client) CancelTicket(ctx context.Context, ticketNumber, reason string) (*CancelResult, error) {
	body := map[string]string{"reason": reason}
	var resp CancelResult
	if err := c.do(ctx, http.MethodPost, c.endpoint("tickets", ticketNumber, "cancel"), body, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "" {
		resp.Status = domain.TicketStatusCancelled
	}
	return &resp, nil
}

// GetRefundStatus fetches the refund request attached to a ticket.
func (c *Client) GetRefundStatus(ctx context.Context, ticketNumber string) (*domain.RefundRequest, error) {
	var resp struct {
		RefundRequest *domain.RefundRequest `json:"refund_request"`
	}
	if err := c.do(ctx, http.MethodGet, c.endpoint("tickets", ticketNumber, "refund-status"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.RefundRequest, nil
}

// UpdateRefundStatus moves a refund request to a new status.
func (c *Client) UpdateRefundStatus(ctx context.Context, ticketNumber string, status domain.RefundStatus, processedBy string) (*domain.RefundRequest, error) {
	body := map[string]string{
		"status":       string(status),
		"processed_by": processedBy,
	}
	var resp struct {
		RefundRequest *domain.RefundRequest `json:"refund_request"`
	}
	if err := c.do(ctx, http.MethodPut, c.endpoint("tickets", ticketNumber, "refund-status"), body, &resp); err != nil {
		return nil, err
	}
	return resp.RefundRequest, nil
}

// SearchTickets returns tickets matching a free-text query.
func (c *Client) SearchTickets(ctx context.Context, query string) ([]domain.Ticket, error) {
	u := c.endpoint("tickets", "search")
	u.RawQuery = url.Values{"q": {query}}.Encode()

	var resp struct {
		Tickets []domain.Ticket `json:"tickets"`
	}
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tickets, nil
}

// GetTicketHistory returns a ticket's audit history.
func (c *Client) GetTicketHistory(ctx context.Context, ticketNumber string) ([]domain.TicketEvent, error) {
	var resp struct {
		History []domain.TicketEvent `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, c.endpoint("tickets", ticketNumber, "history"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.History, nil
}
