package domain

import (
	"encoding/json"
	"time"
)

// TicketStatus is the server-side lifecycle state of a ticket. Values other
// than the known constants are preserved verbatim.
type TicketStatus string

const (
	TicketStatusActive    TicketStatus = "active"
	TicketStatusCancelled TicketStatus = "cancelled"
)

// Ticket is an airline ticket as mirrored from the server.
type Ticket struct {
	TicketNumber  string       `json:"ticket_number"`
	Status        TicketStatus `json:"status"`
	Airline       string       `json:"airline"`
	FlightNumber  string       `json:"flight_number"`
	DepartureDate time.Time    `json:"departure_date"`
	ArrivalDate   time.Time    `json:"arrival_date"`
	PassengerName string       `json:"passenger_name"`
	Price         float64      `json:"price"`
	Currency      string       `json:"currency"`
}

// UnmarshalJSON implements json.Unmarshaler. The server names the key
// "number" on some endpoints.
func (t *Ticket) UnmarshalJSON(data []byte) error {
	type plain Ticket
	var w struct {
		plain
		Number string `json:"number"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Ticket(w.plain)
	if t.TicketNumber == "" {
		t.TicketNumber = w.Number
	}
	return nil
}

// IsCancelled reports whether the ticket has been cancelled.
func (t *Ticket) IsCancelled() bool {
	return t.Status == TicketStatusCancelled
}

// RefundStatus is the processing state of a refund request.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusApproved  RefundStatus = "approved"
	RefundStatusRejected  RefundStatus = "rejected"
	RefundStatusProcessed RefundStatus = "processed"
)

// IsValid reports whether s is a known refund status.
func (s RefundStatus) IsValid() bool {
	switch s {
	case RefundStatusPending, RefundStatusApproved, RefundStatusRejected, RefundStatusProcessed:
		return true
	}
	return false
}

// RefundRequest describes the monetary reversal of a ticket cancellation.
type RefundRequest struct {
	TicketNumber string       `json:"ticket_number,omitempty"`
	Status       RefundStatus `json:"status"`
	Amount       float64      `json:"amount"`
	Currency     string       `json:"currency"`
	CreatedAt    time.Time    `json:"created_at"`
}

// TicketEvent is one entry of a ticket's audit history.
type TicketEvent struct {
	Action      string    `json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
