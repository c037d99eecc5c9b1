package domain

import (
	"time"
)

// SessionRecord is the persisted continuity state of a user's chat, used to
// resume the conversation after a restart.
type SessionRecord struct {
	UserID    string
	SessionID string
	Platform  Platform
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TicketLookup is a persisted record of a ticket number a user searched for.
type TicketLookup struct {
	UserID       string       `json:"-"`
	TicketNumber string       `json:"ticket_number"`
	Status       TicketStatus `json:"status,omitempty"`
	LookedUpAt   time.Time    `json:"looked_up_at"`
}
