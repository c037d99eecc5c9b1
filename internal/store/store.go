// Package store provides persistence of client state that must survive a
// restart: chat session continuity and recent ticket lookups.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/skydesk/internal/domain"
)

// ErrNotFound is returned when a record to modify does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for persisting client state.
type Repository interface {
	// GetSession returns the persisted chat session of a user, or nil if none.
	GetSession(ctx context.Context, userID string) (*domain.SessionRecord, error)

	// UpsertSession creates or updates the chat session of a user.
	UpsertSession(ctx context.Context, rec *domain.SessionRecord) error

	// DeleteSession removes the chat session of a user. It returns
	// ErrNotFound when the user has none.
	DeleteSession(ctx context.Context, userID string) error

	// RecordLookup stores a ticket number the user looked up. Repeated lookups
	// of the same ticket refresh the existing entry.
	RecordLookup(ctx context.Context, lookup *domain.TicketLookup) error

	// RecentLookups returns a user's most recent lookups, newest first.
	RecentLookups(ctx context.Context, userID string, limit int) ([]domain.TicketLookup, error)

	// CleanupExpiredSessions removes sessions not updated within ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
