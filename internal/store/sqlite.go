package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/skydesk/internal/domain"
	"github.com/ashureev/skydesk/internal/shared"
	_ "modernc.org/sqlite"
)

// maxLookupsPerUser bounds how many lookups are kept per user.
const maxLookupsPerUser = 50

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // Serializes session writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_sessions (
		user_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS ticket_lookups (
		user_id TEXT NOT NULL,
		ticket_number TEXT NOT NULL,
		status TEXT,
		looked_up_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, ticket_number)
	);
	CREATE INDEX IF NOT EXISTS idx_ticket_lookups_recent ON ticket_lookups(user_id, looked_up_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves the persisted chat session of a user.
func (s *SQLiteStore) GetSession(ctx context.Context, userID string) (*domain.SessionRecord, error) {
	query := `
		SELECT user_id, session_id, platform, created_at, updated_at
		FROM chat_sessions WHERE user_id = ?`

	var rec domain.SessionRecord
	var platform string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID, &rec.SessionID, &platform, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session: %w", err)
	}

	rec.Platform = domain.Platform(platform)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

// UpsertSession creates or updates the chat session of a user.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	query := `
		INSERT INTO chat_sessions (user_id, session_id, platform, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			session_id = excluded.session_id,
			platform = excluded.platform,
			updated_at = excluded.updated_at`

	now := time.Now()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return shared.RetryOnConflict(ctx, "upsert chat session", 3, 50*time.Millisecond, func() error {
		if _, err := s.db.ExecContext(ctx, query,
			rec.UserID, rec.SessionID, string(rec.Platform),
			createdAt.Unix(), now.Unix(),
		); err != nil {
			return fmt.Errorf("upsert chat session: %w", err)
		}
		return nil
	})
}

// DeleteSession removes the chat session of a user.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	var affected int64
	err := shared.RetryOnConflict(ctx, "delete chat session", 3, 100*time.Millisecond, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE user_id = ?`, userID)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete chat session for %s: %w", userID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordLookup stores a ticket lookup and trims the user's history.
func (s *SQLiteStore) RecordLookup(ctx context.Context, lookup *domain.TicketLookup) error {
	lookedUpAt := lookup.LookedUpAt
	if lookedUpAt.IsZero() {
		lookedUpAt = time.Now()
	}

	var status interface{}
	if lookup.Status != "" {
		status = string(lookup.Status)
	}

	query := `
		INSERT INTO ticket_lookups (user_id, ticket_number, status, looked_up_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, ticket_number) DO UPDATE SET
			status = COALESCE(excluded.status, ticket_lookups.status),
			looked_up_at = excluded.looked_up_at`

	return shared.RetryOnConflict(ctx, "record ticket lookup", 3, 50*time.Millisecond, func() error {
		if _, err := s.db.ExecContext(ctx, query,
			lookup.UserID, lookup.TicketNumber, status, lookedUpAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("record ticket lookup: %w", err)
		}

		trim := `
			DELETE FROM ticket_lookups
			WHERE user_id = ? AND ticket_number NOT IN (
				SELECT ticket_number FROM ticket_lookups
				WHERE user_id = ?
				ORDER BY looked_up_at DESC
				LIMIT ?
			)`
		if _, err := s.db.ExecContext(ctx, trim, lookup.UserID, lookup.UserID, maxLookupsPerUser); err != nil {
			return fmt.Errorf("trim ticket lookups: %w", err)
		}
		return nil
	})
}

// RecentLookups returns a user's most recent lookups, newest first.
func (s *SQLiteStore) RecentLookups(ctx context.Context, userID string, limit int) ([]domain.TicketLookup, error) {
	if limit <= 0 || limit > maxLookupsPerUser {
		limit = maxLookupsPerUser
	}

	query := `
		SELECT user_id, ticket_number, status, looked_up_at
		FROM ticket_lookups
		WHERE user_id = ?
		ORDER BY looked_up_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ticket lookups: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close ticket lookup rows", "error", closeErr)
		}
	}()

	var lookups []domain.TicketLookup
	for rows.Next() {
		var l domain.TicketLookup
		var status sql.NullString
		var lookedUpAt int64
		if err := rows.Scan(&l.UserID, &l.TicketNumber, &status, &lookedUpAt); err != nil {
			return nil, fmt.Errorf("scan ticket lookup row: %w", err)
		}
		l.Status = domain.TicketStatus(status.String)
		l.LookedUpAt = time.Unix(0, lookedUpAt)
		lookups = append(lookups, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticket lookups: %w", err)
	}

	return lookups, nil
}

// CleanupExpiredSessions removes sessions not updated within ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}
