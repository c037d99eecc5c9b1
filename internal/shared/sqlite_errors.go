// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// IsSQLiteConflictError reports whether err is a SQLite concurrency error
// (SQLITE_BUSY or "database is locked") that warrants a retry.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// RetryOnConflict runs fn up to attempts times, backing off exponentially
// from baseDelay while fn fails with a SQLite conflict. Other errors are
// returned immediately.
func RetryOnConflict(ctx context.Context, op string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !IsSQLiteConflictError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i)
		slog.Debug("SQLite conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
