// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	AnonCookieName   = "skydesk_anon_id"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
)

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// WithUser returns a context carrying userID, as the middleware does. Used by
// callers that establish identity without a request, such as the CLI.
func WithUser(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, usernameKey, DeriveUsername(userID))
}

// NewAnonID returns a fresh anonymous user ID.
func NewAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsValidAnonID reports whether id has the anonymous ID format.
func IsValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// DeriveUsername returns the display name of an anonymous user.
func DeriveUsername(userID string) string {
	if len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	return "anon-user"
}

func setAnonCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && IsValidAnonID(c.Value) {
		setAnonCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := NewAnonID()
	if err != nil {
		return "", err
	}
	setAnonCookie(w, id, isDev)
	return id, nil
}

// Middleware injects anonymous per-device identity. The cookie only partitions
// workspaces; it is not an authentication mechanism.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
