package domain

import (
	"time"
)

// User is the identity a workspace acts on behalf of. The ID is forwarded as
// user_id when sending chat messages.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Role       string    `json:"role,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// IsAgent reports whether the user acts as a support agent rather than a
// passenger.
func (u *User) IsAgent() bool {
	return u.Role == "agent" || u.Role == "admin"
}

// IdleFor returns how long the user has been inactive as of now.
func (u *User) IdleFor(now time.Time) time.Duration {
	if u.LastSeenAt.IsZero() {
		return 0
	}
	d := now.Sub(u.LastSeenAt)
	if d < 0 {
		return 0
	}
	return d
}
