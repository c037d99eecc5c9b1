// Package domain contains core domain types for the skydesk support client.
package domain

// Platform identifies the channel a chat session was opened from.
type Platform string

const (
	PlatformWeb      Platform = "web"
	PlatformMobile   Platform = "mobile"
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
)

// IsValid reports whether p is a known platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformWeb, PlatformMobile, PlatformWhatsApp, PlatformTelegram:
		return true
	}
	return false
}

// Session identifies a chat conversation. The ID is assigned by the server on
// the first successful send and never changes afterwards.
type Session struct {
	SessionID string   `json:"session_id"`
	Platform  Platform `json:"platform"`
}

// OperationState tracks the in-flight status of a store's commands.
// Error is nil when the last command succeeded or none has run yet.
type OperationState struct {
	Loading bool    `json:"loading"`
	Error   *string `json:"error"`
}

// ErrorText returns the error message or an empty string.
func (s OperationState) ErrorText() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
