package domain

import (
	"encoding/json"
	"time"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// Message is a single chat message. Insertion order is chronological order.
type Message struct {
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
}

// wireMessage accepts both the sender/timestamp shape and the server's
// role/created_at shape.
type wireMessage struct {
	Content   string    `json:"content"`
	Response  string    `json:"response"`
	Sender    string    `json:"sender"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	SessionID string    `json:"session_id"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	m.Content = w.Content
	m.Sender = normalizeSender(w.Sender, w.Role)
	if m.Content == "" && w.Response != "" {
		// Send acknowledgements may carry only the agent reply.
		m.Content = w.Response
		if w.Sender == "" && w.Role == "" {
			m.Sender = SenderAgent
		}
	}
	m.Timestamp = w.Timestamp
	if m.Timestamp.IsZero() {
		m.Timestamp = w.CreatedAt
	}
	m.SessionID = w.SessionID
	return nil
}

func normalizeSender(sender, role string) Sender {
	v := sender
	if v == "" {
		v = role
	}
	switch v {
	case "", "user":
		return SenderUser
	case "assistant", "agent", "bot":
		return SenderAgent
	default:
		return Sender(v)
	}
}

// CloneMessages returns a copy of msgs that is never nil.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
