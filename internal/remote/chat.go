package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ashureev/skydesk/internal/domain"
)

// SendMessageRequest is the body of POST /chat/message.
type SendMessageRequest struct {
	Content  string          `json:"content"`
	Platform domain.Platform `json:"platform"`
	UserID   string          `json:"user_id"`
}

// SendMessageResult is the acknowledged message and the session it was
// recorded in.
type SendMessageResult struct {
	Message   domain.Message
	SessionID string
}

// SendMessage posts a chat message.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResult, error) {
	var msg domain.Message
	if err := c.do(ctx, http.MethodPost, c.endpoint("chat", "message"), req, &msg); err != nil {
		return nil, err
	}
	if msg.Content == "" {
		msg.Content = req.Content
	}
	return &SendMessageResult{Message: msg, SessionID: msg.SessionID}, nil
}

// GetHistory returns the ordered message history of a session.
func (c *Client) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, c.endpoint("chat", "history", sessionID), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		resp.Messages = []domain.Message{}
	}
	return resp.Messages, nil
}

// CloseSession ends a chat session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodPost, c.endpoint("chat", "session", sessionID, "close"), nil, nil); err != nil {
		return fmt.Errorf("close session %s: %w", sessionID, err)
	}
	return nil
}

// EscalateSession hands a chat session over to a human agent.
func (c *Client) EscalateSession(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodPost, c.endpoint("chat", "session", sessionID, "escalate"), nil, nil); err != nil {
		return fmt.Errorf("escalate session %s: %w", sessionID, err)
	}
	return nil
}
