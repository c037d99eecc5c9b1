// Package chat implements the chat store: the client-side view of one chat
// conversation, advanced by dispatcher events.
package chat

import (
	"context"
	"log/slog"

	"github.com/ashureev/skydesk/internal/dispatch"
	"github.com/ashureev/skydesk/internal/domain"
	"github.com/ashureev/skydesk/internal/remote"
)

// Fallback error texts, used when a failure carries no error field.
const (
	FallbackSend     = "Failed to send message"
	FallbackHistory  = "Failed to get chat history"
	FallbackClose    = "Failed to close chat session"
	FallbackEscalate = "Failed to escalate chat session"
)

// Remote is the subset of the support API the chat store calls.
type Remote interface {
	SendMessage(ctx context.Context, req remote.SendMessageRequest) (*remote.SendMessageResult, error)
	GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error)
	CloseSession(ctx context.Context, sessionID string) error
	EscalateSession(ctx context.Context, sessionID string) error
}

// Snapshot is an immutable view of the chat state.
type Snapshot struct {
	Messages       []domain.Message `json:"messages"`
	CurrentSession *string          `json:"current_session"`
	Platform       domain.Platform  `json:"platform,omitempty"`
	domain.OperationState
	Version uint64 `json:"version"`
}

// SessionID returns the current session ID or an empty string.
func (s Snapshot) SessionID() string {
	if s.CurrentSession == nil {
		return ""
	}
	return *s.CurrentSession
}

// Options tunes store behavior.
type Options struct {
	// DisableHistorySync stops the store from fetching history when the
	// current session changes.
	DisableHistorySync bool
}

// Store owns the chat slice of client state.
type Store struct {
	d      *dispatch.Dispatcher
	remote Remote
	opts   Options
	logger *slog.Logger

	// state is only touched on the dispatcher loop.
	state Snapshot
	pub   *dispatch.Publisher[Snapshot]
}

// NewStore creates a chat store with an empty conversation.
func NewStore(d *dispatch.Dispatcher, r Remote, opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	initial := Snapshot{Messages: []domain.Message{}}
	return &Store{
		d:      d,
		remote: r,
		opts:   opts,
		logger: logger,
		state:  initial,
		pub:    dispatch.NewPublisher(initial),
	}
}

// Snapshot returns the latest published snapshot.
func (s *Store) Snapshot() Snapshot {
	return s.pub.Load()
}

// Subscribe registers fn for every published snapshot. fn runs on the
// dispatcher loop and must not block.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	return s.pub.Subscribe(fn)
}

func (s *Store) publish() {
	s.state.Version++
	snap := s.state
	snap.Messages = domain.CloneMessages(s.state.Messages)
	s.pub.Publish(snap)
}

func (s *Store) begin() {
	s.state.Loading = true
	s.state.Error = nil
	s.publish()
}

func (s *Store) fail(ev dispatch.Event) {
	s.state.Loading = false
	s.state.Error = domain.StringPtr(ev.Error.Message)
	s.publish()
}

// SendMessage posts a message. On success the acknowledged message is
// appended and the session it belongs to becomes current.
func (s *Store) SendMessage(ctx context.Context, content string, platform domain.Platform, userID string) *dispatch.Handle {
	req := remote.SendMessageRequest{
		Content:  content,
		Platform: platform,
		UserID:   userID,
	}
	return s.d.Issue(ctx, dispatch.Command{
		Kind:     dispatch.KindSendMessage,
		Payload:  req,
		Fallback: FallbackSend,
		Call: func(ctx context.Context) (any, error) {
			return s.remote.SendMessage(ctx, req)
		},
		Reduce: func(ev dispatch.Event) { s.reduceSend(ctx, ev) },
	})
}

func (s *Store) reduceSend(ctx context.Context, ev dispatch.Event) {
	switch ev.Phase {
	case dispatch.PhaseRequested:
		s.begin()
	case dispatch.PhaseFailed:
		s.fail(ev)
	case dispatch.PhaseSucceeded:
		res, _ := ev.Result.(*remote.SendMessageResult)
		s.state.Loading = false
		if res == nil {
			s.publish()
			return
		}

		s.state.Messages = append(domain.CloneMessages(s.state.Messages), res.Message)
		if req, ok := ev.Payload.(remote.SendMessageRequest); ok && req.Platform != "" {
			s.state.Platform = req.Platform
		}
		changed := false
		if res.SessionID != "" && s.state.SessionID() != res.SessionID {
			s.state.CurrentSession = domain.StringPtr(res.SessionID)
			changed = true
		}
		s.publish()

		if changed {
			s.syncHistory(ctx, res.SessionID)
		}
	}
}

// FetchHistory replaces the message list with the server's history of
// sessionID.
func (s *Store) FetchHistory(ctx context.Context, sessionID string) *dispatch.Handle {
	return s.d.Issue(ctx, dispatch.Command{
		Kind:     dispatch.KindGetHistory,
		Payload:  sessionID,
		Fallback: FallbackHistory,
		Call: func(ctx context.Context) (any, error) {
			return s.remote.GetHistory(ctx, sessionID)
		},
		Reduce: s.reduceHistory,
	})
}

func (s *Store) reduceHistory(ev dispatch.Event) {
	switch ev.Phase {
	case dispatch.PhaseRequested:
		s.begin()
	case dispatch.PhaseFailed:
		s.fail(ev)
	case dispatch.PhaseSucceeded:
		msgs, _ := ev.Result.([]domain.Message)
		s.state.Loading = false
		s.state.Messages = domain.CloneMessages(msgs)
		s.publish()
	}
}

func (s *Store) syncHistory(ctx context.Context, sessionID string) *dispatch.Handle {
	if s.opts.DisableHistorySync {
		return nil
	}
	s.logger.Debug("syncing chat history", "session_id", sessionID)
	return s.FetchHistory(ctx, sessionID)
}

// Resume makes sessionID current, as when restoring a persisted
// conversation, and fetches its history. It returns nil when sessionID is
// already current or history sync is disabled.
func (s *Store) Resume(ctx context.Context, sessionID string, platform domain.Platform) (*dispatch.Handle, error) {
	var h *dispatch.Handle
	err := s.d.Loop().Do(func() {
		if sessionID == "" || s.state.SessionID() == sessionID {
			return
		}
		s.state.CurrentSession = domain.StringPtr(sessionID)
		if platform != "" {
			s.state.Platform = platform
		}
		s.publish()
		h = s.syncHistory(ctx, sessionID)
	})
	return h, err
}

// CloseSession ends the current session on the server and, on success,
// clears the conversation. It is a no-op without a current session.
func (s *Store) CloseSession(ctx context.Context) *dispatch.Handle {
	sessionID := s.Snapshot().SessionID()
	if sessionID == "" {
		return nil
	}
	return s.d.Issue(ctx, dispatch.Command{
		Kind:     dispatch.KindCloseSession,
		Payload:  sessionID,
		Fallback: FallbackClose,
		Call: func(ctx context.Context) (any, error) {
			return nil, s.remote.CloseSession(ctx, sessionID)
		},
		Reduce: func(ev dispatch.Event) {
			switch ev.Phase {
			case dispatch.PhaseRequested:
				s.begin()
			case dispatch.PhaseFailed:
				s.fail(ev)
			case dispatch.PhaseSucceeded:
				s.state.Loading = false
				if s.state.SessionID() == sessionID {
					s.resetConversation()
				}
				s.publish()
			}
		},
	})
}

// Escalate asks the server to hand the current session to a human agent.
// It is a no-op without a current session.
func (s *Store) Escalate(ctx context.Context) *dispatch.Handle {
	sessionID := s.Snapshot().SessionID()
	if sessionID == "" {
		return nil
	}
	return s.d.Issue(ctx, dispatch.Command{
		Kind:     dispatch.KindEscalateSession,
		Payload:  sessionID,
		Fallback: FallbackEscalate,
		Call: func(ctx context.Context) (any, error) {
			return nil, s.remote.EscalateSession(ctx, sessionID)
		},
		Reduce: func(ev dispatch.Event) {
			switch ev.Phase {
			case dispatch.PhaseRequested:
				s.begin()
			case dispatch.PhaseFailed:
				s.fail(ev)
			case dispatch.PhaseSucceeded:
				// The conversation is unchanged; the server reports the
				// hand-over through the message history.
				s.state.Loading = false
				s.publish()
			}
		},
	})
}

func (s *Store) resetConversation() {
	s.state.Messages = []domain.Message{}
	s.state.CurrentSession = nil
	s.state.Error = nil
}

// Clear drops the conversation and the current session. Clearing an already
// empty store publishes nothing.
func (s *Store) Clear() error {
	return s.d.Loop().Do(func() {
		if len(s.state.Messages) == 0 && s.state.CurrentSession == nil && s.state.Error == nil {
			return
		}
		s.resetConversation()
		s.publish()
	})
}
