// Package workspace owns the per-identity client state: one dispatch loop,
// one dispatcher and one chat and ticket store for every user of the bridge.
package workspace

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ashureev/skydesk/internal/chat"
	"github.com/ashureev/skydesk/internal/dispatch"
	"github.com/ashureev/skydesk/internal/domain"
	"github.com/ashureev/skydesk/internal/identity"
	"github.com/ashureev/skydesk/internal/store"
	"github.com/ashureev/skydesk/internal/ticket"
)

// drainTimeout bounds how long Close waits for in-flight commands.
const drainTimeout = 10 * time.Second

// Remote is the support API surface both stores call.
type Remote interface {
	chat.Remote
	ticket.Remote
}

// Workspace is the client state of one user.
type Workspace struct {
	user     domain.User
	loop     *dispatch.Loop
	d        *dispatch.Dispatcher
	Chat     *chat.Store
	Tickets  *ticket.Store
	platform domain.Platform

	// ctx outlives requests so commands issued from a handler keep running
	// after the response is written.
	ctx    context.Context
	cancel context.CancelFunc

	lastSeen atomic.Int64
	pins     atomic.Int32
	closed   atomic.Bool

	w      *writer
	logger *slog.Logger
}

func newWorkspace(userID string, r Remote, repo store.Repository, opts Options, logger *slog.Logger) *Workspace {
	logger = logger.With("user_id", userID)
	loop := dispatch.NewLoop(logger)
	d := dispatch.New(loop, logger)
	ctx, cancel := context.WithCancel(context.Background())

	ws := &Workspace{
		user: domain.User{
			UserID:   userID,
			Username: identity.DeriveUsername(userID),
		},
		loop:     loop,
		d:        d,
		Chat:     chat.NewStore(d, r, opts.Chat, logger),
		Tickets:  ticket.NewStore(d, r, logger),
		platform: opts.DefaultPlatform,
		ctx:      ctx,
		cancel:   cancel,
		w:        newWriter(logger),
		logger:   logger,
	}
	ws.touch()
	ws.persistSessions(repo)
	ws.recordLookups(repo)
	return ws
}

// Context returns the long-lived context commands should be issued with.
func (w *Workspace) Context() context.Context {
	return w.ctx
}

// User returns the identity this workspace acts for.
func (w *Workspace) User() domain.User {
	u := w.user
	u.LastSeenAt = time.Unix(0, w.lastSeen.Load())
	return u
}

// DefaultPlatform is used for messages sent without an explicit platform.
func (w *Workspace) DefaultPlatform() domain.Platform {
	return w.platform
}

// Dispatcher returns the dispatcher both stores issue commands through.
func (w *Workspace) Dispatcher() *dispatch.Dispatcher {
	return w.d
}

// Sync waits until every event posted so far has been applied.
func (w *Workspace) Sync() error {
	return w.loop.Sync()
}

func (w *Workspace) touch() {
	w.lastSeen.Store(time.Now().UnixNano())
}

func (w *Workspace) pin()   { w.pins.Add(1) }
func (w *Workspace) unpin() { w.pins.Add(-1) }

// pinned reports whether a live stream is attached.
func (w *Workspace) pinned() bool {
	return w.pins.Load() > 0
}

// persistSessions mirrors the current chat session into the repository so a
// restarted bridge can resume the conversation.
func (w *Workspace) persistSessions(repo store.Repository) {
	if repo == nil {
		return
	}
	userID := w.user.UserID
	var persisted string // loop-only
	w.Chat.Subscribe(func(s chat.Snapshot) {
		sid := s.SessionID()
		if sid == persisted {
			return
		}
		persisted = sid
		if sid == "" {
			w.w.submit("delete chat session", func(ctx context.Context) error {
				err := repo.DeleteSession(ctx, userID)
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			})
			return
		}
		rec := &domain.SessionRecord{UserID: userID, SessionID: sid, Platform: s.Platform}
		w.w.submit("upsert chat session", func(ctx context.Context) error {
			return repo.UpsertSession(ctx, rec)
		})
	})
}

// recordLookups keeps the user's recently viewed tickets.
func (w *Workspace) recordLookups(repo store.Repository) {
	if repo == nil {
		return
	}
	userID := w.user.UserID
	w.d.Observe(func(ev dispatch.Event) {
		if ev.Phase != dispatch.PhaseSucceeded {
			return
		}
		var lookup *domain.TicketLookup
		switch ev.Kind {
		case dispatch.KindGetTicketDetails:
			t, ok := ev.Result.(*domain.Ticket)
			number, _ := ev.Payload.(string)
			if ok && t != nil && t.TicketNumber != "" {
				number = t.TicketNumber
			}
			if number == "" {
				return
			}
			lookup = &domain.TicketLookup{UserID: userID, TicketNumber: number, LookedUpAt: ev.At}
			if t != nil {
				lookup.Status = t.Status
			}
		case dispatch.KindCancelTicket:
			req, ok := ev.Payload.(ticket.CancelRequest)
			if !ok {
				return
			}
			lookup = &domain.TicketLookup{
				UserID:       userID,
				TicketNumber: req.TicketNumber,
				Status:       domain.TicketStatusCancelled,
				LookedUpAt:   ev.At,
			}
		default:
			return
		}
		w.w.submit("record ticket lookup", func(ctx context.Context) error {
			return repo.RecordLookup(ctx, lookup)
		})
	})
}

// resume restores a persisted conversation, if any.
func (w *Workspace) resume(ctx context.Context, repo store.Repository) {
	if repo == nil {
		return
	}
	rec, err := repo.GetSession(ctx, w.user.UserID)
	if err != nil {
		w.logger.Warn("Failed to load persisted chat session", "error", err)
		return
	}
	if rec == nil {
		return
	}
	if _, err := w.Chat.Resume(w.ctx, rec.SessionID, rec.Platform); err != nil {
		w.logger.Warn("Failed to resume chat session", "error", err, "session_id", rec.SessionID)
		return
	}
	w.logger.Info("Chat session resumed", "session_id", rec.SessionID)
}

// Close waits for in-flight commands, stops the loop and flushes pending
// writes. Calls after the first are no-ops.
func (w *Workspace) Close(ctx context.Context) {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	if err := w.d.Drain(drainCtx); err != nil {
		w.logger.Warn("Workspace closed with commands in flight", "error", err)
	}
	w.cancel()
	w.loop.Close()
	w.w.close()
}
