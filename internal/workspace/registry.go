package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/skydesk/internal/chat"
	"github.com/ashureev/skydesk/internal/domain"
	"github.com/ashureev/skydesk/internal/live"
	"github.com/ashureev/skydesk/internal/store"
	"github.com/ashureev/skydesk/internal/ticket"
)

// ErrClosed is returned by Get after the registry has been closed.
var ErrClosed = errors.New("workspace registry closed")

// Options configures new workspaces.
type Options struct {
	// TTL is how long an unattended workspace is kept. Zero disables idle
	// eviction.
	TTL time.Duration
	// SessionRetention is how long persisted chat sessions survive without
	// activity.
	SessionRetention time.Duration
	DefaultPlatform  domain.Platform
	Chat             chat.Options
	// OnEvict is called after a workspace is closed.
	OnEvict func(userID string)
}

// Registry hands out one workspace per user, creating it on first use.
type Registry struct {
	remote Remote
	repo   store.Repository
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
	closed     bool
}

// NewRegistry creates an empty registry. repo may be nil, which disables
// persistence.
func NewRegistry(r Remote, repo store.Repository, opts Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultPlatform == "" {
		opts.DefaultPlatform = domain.PlatformWeb
	}
	if opts.SessionRetention <= 0 {
		opts.SessionRetention = 7 * 24 * time.Hour
	}
	return &Registry{
		remote:     r,
		repo:       repo,
		opts:       opts,
		logger:     logger,
		workspaces: make(map[string]*Workspace),
	}
}

// Get returns the workspace of userID, creating and resuming it if needed.
func (r *Registry) Get(ctx context.Context, userID string) (*Workspace, error) {
	if userID == "" {
		return nil, fmt.Errorf("get workspace: empty user id")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if ws, ok := r.workspaces[userID]; ok {
		r.mu.Unlock()
		ws.touch()
		return ws, nil
	}
	r.mu.Unlock()

	created := newWorkspace(userID, r.remote, r.repo, r.opts, r.logger)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		created.Close(ctx)
		return nil, ErrClosed
	}
	if ws, ok := r.workspaces[userID]; ok {
		// Lost a creation race.
		r.mu.Unlock()
		created.Close(ctx)
		ws.touch()
		return ws, nil
	}
	r.workspaces[userID] = created
	r.mu.Unlock()

	r.logger.Info("Workspace created", "user_id", userID)
	created.resume(ctx, r.repo)
	return created, nil
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// RecentLookups returns the tickets userID looked up most recently.
func (r *Registry) RecentLookups(ctx context.Context, userID string, limit int) ([]domain.TicketLookup, error) {
	if r.repo == nil {
		return []domain.TicketLookup{}, nil
	}
	lookups, err := r.repo.RecentLookups(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent lookups: %w", err)
	}
	if lookups == nil {
		lookups = []domain.TicketLookup{}
	}
	return lookups, nil
}

// Evict closes and forgets the workspace of userID. It reports whether one
// existed.
func (r *Registry) Evict(ctx context.Context, userID string) bool {
	r.mu.Lock()
	ws, ok := r.workspaces[userID]
	delete(r.workspaces, userID)
	r.mu.Unlock()
	if !ok {
		return false
	}

	ws.Close(ctx)
	if r.opts.OnEvict != nil {
		r.opts.OnEvict(userID)
	}
	r.logger.Info("Workspace evicted", "user_id", userID)
	return true
}

// Close evicts every workspace and rejects further Get calls.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.workspaces))
	for id := range r.workspaces {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Evict(ctx, id)
		}(id)
	}
	wg.Wait()
}

// Subscribe implements live.Source. The workspace is kept from idle eviction
// until the returned func is called.
func (r *Registry) Subscribe(ctx context.Context, userID string, fn func(live.Frame)) (func(), error) {
	ws, err := r.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	ws.pin()
	var unsubChat, unsubTickets func()
	err = ws.loop.Do(func() {
		// Initial frames and subscription happen in one loop turn, so no
		// update can fall between them.
		fn(live.Frame{Type: live.FrameChat, Snapshot: ws.Chat.Snapshot()})
		fn(live.Frame{Type: live.FrameTickets, Snapshot: ws.Tickets.Snapshot()})
		unsubChat = ws.Chat.Subscribe(func(s chat.Snapshot) {
			fn(live.Frame{Type: live.FrameChat, Snapshot: s})
		})
		unsubTickets = ws.Tickets.Subscribe(func(s ticket.Snapshot) {
			fn(live.Frame{Type: live.FrameTickets, Snapshot: s})
		})
	})
	if err != nil {
		ws.unpin()
		return nil, fmt.Errorf("subscribe to workspace: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubChat()
			unsubTickets()
			ws.unpin()
			ws.touch()
		})
	}, nil
}
