package workspace

import (
	"context"
	"time"
)

const ttlWorkerInterval = time.Minute

// StartTTLWorker runs a background goroutine that periodically evicts idle
// workspaces and expires persisted chat sessions.
func StartTTLWorker(ctx context.Context, r *Registry, interval time.Duration) {
	if interval <= 0 {
		interval = ttlWorkerInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		r.logger.Info("TTL worker started", "interval", interval, "ttl", r.opts.TTL)

		for {
			select {
			case <-ticker.C:
				r.Sweep(ctx, time.Now())
			case <-ctx.Done():
				r.logger.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep evicts workspaces idle for longer than the TTL as of now and returns
// how many were evicted. Workspaces with a live stream attached are kept.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	evicted := 0
	if r.opts.TTL > 0 {
		r.mu.Lock()
		var expired []string
		for id, ws := range r.workspaces {
			if ws.pinned() {
				continue
			}
			if u := ws.User(); u.IdleFor(now) > r.opts.TTL {
				expired = append(expired, id)
			}
		}
		r.mu.Unlock()

		if len(expired) > 0 {
			r.logger.Info("TTL worker found idle workspaces", "count", len(expired))
		}
		for _, id := range expired {
			if r.Evict(ctx, id) {
				evicted++
			}
		}
	}

	if r.repo != nil {
		if deleted, err := r.repo.CleanupExpiredSessions(ctx, r.opts.SessionRetention); err != nil {
			r.logger.Error("TTL worker failed to cleanup expired chat sessions", "error", err)
		} else if deleted > 0 {
			r.logger.Info("TTL worker cleaned up expired chat sessions", "count", deleted)
		}
	}

	return evicted
}
