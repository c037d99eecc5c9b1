package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Handle tracks one issued command until its terminal event has been applied.
type Handle struct {
	ID   uuid.UUID
	Kind Kind

	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	outcome Event
}

func newHandle(kind Kind) *Handle {
	return &Handle{
		ID:   uuid.New(),
		Kind: kind,
		done: make(chan struct{}),
	}
}

func (h *Handle) finish(ev Event) {
	h.once.Do(func() {
		h.mu.Lock()
		h.outcome = ev
		h.mu.Unlock()
		close(h.done)
	})
}

// Done is closed once the terminal event has been reduced into its store.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the command terminates or ctx is done. A failed command
// is not an error here; inspect Outcome for that.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcome returns the terminal event, and false while the command is still
// in flight.
func (h *Handle) Outcome() (Event, bool) {
	select {
	case <-h.done:
	default:
		return Event{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, true
}

// Failed reports whether the command terminated with a failure.
func (h *Handle) Failed() bool {
	ev, ok := h.Outcome()
	return ok && ev.Phase == PhaseFailed
}

// WaitAll waits for every handle. Nil handles are skipped.
func WaitAll(ctx context.Context, handles ...*Handle) error {
	for _, h := range handles {
		if h == nil {
			continue
		}
		if err := h.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
