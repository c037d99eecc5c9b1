package dispatch

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrLoopClosed is returned when work is posted to a closed loop.
var ErrLoopClosed = errors.New("dispatch loop closed")

// Loop runs posted functions one at a time, in posting order, on a single
// goroutine. Posting never blocks, so a running function may post more work.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// NewLoop creates a loop and starts its goroutine.
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

// Post enqueues fn for execution on the loop goroutine.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from a function already running on the loop.
func (l *Loop) Do(fn func()) error {
	finished := make(chan struct{})
	if err := l.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	<-finished
	return nil
}

// Sync waits until everything posted before the call has run.
func (l *Loop) Sync() error {
	return l.Do(func() {})
}

// Close stops accepting work, runs what is already queued and stops the loop.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-l.wake
			continue
		}

		for _, fn := range batch {
			l.runOne(fn)
		}
	}
}

func (l *Loop) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("dispatch loop task panicked", "panic", r)
		}
	}()
	fn()
}
