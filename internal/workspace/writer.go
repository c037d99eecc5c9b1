package workspace

import (
	"context"
	"log/slog"
	"time"
)

const (
	writerQueueSize = 64
	writeTimeout    = 5 * time.Second
)

type writeJob struct {
	op string
	fn func(context.Context) error
}

// writer runs repository writes in order off the dispatch loop, so snapshot
// subscribers never block on the database.
type writer struct {
	jobs   chan writeJob
	done   chan struct{}
	logger *slog.Logger
}

func newWriter(logger *slog.Logger) *writer {
	w := &writer{
		jobs:   make(chan writeJob, writerQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go w.run()
	return w
}

// submit queues fn without blocking. A full queue drops the write.
func (w *writer) submit(op string, fn func(context.Context) error) {
	select {
	case w.jobs <- writeJob{op: op, fn: fn}:
	default:
		w.logger.Warn("Persistence queue full, dropping write", "op", op)
	}
}

func (w *writer) run() {
	defer close(w.done)
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := job.fn(ctx); err != nil {
			w.logger.Warn("Persistence write failed", "op", job.op, "error", err)
		}
		cancel()
	}
}

// close flushes queued writes. submit must not be called afterwards.
func (w *writer) close() {
	close(w.jobs)
	<-w.done
}
