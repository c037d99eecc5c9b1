// Package dispatch issues remote operations as tracked commands and delivers
// their lifecycle events to store reducers on a single loop goroutine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/skydesk/internal/remote"
	"github.com/google/uuid"
)

// Kind identifies a remote operation.
type Kind string

const (
	KindSendMessage        Kind = "chat/sendMessage"
	KindGetHistory         Kind = "chat/getHistory"
	KindCloseSession       Kind = "chat/closeSession"
	KindEscalateSession    Kind = "chat/escalateSession"
	KindGetTicketDetails   Kind = "tickets/getDetails"
	KindCancelTicket       Kind = "tickets/cancel"
	KindGetRefundStatus    Kind = "tickets/getRefundStatus"
	KindUpdateRefundStatus Kind = "tickets/updateRefundStatus"
	KindSearchTickets      Kind = "tickets/search"
	KindGetTicketHistory   Kind = "tickets/getHistory"
)

// Phase is a command lifecycle phase.
type Phase int

const (
	PhaseRequested Phase = iota
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseRequested:
		return "requested"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// defaultFallback is used when a command declares no fallback message.
const defaultFallback = "Request failed"

// ErrorPayload describes why a command failed.
type ErrorPayload struct {
	// Message is the text surfaced to presentation: the rejection's error
	// field, or the command's fallback.
	Message    string
	StatusCode int
	Body       []byte
	Err        error
}

// NewErrorPayload classifies err. Structured API rejections surface their
// error field; anything else surfaces fallback.
func NewErrorPayload(err error, fallback string) *ErrorPayload {
	if fallback == "" {
		fallback = defaultFallback
	}
	p := &ErrorPayload{Message: fallback, Err: err}

	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		p.StatusCode = apiErr.StatusCode
		p.Body = apiErr.Body
		if apiErr.Message != "" {
			p.Message = apiErr.Message
		}
	}
	return p
}

// Event is a lifecycle event of one command.
type Event struct {
	CommandID uuid.UUID
	Kind      Kind
	Phase     Phase
	// Payload is the input the command was issued with.
	Payload any
	// Result is set on PhaseSucceeded.
	Result any
	// Error is set on PhaseFailed.
	Error *ErrorPayload
	At    time.Time
}

// Command describes a remote operation to issue.
type Command struct {
	Kind    Kind
	Payload any
	// Fallback is the error text used when the failure carries none.
	Fallback string
	Call     func(ctx context.Context) (any, error)
	// Reduce is applied on the loop for every phase.
	Reduce func(Event)
}

// Dispatcher issues commands and routes their events through a Loop.
type Dispatcher struct {
	loop      *Loop
	logger    *slog.Logger
	mu        sync.RWMutex
	observers []func(Event)

	// pending counts commands whose terminal event has not been applied yet.
	// idle is closed when pending drops to zero.
	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}
}

// New creates a dispatcher that applies events on loop.
func New(loop *Loop, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		loop:   loop,
		logger: logger,
	}
}

// Loop returns the loop the dispatcher applies events on.
func (d *Dispatcher) Loop() *Loop {
	return d.loop
}

// Observe registers fn to be called on the loop after every reduced event.
func (d *Dispatcher) Observe(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// Issue emits the requested event, performs the call without blocking the
// caller and emits exactly one terminal event. No retries are attempted.
func (d *Dispatcher) Issue(ctx context.Context, cmd Command) *Handle {
	h := newHandle(cmd.Kind)

	requested := Event{
		CommandID: h.ID,
		Kind:      cmd.Kind,
		Phase:     PhaseRequested,
		Payload:   cmd.Payload,
		At:        time.Now(),
	}
	d.begin()
	if err := d.loop.Post(func() { d.apply(cmd, requested) }); err != nil {
		d.end()
		d.logger.Warn("command dropped", "command_id", h.ID, "kind", cmd.Kind, "error", err)
		h.finish(Event{
			CommandID: h.ID,
			Kind:      cmd.Kind,
			Phase:     PhaseFailed,
			Payload:   cmd.Payload,
			Error:     NewErrorPayload(err, cmd.Fallback),
			At:        time.Now(),
		})
		return h
	}

	go func() {
		ev := Event{
			CommandID: h.ID,
			Kind:      cmd.Kind,
			Payload:   cmd.Payload,
		}
		result, err := d.call(ctx, h, cmd)
		ev.At = time.Now()
		if err != nil {
			ev.Phase = PhaseFailed
			ev.Error = NewErrorPayload(err, cmd.Fallback)
		} else {
			ev.Phase = PhaseSucceeded
			ev.Result = result
		}

		// The command stays pending until its reducer ran, so follow-ups
		// issued from the reducer are counted before it is released.
		if postErr := d.loop.Post(func() {
			defer d.end()
			defer h.finish(ev)
			d.apply(cmd, ev)
		}); postErr != nil {
			d.logger.Warn("terminal event dropped", "command_id", h.ID, "kind", cmd.Kind, "phase", ev.Phase, "error", postErr)
			h.finish(ev)
			d.end()
		}
	}()

	return h
}

// call runs cmd.Call, turning a panic into an error so the command still
// terminates.
func (d *Dispatcher) call(ctx context.Context, h *Handle, cmd Command) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command call panicked", "command_id", h.ID, "kind", cmd.Kind, "panic", r)
			result, err = nil, fmt.Errorf("command %s panicked: %v", cmd.Kind, r)
		}
	}()
	return cmd.Call(ctx)
}

func (d *Dispatcher) begin() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
}

func (d *Dispatcher) end() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
}

func (d *Dispatcher) apply(cmd Command, ev Event) {
	if ev.Phase == PhaseFailed {
		d.logger.Debug("command failed",
			"command_id", ev.CommandID,
			"kind", ev.Kind,
			"status", ev.Error.StatusCode,
			"error", ev.Error.Err,
		)
	} else {
		d.logger.Debug("command event", "command_id", ev.CommandID, "kind", ev.Kind, "phase", ev.Phase)
	}

	if cmd.Reduce != nil {
		cmd.Reduce(ev)
	}

	d.mu.RLock()
	observers := d.observers
	d.mu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}

// Drain waits until every issued command, including follow-ups issued by
// reducers, has had its terminal event applied, or ctx ends. The loop must
// still be running.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		d.pendingMu.Lock()
		if d.pending == 0 {
			d.pendingMu.Unlock()
			return nil
		}
		idle := d.idle
		d.pendingMu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
