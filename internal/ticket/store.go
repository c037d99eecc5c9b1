// Package ticket implements the ticket store: the client-side mirror of the
// ticket under inspection and its refund request.
package ticket

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/skydesk/internal/dispatch"
	"github.com/ashureev/skydesk/internal/domain"
	"github.com/ashureev/skydesk/internal/remote"
)

// Fallback error texts, used when a failure carries no error field.
const (
	FallbackDetails      = "Failed to get ticket details"
	FallbackCancel       = "Failed to cancel ticket"
	FallbackRefund       = "Failed to get refund status"
	FallbackUpdateRefund = "Failed to update refund status"
	FallbackSearch       = "Failed to search tickets"
	FallbackHistory      = "Failed to get ticket history"
)

// Remote is the subset of the support API the ticket store calls.
type Remote interface {
	GetTicket(ctx context.Context, ticketNumber string) (*domain.Ticket, error)
	CancelTicket(ctx context.Context, ticketNumber, reason string) (*remote.CancelResult, error)
	GetRefundStatus(ctx context.Context, ticketNumber string) (*domain.RefundRequest, error)
	UpdateRefundStatus(ctx context.Context, ticketNumber string, status domain.RefundStatus, processedBy string) (*domain.RefundRequest, error)
	SearchTickets(ctx context.Context, query string) ([]domain.Ticket, error)
	GetTicketHistory(ctx context.Context, ticketNumber string) ([]domain.TicketEvent, error)
}

// Snapshot is an immutable view of the ticket state.
type Snapshot struct {
	CurrentTicket *domain.Ticket        `json:"current_ticket"`
	RefundStatus  *domain.RefundRequest `json:"refund_status"`
	Results       []domain.Ticket       `json:"results,omitempty"`
	History       []domain.TicketEvent  `json:"history,omitempty"`
	domain.OperationState
	Version uint64 `json:"version"`
}

// CancelRequest is the payload of a cancel command.
type CancelRequest struct {
	TicketNumber string
	Reason       string
}

// RefundUpdate is the payload of an update-refund command.
type RefundUpdate struct {
	TicketNumber string
	Status       domain.RefundStatus
	ProcessedBy  string
}

// Store owns the ticket slice of client state.
type Store struct {
	d      *dispatch.Dispatcher
	remote Remote
	logger *slog.Logger

	// Fields below are only touched on the dispatcher loop.
	ticket     *domain.Ticket
	refund     *domain.RefundRequest
	refundFor  string
	results    []domain.Ticket
	history    []domain.TicketEvent
	historyFor string
	op         domain.OperationState
	version    uint64

	pub *dispatch.Publisher[Snapshot]
}

// NewStore creates an empty ticket store.
func NewStore(d *dispatch.Dispatcher, r Remote, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		d:      d,
		remote: r,
		logger: logger,
		pub:    dispatch.NewPublisher(Snapshot{}),
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
	s.version++
	snap := Snapshot{
		OperationState: s.op,
		Version:        s.version,
	}
	if s.ticket != nil {
		t := *s.ticket
		snap.CurrentTicket = &t
		// A refund is only shown next to a ticket.
		if s.refund != nil {
			r := *s.refund
			snap.RefundStatus = &r
		}
	}
	if s.results != nil {
		snap.Results = append([]domain.Ticket(nil), s.results...)
	}
	if s.history != nil && s.ticket != nil && s.historyFor == s.ticket.TicketNumber {
		snap.History = append([]domain.TicketEvent(nil), s.history...)
	}
	s.pub.Publish(snap)
}

func (s *Store) begin() {
	s.op.Loading = true
	s.op.Error = nil
	s.publish()
}

func (s *Store) fail(ev dispatch.Event) {
	s.op.Loading = false
	s.op.Error = domain.StringPtr(ev.Error.Message)
	s.publish()
}

// holds reports whether the current ticket is ticketNumber.
func (s *Store) holds(ticketNumber string) bool {
	return s.ticket != nil && s.ticket.TicketNumber == ticketNumber
}

// Search loads ticket details and refund status for ticketNumber as two
// independent commands. Blank input issues nothing and returns nil.
func (s *Store) Search(ctx context.Context, ticketNumber string) []*dispatch.Handle {
	ticketNumber = strings.TrimSpace(ticketNumber)
	if ticketNumber == "" {
		return nil
	}
	return []*dispatch.Handle{
		s.FetchDetails(ctx, ticketNumber),
		s.FetchRefundStatus(ctx, ticketNumber),
	}
}

// FetchDetails loads a ticket and makes it current, replacing any held
// ticket wholesale.
func (s *Store) FetchDetails(ctx context.Context, ticketNumber string) *dispatch.Handle {
	return s.d.Issue(ctx, dispatch.Command{
		Kind:     dispatch.KindGetTicketDetails,
		Payload:  ticketNumber,
		Fallback: FallbackDetails,
		Call: func(ctx context.Context) (any, error) {
			return s.remote.GetTicket(ctx, ticketNumber)
		},
		Reduce: func(ev dispatch.Event) {
			switch ev.Phase {
			case dispatch.PhaseRequested:
				s.begin()
			case dispatch.PhaseFailed:
				s.fail(ev)
			case dispatch.PhaseSucceeded:
				t, _ := ev.Result.(*domain.Ticket)
				s.op.Loading = false
				s.replaceTicket(t, ticketNumber)
				s.publish()
			}
		},
	})
}

func (s *Store) replaceTicket(t *domain.Ticket, requested string) {
	if t == nil {
		s.ticket = nil
		s.refund, s.refundFor = nil, ""
		return
	}
	next := *t
	if next.TicketNumber == "" {
		next.TicketNumber = requested
	}
	s.ticket = &next
	// A refund fetched for another ticket is no longer valid.
	if s.refund != nil && s.refundFor != next.TicketNumber {
		s.refund, s.refundFor = nil, ""
	}
}

// FetchRefundStatus loads the refund request of ticketNumber.
func (s *Store) FetchRefundStatus(ctx context.Context, ticketNumber string) *dispatch.Handle {
	return s.d.Issue(ctx, dispatch.Command{
		Kind:     dispatch.KindGetRefundStatus,
		Payload:  ticketNumber,
		Fallback: FallbackRefund,
		Call: func(ctx context.Context) (any, error) {
			return s.remote.GetRefundStatus(ctx, ticketNumber)
		},
		Reduce: func(ev dispatch.Event) {
			switch ev.Phase {
			case dispatch.PhaseRequested:
				s.begin()
			case dispatch.PhaseFailed:
				s.fail(ev)
			case dispatch.PhaseSucceeded:
				r, _ := ev.Result.(*domain.RefundRequest)
				s.op.Loading = false
				s.setRefund(r, ticketNumber)
				s.publish()
			}
		},
	})
}

func (s *Store) setRefund(r *domain.RefundRequest, ticketNumber string) {
	if r == nil {
		s.refund, s.refundFor = nil, ""
		return
	}
	next := *r
	if next.TicketNumber == "" {
		next.TicketNumber = ticketNumber
	}
	s.refund, s.refundFor = &next, ticketNumber
}

// Cancel asks the server to cancel ticketNumber. The store does not validate
// reason. On success the held ticket, if it is ticketNumber, is marked
// cancelled and nothing else about it changes.
func (s *Store) Cancel(ctx context.Context, ticketNumber, reason string) *dispatch.Handle {
	req := CancelRequest{TicketNumber: ticketNumber, Reason: reason}
	return s.d.Issue(ctx, dispatch.Command{
		Kind:     dispatch.KindCancelTicket,
		Payload:  req,
		Fallback: FallbackCancel,
		Call: func(ctx context.Context) (any, error) {
			return s.remote.CancelTicket(ctx, ticketNumber, reason)
		},
		Reduce: func(ev dispatch.Event) {
			switch ev.Phase {
			case dispatch.PhaseRequested:
				s.begin()
			case dispatch.PhaseFailed:
				s.fail(ev)
			case dispatch.PhaseSucceeded:
				s.op.Loading = false
				if s.holds(ticketNumber) {
					next := *s.ticket
					next.Status = domain.TicketStatusCancelled
					s.ticket = &next
				}
				s.publish()
			}
		},
	})
}

// UpdateRefundStatus moves the refund of ticketNumber to status. Used by
// agents processing refunds.
func (s *Store) UpdateRefundStatus(ctx context.Context, ticketNumber string, status domain.RefundStatus, processedBy string) *dispatch.Handle {
	req := RefundUpdate{TicketNumber: ticketNumber, Status: status, ProcessedBy: processedBy}
	return s.d.Issue(ctx, dispatch.Command{
		Kind:     dispatch.KindUpdateRefundStatus,
		Payload:  req,
		Fallback: FallbackUpdateRefund,
		Call: func(ctx context.Context) (any, error) {
			return s.remote.UpdateRefundStatus(ctx, ticketNumber, status, processedBy)
		},
		Reduce: func(ev dispatch.Event) {
			switch ev.Phase {
			case dispatch.PhaseRequested:
				s.begin()
			case dispatch.PhaseFailed:
				s.fail(ev)
			case dispatch.PhaseSucceeded:
				r, _ := ev.Result.(*domain.RefundRequest)
				s.op.Loading = false
				if r != nil && s.holds(ticketNumber) {
					s.setRefund(r, ticketNumber)
				}
				s.publish()
			}
		},
	})
}

// Lookup runs a free-text ticket search and replaces the result list. Blank
// queries issue nothing and return nil.
func (s *Store) Lookup(ctx context.Context, query string) *dispatch.Handle {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	return s.d.Issue(ctx, dispatch.Command{
		Kind:     dispatch.KindSearchTickets,
		Payload:  query,
		Fallback: FallbackSearch,
		Call: func(ctx context.Context) (any, error) {
			return s.remote.SearchTickets(ctx, query)
		},
		Reduce: func(ev dispatch.Event) {
			switch ev.Phase {
			case dispatch.PhaseRequested:
				s.begin()
			case dispatch.PhaseFailed:
				s.fail(ev)
			case dispatch.PhaseSucceeded:
				results, _ := ev.Result.([]domain.Ticket)
				s.op.Loading = false
				s.results = append([]domain.Ticket{}, results...)
				s.publish()
			}
		},
	})
}

// FetchHistory loads the audit history of ticketNumber. It is only shown
// while that ticket is current.
func (s *Store) FetchHistory(ctx context.Context, ticketNumber string) *dispatch.Handle {
	return s.d.Issue(ctx, dispatch.Command{
		Kind:     dispatch.KindGetTicketHistory,
		Payload:  ticketNumber,
		Fallback: FallbackHistory,
		Call: func(ctx context.Context) (any, error) {
			return s.remote.GetTicketHistory(ctx, ticketNumber)
		},
		Reduce: func(ev dispatch.Event) {
			switch ev.Phase {
			case dispatch.PhaseRequested:
				s.begin()
			case dispatch.PhaseFailed:
				s.fail(ev)
			case dispatch.PhaseSucceeded:
				events, _ := ev.Result.([]domain.TicketEvent)
				s.op.Loading = false
				s.history = append([]domain.TicketEvent{}, events...)
				s.historyFor = ticketNumber
				s.publish()
			}
		},
	})
}

// Clear drops the held ticket, its refund and any search results. Clearing
// an already empty store publishes nothing.
func (s *Store) Clear() error {
	return s.d.Loop().Do(func() {
		if s.ticket == nil && s.refund == nil && s.results == nil && s.history == nil && s.op.Error == nil {
			return
		}
		s.ticket = nil
		s.refund, s.refundFor = nil, ""
		s.results = nil
		s.history, s.historyFor = nil, ""
		s.op.Error = nil
		s.publish()
	})
}
