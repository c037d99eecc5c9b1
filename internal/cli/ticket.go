package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/skydesk/internal/dispatch"
	"github.com/ashureev/skydesk/internal/domain"
	"github.com/spf13/cobra"
)

func newTicketCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Look up and manage airline tickets",
	}
	cmd.AddCommand(
		newTicketSearchCmd(opts),
		newTicketCancelCmd(opts),
		newTicketRefundCmd(opts),
		newTicketUpdateRefundCmd(opts),
		newTicketLookupCmd(opts),
		newTicketHistoryCmd(opts),
		newTicketRecentCmd(opts),
	)
	return cmd
}

// runTickets issues commands through fn and prints the ticket snapshot.
func runTickets(cmd *cobra.Command, opts *options, fn func(s *session) []*dispatch.Handle) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close(cmd.Context())

	runErr := s.run(cmd.Context(), fn(s)...)
	if err := s.print(s.ws.Tickets.Snapshot()); err != nil {
		return err
	}
	return runErr
}

func newTicketSearchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "search <ticket-number>",
		Short: "Load a ticket and its refund status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(args[0]) == "" {
				return errors.New("ticket number is required")
			}
			return runTickets(cmd, opts, func(s *session) []*dispatch.Handle {
				return s.ws.Tickets.Search(s.ws.Context(), args[0])
			})
		},
	}
}

func newTicketCancelCmd(opts *options) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <ticket-number>",
		Short: "Cancel a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(reason) == "" {
				return errors.New("--reason is required")
			}
			return runTickets(cmd, opts, func(s *session) []*dispatch.Handle {
				// Load the ticket first so the cancellation shows on it.
				handles := s.ws.Tickets.Search(s.ws.Context(), args[0])
				if err := dispatch.WaitAll(cmd.Context(), handles...); err != nil {
					return handles
				}
				return []*dispatch.Handle{s.ws.Tickets.Cancel(s.ws.Context(), args[0], reason)}
			})
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the ticket is cancelled")
	return cmd
}

func newTicketRefundCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refund <ticket-number>",
		Short: "Show the refund status of a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTickets(cmd, opts, func(s *session) []*dispatch.Handle {
				return s.ws.Tickets.Search(s.ws.Context(), args[0])
			})
		},
	}
}

func newTicketUpdateRefundCmd(opts *options) *cobra.Command {
	var processedBy string
	cmd := &cobra.Command{
		Use:   "update-refund <ticket-number> <status>",
		Short: "Move a refund request to pending, approved, rejected or processed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := domain.RefundStatus(args[1])
			if !status.IsValid() {
				return fmt.Errorf("unknown refund status %q", args[1])
			}
			return runTickets(cmd, opts, func(s *session) []*dispatch.Handle {
				by := processedBy
				if by == "" {
					by = s.ws.User().Username
				}
				handles := []*dispatch.Handle{s.ws.Tickets.FetchDetails(s.ws.Context(), args[0])}
				if err := dispatch.WaitAll(cmd.Context(), handles...); err != nil {
					return handles
				}
				return append(handles, s.ws.Tickets.UpdateRefundStatus(s.ws.Context(), args[0], status, by))
			})
		},
	}
	cmd.Flags().StringVar(&processedBy, "by", "", "agent processing the refund (default: the current user)")
	return cmd
}

func newTicketLookupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <query>...",
		Short: "Search tickets by free text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if strings.TrimSpace(query) == "" {
				return errors.New("query is required")
			}
			return runTickets(cmd, opts, func(s *session) []*dispatch.Handle {
				return []*dispatch.Handle{s.ws.Tickets.Lookup(s.ws.Context(), query)}
			})
		},
	}
}

func newTicketHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <ticket-number>",
		Short: "Show a ticket with its audit history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTickets(cmd, opts, func(s *session) []*dispatch.Handle {
				return []*dispatch.Handle{
					s.ws.Tickets.FetchDetails(s.ws.Context(), args[0]),
					s.ws.Tickets.FetchHistory(s.ws.Context(), args[0]),
				}
			})
		},
	}
}

func newTicketRecentCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the tickets looked up most recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return errors.New("--limit must be positive")
			}
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			lookups, err := s.reg.RecentLookups(cmd.Context(), s.ws.User().UserID, limit)
			if err != nil {
				return err
			}
			return s.print(map[string]interface{}{"lookups": lookups})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of tickets to list")
	return cmd
}
