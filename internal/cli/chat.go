package cli

import (
	"errors"
	"strings"

	"github.com/ashureev/skydesk/internal/dispatch"
	"github.com/ashureev/skydesk/internal/domain"
	"github.com/spf13/cobra"
)

var errNoSession = errors.New("no active chat session")

func newChatCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the support assistant",
	}
	cmd.AddCommand(
		newChatSendCmd(opts),
		newChatShowCmd(opts),
		newChatSessionCmd(opts, "history", "Reload the messages of the current session", func(s *session) *dispatch.Handle {
			sid := s.ws.Chat.Snapshot().SessionID()
			if sid == "" {
				return nil
			}
			return s.ws.Chat.FetchHistory(s.ws.Context(), sid)
		}),
		newChatSessionCmd(opts, "close", "End the current session", func(s *session) *dispatch.Handle {
			return s.ws.Chat.CloseSession(s.ws.Context())
		}),
		newChatSessionCmd(opts, "escalate", "Hand the current session to a human agent", func(s *session) *dispatch.Handle {
			return s.ws.Chat.Escalate(s.ws.Context())
		}),
		newChatClearCmd(opts),
	)
	return cmd
}

func newChatSendCmd(opts *options) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "send <message>...",
		Short: "Send a chat message and print the conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if strings.TrimSpace(content) == "" {
				return errors.New("message content is required")
			}

			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			p := domain.Platform(platform)
			if p == "" {
				p = s.ws.DefaultPlatform()
			}
			if !p.IsValid() {
				return errors.New("unknown platform " + platform)
			}

			h := s.ws.Chat.SendMessage(s.ws.Context(), content, p, s.ws.User().UserID)
			runErr := s.run(cmd.Context(), h)
			if err := s.print(s.ws.Chat.Snapshot()); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "platform to send from: web, mobile, whatsapp or telegram")
	return cmd
}

func newChatShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the restored conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())
			return s.print(s.ws.Chat.Snapshot())
		},
	}
}

// newChatSessionCmd builds a command that acts on the current session.
func newChatSessionCmd(opts *options, use, short string, issue func(*session) *dispatch.Handle) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			h := issue(s)
			if h == nil {
				return errNoSession
			}
			runErr := s.run(cmd.Context(), h)
			if err := s.print(s.ws.Chat.Snapshot()); err != nil {
				return err
			}
			return runErr
		},
	}
}

func newChatClearCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the local conversation without contacting the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			if err := s.ws.Chat.Clear(); err != nil {
				return err
			}
			return s.print(s.ws.Chat.Snapshot())
		},
	}
}
