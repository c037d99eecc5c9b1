package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ashureev/skydesk/internal/chat"
	"github.com/ashureev/skydesk/internal/dispatch"
	"github.com/ashureev/skydesk/internal/domain"
	"github.com/ashureev/skydesk/internal/remote"
	"github.com/ashureev/skydesk/internal/store"
	"github.com/ashureev/skydesk/internal/workspace"
	"github.com/spf13/cobra"
)

// session is one CLI invocation's workspace.
type session struct {
	repo store.Repository
	reg  *workspace.Registry
	ws   *workspace.Workspace
	out  io.Writer
}

// openSession builds an in-process registry for the calling user and waits
// for any persisted conversation to be restored.
func openSession(cmd *cobra.Command, opts *options) (*session, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := opts.logger(cmd.ErrOrStderr())

	client, err := remote.NewClient(remote.Config{
		BaseURL: cfg.APIURL,
		Token:   cfg.APIToken,
		Timeout: cfg.RequestTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create support API client: %w", err)
	}

	var repo store.Repository
	if !opts.ephemeral {
		repo, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
	}

	reg := workspace.NewRegistry(client, repo, workspace.Options{
		DefaultPlatform: domain.Platform(cfg.DefaultPlatform),
		Chat:            chat.Options{DisableHistorySync: !cfg.HistorySync},
	}, logger)

	s := &session{
		repo: repo,
		reg:  reg,
		out:  cmd.OutOrStdout(),
	}

	ctx := cmd.Context()
	s.ws, err = reg.Get(ctx, opts.userID())
	if err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	if err := s.settle(ctx); err != nil {
		s.close(ctx)
		return nil, err
	}
	return s, nil
}

// settle waits for every in-flight command, including follow-ups issued by
// reducers, and for their events to be applied.
func (s *session) settle(ctx context.Context) error {
	if err := s.ws.Dispatcher().Drain(ctx); err != nil {
		return fmt.Errorf("wait for commands: %w", err)
	}
	return s.ws.Sync()
}

// run waits for handles to finish and reports the first failure.
func (s *session) run(ctx context.Context, handles ...*dispatch.Handle) error {
	if err := dispatch.WaitAll(ctx, handles...); err != nil {
		return fmt.Errorf("wait for commands: %w", err)
	}
	if err := s.settle(ctx); err != nil {
		return err
	}
	var errs []error
	for _, h := range handles {
		if h == nil {
			continue
		}
		if ev, ok := h.Outcome(); ok && ev.Phase == dispatch.PhaseFailed {
			errs = append(errs, fmt.Errorf("%s: %s", ev.Kind, ev.Error.Message))
		}
	}
	return errors.Join(errs...)
}

// print writes v as indented JSON.
func (s *session) print(v interface{}) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// close flushes pending writes and releases the database.
func (s *session) close(ctx context.Context) {
	s.reg.Close(ctx)
	if s.repo != nil {
		_ = s.repo.Close()
	}
}
