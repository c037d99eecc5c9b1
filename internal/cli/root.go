// Package cli implements skydeskctl, a command-line client that drives the
// same chat and ticket stores as the bridge server.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/skydesk/internal/config"
	"github.com/spf13/cobra"
)

// options are the global flags shared by every command.
type options struct {
	cfgFile   string
	apiURL    string
	token     string
	user      string
	dbPath    string
	ephemeral bool
	verbose   bool
}

// NewRootCmd builds the skydeskctl command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "skydeskctl",
		Short:         "Customer support client for the Skydesk platform",
		Long:          "skydeskctl sends chat messages and manages airline tickets through the support API.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "YAML config file (default $SKYDESK_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "support API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", "", "support API bearer token (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&opts.user, "user", "u", "", "user id to act as (default $SKYDESK_USER or \"cli\")")
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database used to resume chat sessions (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&opts.ephemeral, "ephemeral", false, "do not read or write the local database")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level to stderr")

	rootCmd.AddCommand(newChatCmd(opts))
	rootCmd.AddCommand(newTicketCmd(opts))

	return rootCmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, version string) int {
	rootCmd := NewRootCmd(version)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// loadConfig reads configuration, applying flag overrides.
func (o *options) loadConfig() (*config.Config, error) {
	path := o.cfgFile
	if path == "" {
		path = os.Getenv("SKYDESK_CONFIG")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}

	if o.apiURL != "" {
		cfg.APIURL = o.apiURL
	}
	if o.token != "" {
		cfg.APIToken = o.token
	}
	if o.dbPath != "" {
		cfg.DBPath = o.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *options) userID() string {
	if o.user != "" {
		return o.user
	}
	if u := strings.TrimSpace(os.Getenv("SKYDESK_USER")); u != "" {
		return u
	}
	return "cli"
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
