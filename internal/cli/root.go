// Package cli implements ledgerctl, a terminal client for the ledger.
package cli

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/chronoledger/internal/app"
	"github.com/zhouzirui/chronoledger/internal/config"
	"github.com/zhouzirui/chronoledger/internal/logging"
)

// Opener builds the services a command runs against.
type Opener func(ctx context.Context) (*app.App, error)

// DefaultOpener loads .env and the environment, then wires the app.
func DefaultOpener(ctx context.Context) (*app.App, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Log.Level, logging.Format(cfg.Log.Format))
	return app.New(ctx, cfg)
}

// NewRootCommand assembles ledgerctl.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Inspect and extend chronoledger sessions",
		Long: `ledgerctl reads the same store as the API server. It lists sessions,
prints their pages with timing, exports transcripts and can ask the
configured model a question from the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newSessionsCmd(open),
		newShowCmd(open),
		newPagesCmd(open),
		newStatsCmd(open),
		newCloseCmd(open),
		newDeleteCmd(open),
		newRenameCmd(open),
		newAskCmd(open),
		newExportCmd(open),
	)
	return root
}

// withApp opens the app for one command and always closes it.
func withApp(cmd *cobra.Command, open Opener, fn func(a *app.App) error) error {
	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
