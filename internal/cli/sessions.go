package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/chronoledger/internal/app"
	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	sessionService "github.com/zhouzirui/chronoledger/internal/service/session"
)

func newSessionsCmd(open Opener) *cobra.Command {
	var (
		active bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				sessions, err := a.Sessions.ListSessions(cmd.Context(), ledger.SessionFilter{ActiveOnly: active, Limit: limit})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(sessions) == 0 {
					fmt.Fprintln(out, "No sessions yet")
					return nil
				}
				fmt.Fprintf(out, "%-36s  %-16s  %-6s  %5s  %s\n", "ID", "UPDATED", "STATUS", "PAGES", "TITLE")
				for _, s := range sessions {
					fmt.Fprintf(out, "%-36s  %-16s  %-6s  %5d  %s\n",
						s.ID,
						s.UpdatedAt.Local().Format("2006-01-02 15:04"),
						s.Status,
						s.LastPageID,
						s.Title,
					)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "only list active sessions")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of sessions (0 = default)")
	return cmd
}

func newShowCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				s, err := a.Sessions.LoadSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session: %s\n", s.ID)
				fmt.Fprintf(out, "Title:   %s\n", s.Title)
				fmt.Fprintf(out, "Agent:   %s (%s)\n", s.Who, s.Model)
				fmt.Fprintf(out, "Status:  %s\n", s.Status)
				fmt.Fprintf(out, "Created: %s\n", s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				fmt.Fprintf(out, "Updated: %s\n", s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
				fmt.Fprintf(out, "Pages:   %d\n", s.LastPageID)
				return nil
			})
		},
	}
}

func newCloseCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "close <session-id>",
		Short: "Close a session; closed sessions accept no new pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				if _, err := a.Sessions.CloseSession(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Closed %s\n", args[0])
				return nil
			})
		},
	}
}

func newDeleteCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and all of its pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				if err := a.Sessions.DeleteSession(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newRenameCmd(open Opener) *cobra.Command {
	var (
		who   string
		retag bool
	)
	cmd := &cobra.Command{
		Use:   "rename <session-id> [title]",
		Short: "Change a session's title or agent pseudonym",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && who == "" {
				return fmt.Errorf("nothing to change: pass a title or --who")
			}
			return withApp(cmd, open, func(a *app.App) error {
				changes := sessionService.Changes{RetagResponses: retag}
				if len(args) == 2 {
					changes.Title = &args[1]
				}
				if who != "" {
					changes.Who = &who
				}
				s, err := a.Sessions.EditSession(cmd.Context(), args[0], changes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %q by %s\n", s.ID, s.Title, s.Who)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&who, "who", "", "new agent pseudonym, e.g. @Claude")
	cmd.Flags().BoolVar(&retag, "retag", false, "also re-attribute existing responses to --who")
	return cmd
}
