package cli

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/chronoledger/internal/app"
	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/chrono"
)

const previewRunes = 72

func newPagesCmd(open Opener) *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "pages <session-id>",
		Short: "List pages with their durations and the gaps between them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				s, err := a.Sessions.LoadSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				var pages []ledger.Page
				if recent > 0 {
					pages, err = a.Pages.GetRecentPages(cmd.Context(), s, recent)
				} else {
					pages, err = a.Pages.GetPages(cmd.Context(), s)
				}
				if err != nil {
					return err
				}
				printPages(cmd.OutOrStdout(), pages)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 0, "only the newest N pages")
	return cmd
}

func printPages(out io.Writer, pages []ledger.Page) {
	if len(pages) == 0 {
		fmt.Fprintln(out, "No pages yet")
		return
	}
	gaps := chrono.Gaps(pages)
	fmt.Fprintf(out, "%5s  %-8s  %-12s  %8s  %8s  %s\n", "PAGE", "TYPE", "WHO", "DELTA", "GAP", "CONTENT")
	for i, p := range pages {
		gap := "-"
		if i > 0 {
			gap = fmt.Sprintf("%dms", gaps[i-1])
		}
		content := preview(p.Content)
		if p.Draft() {
			content = "(draft)"
		}
		fmt.Fprintf(out, "%5d  %-8s  %-12s  %6dms  %8s  %s\n", p.PageID, p.Type, p.Who, chrono.Delta(p), gap, content)
	}
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes-1]) + "…"
}

func newStatsCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <session-id>",
		Short: "Summarise a session's pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				s, err := a.Sessions.LoadSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				st, err := a.Pages.Stats(cmd.Context(), s)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Pages:      %d\n", st.TotalPages)
				fmt.Fprintf(out, "Invokes:    %d\n", st.InvokeCount)
				fmt.Fprintf(out, "Responses:  %d\n", st.ResponseCount)
				fmt.Fprintf(out, "Drafts:     %d\n", st.DraftCount)
				fmt.Fprintf(out, "Generating: %dms\n", st.TotalDelta)
				fmt.Fprintf(out, "Tokens:     ~%d\n", st.TokenEstimate)
				return nil
			})
		},
	}
}
