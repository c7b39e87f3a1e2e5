package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/chronoledger/internal/app"
	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/chrono"
)

func newExportCmd(open Opener) *cobra.Command {
	var (
		copyOut bool
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Render a session as a Markdown transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				s, err := a.Sessions.LoadSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				pages, err := a.Pages.GetPages(cmd.Context(), s)
				if err != nil {
					return err
				}
				doc := Transcript(*s, pages)

				if outPath != "" {
					if err := os.WriteFile(outPath, []byte(doc), 0o644); err != nil {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outPath)
				}
				if copyOut {
					if err := clipboard.WriteAll(doc); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "Warning: could not copy to clipboard: %v\n", err)
					} else {
						fmt.Fprintln(cmd.ErrOrStderr(), "Transcript copied to clipboard")
					}
				}
				if outPath == "" && !copyOut {
					fmt.Fprint(cmd.OutOrStdout(), doc)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&copyOut, "copy", false, "copy the transcript to the clipboard")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the transcript to a file")
	return cmd
}

// Transcript renders pages as Markdown, one section per page. Drafts are
// listed but have no body.
func Transcript(s ledger.Session, pages []ledger.Page) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Title)
	fmt.Fprintf(&b, "- Session: `%s`\n", s.ID)
	fmt.Fprintf(&b, "- Agent: %s (%s)\n", s.Who, s.Model)
	fmt.Fprintf(&b, "- Created: %s\n", s.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Status: %s\n", s.Status)

	for i, p := range pages {
		fmt.Fprintf(&b, "\n## %d · %s · %s\n\n", p.PageID, p.Type, p.Who)
		timing := fmt.Sprintf("%s, %dms", p.TimeStart.UTC().Format(time.RFC3339Nano), chrono.Delta(p))
		if i > 0 {
			timing += fmt.Sprintf(", %dms after page %d", chrono.Gap(pages[i-1], p), pages[i-1].PageID)
		}
		fmt.Fprintf(&b, "_%s_\n\n", timing)
		if p.Draft() {
			b.WriteString("_(no content)_\n")
			continue
		}
		b.WriteString(strings.TrimRight(p.Content, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}
