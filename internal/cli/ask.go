package cli

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/chronoledger/internal/app"
	"github.com/zhouzirui/chronoledger/internal/model/ledger"
	"github.com/zhouzirui/chronoledger/internal/service/events"
	"github.com/zhouzirui/chronoledger/internal/service/turn"
)

var errNoProvider = errors.New("no AI provider configured: set OPENROUTER_API_KEY")

func newAskCmd(open Opener) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ask <message...>",
		Short: "Ask the configured model and stream the answer into the ledger",
		Long: `ask records the message as an INVOKE page and streams the reply into
the next RESPONSE page. Without --session a new session is created and
its id is printed. Ctrl-C stops the stream and keeps what arrived.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				if a.Turns == nil {
					return errNoProvider
				}
				var handle *ledger.Session
				if sessionID != "" {
					s, err := a.Sessions.LoadSession(cmd.Context(), sessionID)
					if err != nil {
						return err
					}
					handle = s
				}

				out := cmd.OutOrStdout()
				printer := turn.ObserverFunc(func(e turn.Event) {
					switch e.Type {
					case turn.EventResponseStarted:
						fmt.Fprintf(out, "%s: ", e.Who)
					case turn.EventToken:
						fmt.Fprint(out, e.Fragment)
					}
				})
				obs := events.Fanout{printer}
				if a.Observer != nil {
					obs = append(obs, a.Observer)
				}

				handle, result, err := a.Turns.Ask(cmd.Context(), handle, strings.Join(args, " "), obs)
				fmt.Fprintln(out)
				if err != nil {
					return err
				}
				switch result.Outcome {
				case turn.Cancelled:
					fmt.Fprintf(cmd.ErrOrStderr(), "stopped; partial answer kept on page %d\n", result.Page.PageID)
				case turn.Finished:
					fmt.Fprintf(cmd.ErrOrStderr(), "page %d, %dms\n", result.Page.PageID, result.Page.Delta())
				}
				if sessionID == "" && handle != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "session %s\n", handle.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "continue an existing session")
	return cmd
}
