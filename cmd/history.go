package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

func newHistoryCmd(app *appState) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Lists past automation sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, app, func(ctx context.Context, c *components) error {
				sessions, err := c.store.ListSessions(ctx, limit)
				if err != nil {
					return err
				}
				return printSessionTable(cmd.OutOrStdout(), sessions)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "maximum number of sessions (0 for the default)")

	var asJSON bool
	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Prints one session and its step events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, app, func(ctx context.Context, c *components) error {
				s, err := c.store.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), s)
				}
				printSession(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON session")

	cmd.AddCommand(show)
	return cmd
}

func printSessionTable(out io.Writer, sessions []*schemas.AutomationSession) error {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tSTATUS\tSTEPS\tSTARTED\tGOAL")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			s.SessionID, s.AgentMode, s.Status, s.Iterations, s.StartTime.Format(time.RFC3339), clip(s.UserGoal, 60))
	}
	return tw.Flush()
}

func printSession(out io.Writer, s *schemas.AutomationSession) {
	fmt.Fprintf(out, "Session %s (%s) %s\n", s.SessionID, s.AgentMode, s.Status)
	fmt.Fprintf(out, "Goal: %s\n", s.UserGoal)
	for _, ev := range s.Events {
		if line := describeEvent(ev); line != "" {
			fmt.Fprintln(out, line)
		}
	}
	if s.Result != "" {
		fmt.Fprintf(out, "Result: %s\n", s.Result)
	}
	if s.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", s.Error)
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
