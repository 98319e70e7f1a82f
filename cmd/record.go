package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/recorder"
)

const shutdownTimeout = 30 * time.Second

func newRecordCmd(app *appState) *cobra.Command {
	var (
		name        string
		description string
		startURL    string
		discard     bool
		headless    bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Records browser interactions and saves them as a workflow",
		Long: `Opens a browser tab and records every click, keystroke, navigation and
form change. Press Enter to stop. The recording is stored and synthesized into
a parameterized workflow unless --discard is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			// Recording needs a visible window unless explicitly asked otherwise.
			app.cfg.Browser.Headless = headless
			c, err := initializeComponents(ctx, app.cfg, app.logger, componentOptions{browser: true})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				c.Shutdown(shutdownCtx)
			}()

			tab, err := c.browser.NewSession(ctx)
			if err != nil {
				return fmt.Errorf("failed to open browser tab: %w", err)
			}

			rec := recorder.Default()
			rec.Configure(app.cfg.Recorder, c.metrics, app.logger, c.store)
			if err := rec.Attach(ctx, tab); err != nil {
				return err
			}

			session, err := rec.Start(name, description)
			if err != nil {
				return err
			}
			if startURL != "" {
				if err := tab.Navigate(ctx, startURL); err != nil {
					_ = rec.Discard()
					return fmt.Errorf("failed to open %s: %w", startURL, err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recording %q (%s). Press Enter to stop.\n", session.Name, session.ID)
			if err := waitForEnter(ctx, cmd.InOrStdin()); err != nil {
				_ = rec.Discard()
				return err
			}

			stopped, err := rec.Stop()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Captured %d actions over %s.\n", len(stopped.Actions), stopped.Duration.Round(time.Second))

			if discard {
				return rec.Discard()
			}
			return saveRecording(ctx, out, rec, c)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "recording name (defaults to a timestamp)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "free-form description")
	cmd.Flags().StringVarP(&startURL, "url", "u", "", "page to open once recording has started")
	cmd.Flags().BoolVar(&discard, "discard", false, "drop the recording instead of saving it")
	cmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window")
	return cmd
}

func saveRecording(ctx context.Context, out io.Writer, rec *recorder.Recorder, c *components) error {
	wf, err := rec.Save(ctx, c.synth)
	if err != nil {
		// The recording stays stopped; drop it so the next run starts clean.
		_ = rec.Discard()
		return err
	}
	if err := c.store.Flush(ctx); err != nil {
		c.logger.Warn("Pending writes were not flushed", zap.Error(err))
	}
	printWorkflow(out, wf)
	return nil
}

// waitForEnter returns when a line (or EOF) is read from in, or with the
// context error when ctx ends first.
func waitForEnter(ctx context.Context, in io.Reader) error {
	lineRead := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(in).ReadString('\n')
		close(lineRead)
	}()
	select {
	case <-lineRead:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printWorkflow(out io.Writer, wf *schemas.WorkflowDefinition) {
	fmt.Fprintf(out, "Workflow %s: %s\n", wf.ID, wf.Name)
	if wf.Description != "" {
		fmt.Fprintf(out, "  %s\n", wf.Description)
	}
	for _, step := range wf.Steps {
		fmt.Fprintf(out, "  %2d. %s\n", step.Index+1, step.Description)
	}
	if len(wf.Variables) > 0 {
		fmt.Fprintln(out, "  Parameters:")
		for _, v := range wf.Variables {
			fmt.Fprintf(out, "    %s = %q (%s, step %d)\n", v.Name, v.Value, v.Type, v.StepIndex+1)
		}
	}
}
