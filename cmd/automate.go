package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/automation"
)

func newAutomateCmd(app *appState) *cobra.Command {
	var req automation.StartRequest
	var mode string

	cmd := &cobra.Command{
		Use:   "automate <goal>",
		Short: "Runs an LLM-driven browser session towards a goal",
		Long: `Starts an automation session and streams its steps until it completes.
In automate mode the session is guided by a stored workflow (--workflow) or
recording (--recording). Ask mode answers the goal without touching a page.
Ctrl+C stops the session at its next step boundary.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req.UserGoal = strings.Join(args, " ")
			req.AgentMode = schemas.AgentMode(strings.ToLower(mode))
			if req.SessionID == "" {
				req.SessionID = uuid.New().String()
			}

			c, err := initializeComponents(ctx, app.cfg, app.logger, componentOptions{engine: true})
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				c.Shutdown(shutdownCtx)
			}()

			out := cmd.OutOrStdout()
			final, err := runAutomation(ctx, out, c.engine, req)
			if err != nil {
				return err
			}
			if final.Result != "" {
				fmt.Fprintf(out, "\n%s\n", final.Result)
			}
			fmt.Fprintf(out, "Session %s %s after %d iterations.\n", final.SessionID, final.Status, final.Iterations)
			return sessionOutcome(final)
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", string(schemas.ModeAutopilot), "agent mode: ask, automate or autopilot")
	cmd.Flags().StringVar(&req.SessionID, "session-id", "", "session id (defaults to a new UUID)")
	cmd.Flags().StringVarP(&req.WorkflowID, "workflow", "w", "", "reference workflow id for automate mode")
	cmd.Flags().StringVarP(&req.RecordingID, "recording", "r", "", "reference recording id for automate mode")
	cmd.Flags().StringVar(&req.Provider, "provider", "", "LLM provider (defaults to automation.provider)")
	cmd.Flags().StringVar(&req.Model, "model", "", "LLM model override")
	cmd.Flags().Int("max-iterations", 0, "step budget (overrides automation.max_iterations)")
	configFlag(cmd, "max-iterations", "automation.max_iterations")
	cmd.Flags().Bool("headless", true, "run the browser without a window")
	configFlag(cmd, "headless", "browser.headless")
	return cmd
}

// sessionRunner is the part of the engine the automate command drives.
type sessionRunner interface {
	Start(ctx context.Context, req automation.StartRequest) (*schemas.AutomationSession, error)
	Stop(id string) error
	Wait(ctx context.Context, id string) (*schemas.AutomationSession, error)
	Subscribe(sessionID string) (<-chan schemas.Notification, func())
}

// runAutomation starts the session, prints its events as they arrive and
// returns the terminal session. Cancelling ctx stops the session.
func runAutomation(ctx context.Context, out io.Writer, engine sessionRunner, req automation.StartRequest) (*schemas.AutomationSession, error) {
	notes, unsubscribe := engine.Subscribe(req.SessionID)
	defer unsubscribe()

	session, err := engine.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Session %s started (%s): %s\n", session.SessionID, session.AgentMode, session.UserGoal)

	stopped := false
	for {
		select {
		case n, ok := <-notes:
			if !ok {
				return waitFinal(engine, session.SessionID)
			}
			if n.Event != nil {
				if line := describeEvent(*n.Event); line != "" {
					fmt.Fprintln(out, line)
				}
			}
			if n.Session != nil && n.Session.Status.Terminal() {
				return n.Session, nil
			}
		case <-ctx.Done():
			if !stopped {
				stopped = true
				fmt.Fprintln(out, "Stopping session...")
				if err := engine.Stop(session.SessionID); err != nil && !errors.Is(err, schemas.ErrSessionNotFound) {
					return nil, err
				}
			}
			return waitFinal(engine, session.SessionID)
		}
	}
}

func waitFinal(engine sessionRunner, id string) (*schemas.AutomationSession, error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return engine.Wait(ctx, id)
}

// describeEvent renders one step event as a single console line. Progress
// events only print their errors.
func describeEvent(ev schemas.AutomationEvent) string {
	data := ev.Data
	switch ev.Type {
	case schemas.EventStepStart:
		return fmt.Sprintf("-> [%v] %v %s", data["iteration"], data["tool"], formatInput(data["input"]))
	case schemas.EventStepComplete:
		return fmt.Sprintf("   ok: %v", data["output"])
	case schemas.EventStepError:
		return fmt.Sprintf("   failed: %v", data["error"])
	case schemas.EventProgress:
		if msg, ok := data["error"]; ok && msg != "" {
			return fmt.Sprintf("   warning: %v", msg)
		}
	}
	return ""
}

func formatInput(v interface{}) string {
	input, ok := v.(map[string]interface{})
	if !ok || len(input) == 0 {
		return ""
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, input[k]))
	}
	return strings.Join(parts, " ")
}

// sessionOutcome maps the terminal status to the command's exit error.
func sessionOutcome(s *schemas.AutomationSession) error {
	switch s.Status {
	case schemas.SessionCompleted:
		return nil
	case schemas.SessionStopped:
		return context.Canceled
	default:
		return fmt.Errorf("session %s %s: %s", s.SessionID, s.Status, s.Error)
	}
}
