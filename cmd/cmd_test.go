package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/automation"
	"github.com/browzerlabs/browzer-engine/internal/config"
	"github.com/browzerlabs/browzer-engine/internal/workflow"
)

const testConfig = `
logger:
  level: error
  log_file: ""
store:
  backend: memory
`

// writeConfig creates a config file in a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// executeCommand runs a fresh command tree and captures its output.
func executeCommand(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	if stdin != nil {
		root.SetIn(stdin)
	}
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	out, err := executeCommand(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "browzer "+Version+"\n", out)

	out, err = executeCommand(t, nil, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRootHelpListsCommands(t *testing.T) {
	out, err := executeCommand(t, nil, "--help")
	require.NoError(t, err)
	for _, name := range []string{"record", "automate", "workflow", "history", "serve", "version"} {
		assert.Contains(t, out, name)
	}
}

func TestArgumentValidation(t *testing.T) {
	cfg := writeConfig(t, testConfig)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"automate needs a goal", []string{"automate", "-c", cfg}, "requires at least 1 arg"},
		{"show needs an id", []string{"workflow", "show", "-c", cfg}, "accepts 1 arg"},
		{"history takes no args", []string{"history", "extra", "-c", cfg}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, nil, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInvalidConfigIsRejected(t *testing.T) {
	cfg := writeConfig(t, testConfig+"\nautomation:\n  max_iterations: 0\n")
	_, err := executeCommand(t, nil, "history", "-c", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_iterations")

	_, err = executeCommand(t, nil, "history", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestHistoryAndWorkflowsOnEmptyStore(t *testing.T) {
	cfg := writeConfig(t, testConfig)

	out, err := executeCommand(t, nil, "history", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found.")

	out, err = executeCommand(t, nil, "workflow", "list", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No workflows found.")

	_, err = executeCommand(t, nil, "workflow", "show", "nope", "-c", cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrNotFound), err.Error())

	_, err = executeCommand(t, nil, "history", "show", "nope", "-c", cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemas.ErrNotFound), err.Error())
}

func TestWorkflowImport(t *testing.T) {
	cfg := writeConfig(t, testConfig)

	wf := &schemas.WorkflowDefinition{
		ID:   "wf-import",
		Name: "Search docs",
		Steps: []schemas.WorkflowStep{
			{Index: 0, Type: schemas.ActionNavigate, Description: "Navigate to https://example.com"},
		},
	}
	var doc bytes.Buffer
	require.NoError(t, workflow.ExportYAML(&doc, wf))
	path := filepath.Join(t.TempDir(), "wf.yaml")
	require.NoError(t, os.WriteFile(path, doc.Bytes(), 0o600))

	out, err := executeCommand(t, nil, "workflow", "import", path, "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported workflow wf-import (Search docs)")
}

func TestBindConfigFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("addr", "", "")
	cmd.Flags().Int("max-iterations", 0, "")
	configFlag(cmd, "addr", "server.addr")
	configFlag(cmd, "max-iterations", "automation.max_iterations")
	require.NoError(t, cmd.Flags().Set("addr", "0.0.0.0:9000"))

	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, bindConfigFlags(v, cmd))

	assert.Equal(t, "0.0.0.0:9000", v.GetString("server.addr"), "a set flag wins")
	assert.Equal(t, 30, v.GetInt("automation.max_iterations"), "an unset flag keeps the default")
}

func TestDescribeEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   schemas.AutomationEvent
		want string
	}{
		{
			name: "step start",
			ev: schemas.AutomationEvent{Type: schemas.EventStepStart, Data: map[string]interface{}{
				"iteration": 2, "tool": "type",
				"input": map[string]interface{}{"text": "shoes", "selector": "#q"},
			}},
			want: "-> [2] type selector=#q text=shoes",
		},
		{
			name: "step complete",
			ev:   schemas.AutomationEvent{Type: schemas.EventStepComplete, Data: map[string]interface{}{"output": "clicked #go"}},
			want: "   ok: clicked #go",
		},
		{
			name: "step error",
			ev:   schemas.AutomationEvent{Type: schemas.EventStepError, Data: map[string]interface{}{"error": "node not found"}},
			want: "   failed: node not found",
		},
		{
			name: "progress with error",
			ev:   schemas.AutomationEvent{Type: schemas.EventProgress, Data: map[string]interface{}{"error": "timeout"}},
			want: "   warning: timeout",
		},
		{
			name: "plain progress",
			ev:   schemas.AutomationEvent{Type: schemas.EventProgress, Data: map[string]interface{}{"phase": "decide"}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeEvent(tt.ev))
		})
	}
}

func TestSessionOutcome(t *testing.T) {
	assert.NoError(t, sessionOutcome(&schemas.AutomationSession{Status: schemas.SessionCompleted}))
	assert.ErrorIs(t, sessionOutcome(&schemas.AutomationSession{Status: schemas.SessionStopped}), context.Canceled)

	err := sessionOutcome(&schemas.AutomationSession{SessionID: "s1", Status: schemas.SessionFailed, Error: "budget"})
	require.Error(t, err)
	assert.Equal(t, "session s1 failed: budget", err.Error())
}

// scriptedRunner replays notifications and records Stop calls.
type scriptedRunner struct {
	mu      sync.Mutex
	notes   chan schemas.Notification
	final   *schemas.AutomationSession
	stopped []string
}

func (r *scriptedRunner) Start(_ context.Context, req automation.StartRequest) (*schemas.AutomationSession, error) {
	return &schemas.AutomationSession{SessionID: req.SessionID, UserGoal: req.UserGoal, AgentMode: schemas.ModeAutopilot, Status: schemas.SessionRunning}, nil
}

func (r *scriptedRunner) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, id)
	return nil
}

func (r *scriptedRunner) Wait(context.Context, string) (*schemas.AutomationSession, error) {
	return r.final, nil
}

func (r *scriptedRunner) Subscribe(string) (<-chan schemas.Notification, func()) {
	return r.notes, func() {}
}

func TestRunAutomation_PrintsStepsUntilTerminal(t *testing.T) {
	final := &schemas.AutomationSession{SessionID: "s1", Status: schemas.SessionCompleted, Result: "done"}
	runner := &scriptedRunner{notes: make(chan schemas.Notification, 4), final: final}
	runner.notes <- schemas.Notification{Kind: schemas.NotifyProgress, Event: &schemas.AutomationEvent{
		Type: schemas.EventStepStart,
		Data: map[string]interface{}{"iteration": 1, "tool": "navigate", "input": map[string]interface{}{"url": "https://example.com"}},
	}}
	runner.notes <- schemas.Notification{Kind: schemas.NotifyProgress, Event: &schemas.AutomationEvent{
		Type: schemas.EventStepComplete, Data: map[string]interface{}{"output": "navigated to https://example.com"},
	}}
	runner.notes <- schemas.Notification{Kind: schemas.NotifyComplete, Session: final}

	var out bytes.Buffer
	got, err := runAutomation(context.Background(), &out, runner, automation.StartRequest{SessionID: "s1", UserGoal: "open example"})
	require.NoError(t, err)
	assert.Same(t, final, got)
	assert.Equal(t, strings.Join([]string{
		"Session s1 started (autopilot): open example",
		"-> [1] navigate url=https://example.com",
		"   ok: navigated to https://example.com",
		"",
	}, "\n"), out.String())
	assert.Empty(t, runner.stopped)
}

func TestRunAutomation_CancelStopsSession(t *testing.T) {
	final := &schemas.AutomationSession{SessionID: "s2", Status: schemas.SessionStopped, Error: automation.StoppedByUser}
	runner := &scriptedRunner{notes: make(chan schemas.Notification), final: final}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	got, err := runAutomation(ctx, &out, runner, automation.StartRequest{SessionID: "s2", UserGoal: "g"})
	require.NoError(t, err)
	assert.Equal(t, schemas.SessionStopped, got.Status)
	assert.Equal(t, []string{"s2"}, runner.stopped)
	assert.Contains(t, out.String(), "Stopping session...")
}

func TestWaitForEnter(t *testing.T) {
	require.NoError(t, waitForEnter(context.Background(), strings.NewReader("\n")))
	require.NoError(t, waitForEnter(context.Background(), strings.NewReader("")), "EOF counts as enter")

	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, waitForEnter(ctx, pr), context.DeadlineExceeded)
}

func TestPrintWorkflowAndClip(t *testing.T) {
	var out bytes.Buffer
	printWorkflow(&out, &schemas.WorkflowDefinition{
		ID: "wf-1", Name: "Checkout",
		Steps:     []schemas.WorkflowStep{{Index: 0, Description: "Click \"Buy\""}},
		Variables: []schemas.WorkflowVariable{{Name: "quantity", Value: "2", Type: schemas.VariableInput, StepIndex: 0}},
	})
	assert.Equal(t, "Workflow wf-1: Checkout\n   1. Click \"Buy\"\n  Parameters:\n    quantity = \"2\" (input, step 1)\n", out.String())

	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abcdefg...", clip("abcdefghijklmnop", 10))
}
