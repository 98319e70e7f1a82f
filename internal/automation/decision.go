package automation

import (
	"fmt"
	"strings"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/llmutil"
)

// Tool names understood by the engine.
const (
	ToolNavigate = "navigate"
	ToolClick    = "click"
	ToolType     = "type"
	ToolPressKey = "press_key"
	ToolScroll   = "scroll"
	ToolDone     = "done"
)

// maxTranscript bounds how many prior steps are replayed to the collaborator.
const maxTranscript = 20

// Decision is the collaborator's choice for the next step.
type Decision struct {
	Thought  string `json:"thought,omitempty"`
	Tool     string `json:"tool"`
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Keys     string `json:"keys,omitempty"`
	DeltaX   int    `json:"dx,omitempty"`
	DeltaY   int    `json:"dy,omitempty"`
	Result   string `json:"result,omitempty"`
}

// Finished reports whether the decision ends the session.
func (d *Decision) Finished() bool {
	return strings.EqualFold(d.Tool, ToolDone)
}

// Input returns the tool parameters recorded on step events.
func (d *Decision) Input() map[string]interface{} {
	in := map[string]interface{}{}
	if d.Selector != "" {
		in["selector"] = d.Selector
	}
	if d.Text != "" {
		in["text"] = d.Text
	}
	if d.URL != "" {
		in["url"] = d.URL
	}
	if d.Keys != "" {
		in["keys"] = d.Keys
	}
	if d.DeltaX != 0 || d.DeltaY != 0 {
		in["dx"] = d.DeltaX
		in["dy"] = d.DeltaY
	}
	return in
}

// parseDecision reads a decision out of a raw collaborator response.
func parseDecision(response string) (*Decision, error) {
	d, err := llmutil.ParseJSONResponse[Decision](response)
	if err != nil {
		return nil, err
	}
	d.Tool = strings.ToLower(strings.TrimSpace(d.Tool))
	if d.Tool == "" {
		return nil, fmt.Errorf("decision has no tool")
	}
	return d, nil
}

const decisionSystemPrompt = `You are a browser automation agent. You reach the user's goal by choosing one browser action at a time.
You receive the goal, the interactive elements of the current page, the steps taken so far and, when available, a reference workflow recorded by the user.
Each element is listed as <tag attr="value" ...>. Build CSS selectors from the id, name, data-testid, aria-label or other listed attributes.

Available tools:
- navigate: open a URL. Params: url
- click: click an element. Params: selector
- type: type text into a field. Params: selector, text
- press_key: press a key combination such as "Enter" or "Control+a". Params: keys
- scroll: scroll the page by a pixel offset. Params: dx, dy
- done: the goal is reached or cannot be reached. Params: result (a short summary for the user)

If a previous step failed, read the error and choose a different action.
Respond with a single JSON object and nothing else, for example:
{"thought": "The search box is visible.", "tool": "type", "selector": "#q", "text": "weather"}`

const askSystemPrompt = `You are a helpful assistant embedded in a web browser. Answer the user's question directly and concisely.`

// transcriptEntry is one line of step history replayed to the collaborator.
type transcriptEntry struct {
	Iteration int
	Summary   string
}

type promptInput struct {
	Goal      string
	Snapshot  *schemas.PageSnapshot
	Reference *schemas.WorkflowDefinition
	History   []transcriptEntry
	Iteration int
	MaxSteps  int
}

func buildDecisionPrompt(in promptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", in.Goal)
	fmt.Fprintf(&b, "Step %d of at most %d.\n", in.Iteration, in.MaxSteps)

	if in.Reference != nil && len(in.Reference.Steps) > 0 {
		fmt.Fprintf(&b, "\nReference workflow %q:\n", in.Reference.Name)
		for i, step := range in.Reference.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step.Description)
		}
		if len(in.Reference.Variables) > 0 {
			b.WriteString("Parameters from the recording (adapt them to the goal):\n")
			for _, v := range in.Reference.Variables {
				fmt.Fprintf(&b, "- %s = %q\n", v.Name, v.Value)
			}
		}
	}

	history := in.History
	if len(history) > maxTranscript {
		history = history[len(history)-maxTranscript:]
	}
	if len(history) > 0 {
		b.WriteString("\nSteps so far:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "%d. %s\n", h.Iteration, h.Summary)
		}
	}

	b.WriteString("\nCurrent page:\n")
	if in.Snapshot != nil {
		b.WriteString(in.Snapshot.String())
	} else {
		b.WriteString("(unavailable)\n")
	}
	b.WriteString("\nChoose the next action.")
	return b.String()
}
