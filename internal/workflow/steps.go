package workflow

import (
	"fmt"
	"strings"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/llmutil"
)

const maxDescribedValue = 60

// BuildSteps converts recorded actions into replayable steps. Bursts of
// scrolls collapse into their last position, consecutive navigations to the
// same URL collapse, and key presses without keys are dropped. The returned
// map translates action indices into step indices for kept actions.
func BuildSteps(actions []schemas.RecordedAction) ([]schemas.WorkflowStep, map[int]int) {
	steps := make([]schemas.WorkflowStep, 0, len(actions))
	index := make(map[int]int, len(actions))

	for i, a := range actions {
		if a.Type == schemas.ActionKey && len(a.Keys) == 0 {
			continue
		}
		if n := len(steps); n > 0 {
			last := &steps[n-1]
			switch {
			case a.Type == schemas.ActionScroll && last.Type == schemas.ActionScroll:
				last.Value = stepValue(a)
				last.PageURL = a.PageURL
				last.Description = describe(a)
				index[i] = n - 1
				continue
			case a.Type == schemas.ActionNavigate && last.Type == schemas.ActionNavigate && last.PageURL == a.PageURL:
				index[i] = n - 1
				continue
			}
		}

		step := schemas.WorkflowStep{
			Index:       len(steps),
			Type:        a.Type,
			Description: describe(a),
			PageURL:     a.PageURL,
			Value:       stepValue(a),
		}
		if len(a.Keys) > 0 {
			step.Keys = append([]string(nil), a.Keys...)
		}
		if a.Element != nil {
			el := *a.Element
			step.Element = &el
		}
		index[i] = step.Index
		steps = append(steps, step)
	}
	return steps, index
}

// elementLabel picks the most human name available for an element.
func elementLabel(el *schemas.ElementDescriptor) string {
	if el == nil {
		return "element"
	}
	for _, candidate := range []string{el.Name, el.Attr("aria-label"), el.Attr("placeholder"), el.Attr("name")} {
		if c := strings.TrimSpace(candidate); c != "" {
			return fmt.Sprintf("%q", llmutil.Truncate(c, maxDescribedValue))
		}
	}
	if el.Role != "" {
		return el.Role
	}
	if el.Tag != "" {
		return el.Tag
	}
	return "element"
}

// stepValue is the replayable payload of an action. Scroll positions are
// encoded as "x,y" and checkbox states as "true"/"false".
func stepValue(a schemas.RecordedAction) string {
	switch a.Type {
	case schemas.ActionScroll:
		return fmt.Sprintf("%d,%d", a.ScrollX, a.ScrollY)
	case schemas.ActionCheckboxChange, schemas.ActionRadioChange:
		if a.Checked != nil {
			return fmt.Sprintf("%t", *a.Checked)
		}
	}
	return a.Value
}

func describe(a schemas.RecordedAction) string {
	value := llmutil.Truncate(a.Value, maxDescribedValue)
	switch a.Type {
	case schemas.ActionClick:
		return "Click " + elementLabel(a.Element)
	case schemas.ActionInput:
		if a.Value == "" {
			return "Clear " + elementLabel(a.Element)
		}
		return fmt.Sprintf("Type %q into %s", value, elementLabel(a.Element))
	case schemas.ActionNavigate:
		return "Navigate to " + a.PageURL
	case schemas.ActionKey:
		return "Press " + strings.Join(a.Keys, "+")
	case schemas.ActionScroll:
		return fmt.Sprintf("Scroll to (%d, %d)", a.ScrollX, a.ScrollY)
	case schemas.ActionSelectChange:
		return fmt.Sprintf("Select %q in %s", value, elementLabel(a.Element))
	case schemas.ActionCheckboxChange:
		if a.Checked != nil && !*a.Checked {
			return "Uncheck " + elementLabel(a.Element)
		}
		return "Check " + elementLabel(a.Element)
	case schemas.ActionRadioChange:
		return "Choose " + elementLabel(a.Element)
	case schemas.ActionTabSwitch:
		if a.PageURL != "" {
			return "Switch to tab " + a.PageURL
		}
		return "Switch tab"
	case schemas.ActionContextMenu:
		return "Open the context menu on " + elementLabel(a.Element)
	default:
		return string(a.Type)
	}
}
