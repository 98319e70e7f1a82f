package workflow

import (
	"regexp"
	"sort"
	"strings"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

// Inference heuristics, exported so deployments can tune them.
var (
	// NoiseWords are values that never become variables.
	NoiseWords = []string{
		"continue", "next", "back", "cancel", "close", "submit", "save",
		"create", "confirm", "ok", "yes", "no", "public", "private",
	}

	// SelectionRoles are the element roles whose clicks count as choices.
	SelectionRoles = []string{
		"option", "menuitem", "menuitemradio", "menuitemcheckbox",
		"radio", "checkbox", "combobox",
	}

	// GroupVerbPattern strips the leading verb from a button label to name a
	// selection group ("Add topping" -> "topping").
	GroupVerbPattern = regexp.MustCompile(`(?i)^\s*(add|select|choose|pick)\b\s*`)

	// GroupLookback is how many preceding actions are scanned for a group label.
	GroupLookback = 3
)

const (
	defaultInputName     = "Input"
	defaultSelectionName = "Selection"
	minVariableLength    = 2
)

func isNoiseWord(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, w := range NoiseWords {
		if v == w {
			return true
		}
	}
	return false
}

func isSelectionRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	for _, r := range SelectionRoles {
		if role == r {
			return true
		}
	}
	return false
}

// InferVariables runs the input and selection passes and merges their output
// in action order. StepIndex holds the index of the originating action.
func InferVariables(actions []schemas.RecordedAction) []schemas.WorkflowVariable {
	vars := append(inputPass(actions), selectionPass(actions)...)
	sort.SliceStable(vars, func(i, j int) bool { return vars[i].StepIndex < vars[j].StepIndex })
	return vars
}

// inputPass turns typed values into input variables named after the field.
func inputPass(actions []schemas.RecordedAction) []schemas.WorkflowVariable {
	var out []schemas.WorkflowVariable
	seen := make(map[string]bool)
	for i, a := range actions {
		if a.Type != schemas.ActionInput {
			continue
		}
		value := strings.TrimSpace(a.Value)
		if value == "" {
			continue
		}
		field := inputFieldName(a.Element)
		key := field + ":" + value
		if seen[key] {
			continue
		}
		seen[key] = true
		if isNoiseWord(value) || len([]rune(value)) < minVariableLength {
			continue
		}
		out = append(out, schemas.WorkflowVariable{
			Name:      field,
			Value:     value,
			Type:      schemas.VariableInput,
			StepIndex: i,
		})
	}
	return out
}

// inputFieldName prefers the form field name, then the accessible name.
func inputFieldName(el *schemas.ElementDescriptor) string {
	if name := strings.TrimSpace(el.Attr("name")); name != "" {
		return name
	}
	if el != nil {
		if name := strings.TrimSpace(el.Name); name != "" {
			return name
		}
	}
	return defaultInputName
}

// selectionPass turns clicks on choice-like elements into selection variables.
func selectionPass(actions []schemas.RecordedAction) []schemas.WorkflowVariable {
	var out []schemas.WorkflowVariable
	seen := make(map[string]bool)
	for i, a := range actions {
		if a.Type != schemas.ActionClick || a.Element == nil || !isSelectionRole(a.Element.Role) {
			continue
		}
		name := strings.TrimSpace(a.Element.Name)
		if name == "" {
			continue
		}
		key := "selection:" + name
		if seen[key] {
			continue
		}
		seen[key] = true
		if isNoiseWord(name) {
			continue
		}
		out = append(out, schemas.WorkflowVariable{
			Name:      groupLabel(actions, i),
			Value:     name,
			Type:      schemas.VariableSelection,
			StepIndex: i,
		})
	}
	return out
}

// groupLabel finds the nearest preceding button click within GroupLookback
// actions and derives a label from it.
func groupLabel(actions []schemas.RecordedAction, at int) string {
	for j := at - 1; j >= 0 && j >= at-GroupLookback; j-- {
		a := actions[j]
		if a.Type != schemas.ActionClick || a.Element == nil {
			continue
		}
		if strings.ToLower(a.Element.Role) != "button" {
			continue
		}
		label := strings.TrimSpace(GroupVerbPattern.ReplaceAllString(a.Element.Name, ""))
		if label != "" {
			return label
		}
		return defaultSelectionName
	}
	return defaultSelectionName
}

// VariableGroup is one name with every variable recorded under it.
type VariableGroup struct {
	Name      string                     `json:"name" yaml:"name"`
	Variables []schemas.WorkflowVariable `json:"variables" yaml:"variables"`
}

// GroupVariables groups variables by name, preserving first-seen order of
// names and insertion order within a group.
func GroupVariables(vars []schemas.WorkflowVariable) []VariableGroup {
	index := make(map[string]int)
	var groups []VariableGroup
	for _, v := range vars {
		i, ok := index[v.Name]
		if !ok {
			i = len(groups)
			index[v.Name] = i
			groups = append(groups, VariableGroup{Name: v.Name})
		}
		groups[i].Variables = append(groups[i].Variables, v)
	}
	return groups
}
