package schemas

import (
	"time"
)

// -- Workflow Schemas --

// VariableType distinguishes free-text inputs from discrete choices.
type VariableType string

const (
	VariableInput     VariableType = "input"
	VariableSelection VariableType = "selection"
)

// WorkflowVariable is a parameter inferred from a recording.
type WorkflowVariable struct {
	Name      string       `json:"name" yaml:"name"`
	Value     string       `json:"value" yaml:"value"`
	Type      VariableType `json:"type" yaml:"type"`
	StepIndex int          `json:"step_index" yaml:"step_index"` // Index of the step the value came from.
}

// WorkflowStep is one meaningful action of a synthesized workflow.
type WorkflowStep struct {
	Index       int                `json:"index" yaml:"index"`
	Type        ActionType         `json:"type" yaml:"type"`
	Description string             `json:"description" yaml:"description"`
	PageURL     string             `json:"page_url,omitempty" yaml:"page_url,omitempty"`
	Element     *ElementDescriptor `json:"element,omitempty" yaml:"element,omitempty"`
	Value       string             `json:"value,omitempty" yaml:"value,omitempty"`
	Keys        []string           `json:"keys,omitempty" yaml:"keys,omitempty"`
	Variable    string             `json:"variable,omitempty" yaml:"variable,omitempty"` // Name of the variable bound to Value.
}

// WorkflowDefinition is a named, parameterized, replayable workflow.
type WorkflowDefinition struct {
	ID                string             `json:"id" yaml:"id"`
	Name              string             `json:"name" yaml:"name"`
	Description       string             `json:"description" yaml:"description"`
	Steps             []WorkflowStep     `json:"steps" yaml:"steps"`
	Variables         []WorkflowVariable `json:"variables" yaml:"variables"`
	SourceRecordingID string             `json:"source_recording_id,omitempty" yaml:"source_recording_id,omitempty"`
	Enhanced          bool               `json:"enhanced" yaml:"enhanced"`
	CreatedAt         time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy of the definition.
func (wf *WorkflowDefinition) Clone() *WorkflowDefinition {
	if wf == nil {
		return nil
	}
	c := *wf
	if wf.Steps != nil {
		c.Steps = make([]WorkflowStep, len(wf.Steps))
		for i, st := range wf.Steps {
			c.Steps[i] = st
			if st.Element != nil {
				el := *st.Element
				if st.Element.Attributes != nil {
					el.Attributes = make(map[string]string, len(st.Element.Attributes))
					for k, v := range st.Element.Attributes {
						el.Attributes[k] = v
					}
				}
				c.Steps[i].Element = &el
			}
			if st.Keys != nil {
				c.Steps[i].Keys = append([]string(nil), st.Keys...)
			}
		}
	}
	if wf.Variables != nil {
		c.Variables = append([]WorkflowVariable(nil), wf.Variables...)
	}
	return &c
}
