package workflow

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// exportDocument is the on-disk shape of an exported workflow. Variables are
// presented grouped by name.
type exportDocument struct {
	Version  int                         `yaml:"version"`
	Workflow *schemas.WorkflowDefinition `yaml:"workflow"`
	Groups   []VariableGroup             `yaml:"parameters,omitempty"`
}

// ExportYAML writes wf as a YAML document.
func ExportYAML(w io.Writer, wf *schemas.WorkflowDefinition) error {
	if wf == nil {
		return fmt.Errorf("workflow is nil")
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	doc := exportDocument{Version: 1, Workflow: wf, Groups: GroupVariables(wf.Variables)}
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", wf.ID, err)
	}
	return enc.Close()
}

// ImportYAML reads a document written by ExportYAML.
func ImportYAML(r io.Reader) (*schemas.WorkflowDefinition, error) {
	var doc exportDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode workflow document: %w", err)
	}
	if doc.Workflow == nil {
		return nil, fmt.Errorf("document has no workflow")
	}
	for _, v := range doc.Workflow.Variables {
		if v.StepIndex < 0 || v.StepIndex >= len(doc.Workflow.Steps) {
			return nil, fmt.Errorf("parameter %q refers to step %d, but the workflow has %d steps",
				v.Name, v.StepIndex, len(doc.Workflow.Steps))
		}
	}
	return doc.Workflow, nil
}
