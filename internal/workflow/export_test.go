package workflow

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browzerlabs/browzer-engine/api/schemas"
)

func TestExportYAML_RoundTrip(t *testing.T) {
	wf := &schemas.WorkflowDefinition{
		ID:          "wf-1",
		Name:        "Search",
		Description: "Searches the catalog",
		Steps: []schemas.WorkflowStep{
			{Index: 0, Type: schemas.ActionInput, Description: "Type query", Value: "boots", Variable: "q",
				Element: &schemas.ElementDescriptor{Tag: "input", Attributes: map[string]string{"name": "q"}}},
			{Index: 1, Type: schemas.ActionKey, Description: "Press Enter", Keys: []string{"Enter"}},
		},
		Variables: []schemas.WorkflowVariable{{Name: "q", Value: "boots", Type: schemas.VariableInput}},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	var buf bytes.Buffer
	require.NoError(t, ExportYAML(&buf, wf))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "version: 1\n"))
	assert.Contains(t, out, "parameters:")
	assert.Contains(t, out, "name: q")

	back, err := ImportYAML(&buf)
	require.NoError(t, err)
	assert.Equal(t, wf, back)
}

func TestExportYAML_Nil(t *testing.T) {
	assert.Error(t, ExportYAML(&bytes.Buffer{}, nil))
	_, err := ImportYAML(strings.NewReader("version: 1\n"))
	assert.Error(t, err)
}

func TestImportYAML_RejectsOutOfRangeParameters(t *testing.T) {
	doc := `version: 1
workflow:
  id: wf-bad
  name: Broken
  steps:
    - index: 0
      type: navigate
      description: Open the page
  variables:
    - name: query
      value: boots
      type: input
      step_index: 5
`
	_, err := ImportYAML(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `parameter "query" refers to step 5`)
}
