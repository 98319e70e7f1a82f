package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/browzerlabs/browzer-engine/api/schemas"
	"github.com/browzerlabs/browzer-engine/internal/llmutil"
)

const enhanceSystemPrompt = `You improve recorded browser workflows so a person can read and reuse them.
Respond with a single JSON object and nothing else:
{"name": string, "description": string,
 "steps": [{"index": int, "description": string}],
 "variables": [{"step_index": int, "name": string}]}
Return exactly one entry in "steps" for every step you were given, keeping its index.
"variables" renames existing parameters; omit it to keep the current names.`

type enhancedStep struct {
	Index       int    `json:"index"`
	Description string `json:"description"`
}

type enhancedVariable struct {
	StepIndex int    `json:"step_index"`
	Name      string `json:"name"`
}

type enhancement struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Steps       []enhancedStep     `json:"steps"`
	Variables   []enhancedVariable `json:"variables"`
}

// EnhanceWorkflow asks the collaborator for better descriptions and variable
// names. The rewrite is validated as a whole; on any failure the stored
// definition is returned unchanged alongside an ErrCollaborator error.
func (s *Synthesizer) EnhanceWorkflow(ctx context.Context, id string) (*schemas.WorkflowDefinition, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: no workflow store configured", schemas.ErrStorage)
	}
	current, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.collab == nil {
		return current, fmt.Errorf("%w: no collaborator configured", schemas.ErrCollaborator)
	}

	prompt, err := enhancePrompt(current)
	if err != nil {
		return current, fmt.Errorf("%w: %w", schemas.ErrCollaborator, err)
	}
	res := s.collab.Call(ctx, schemas.CallRequest{
		Provider:     s.opts.Provider,
		APIKey:       s.opts.APIKey,
		Model:        s.opts.Model,
		MaxTokens:    s.opts.MaxTokens,
		SystemPrompt: enhanceSystemPrompt,
		Prompt:       prompt,
		Temperature:  0.2,
		ForceJSON:    true,
	})
	if !res.Success {
		s.logger.Warn("Workflow enhancement failed", zap.String("workflow_id", id), zap.String("error", res.Error))
		return current, fmt.Errorf("%w: %s", schemas.ErrCollaborator, res.Error)
	}

	enh, err := llmutil.ParseJSONResponse[enhancement](res.Response)
	if err != nil {
		return current, fmt.Errorf("%w: %w", schemas.ErrCollaborator, err)
	}
	next, err := applyEnhancement(current, enh)
	if err != nil {
		return current, fmt.Errorf("%w: rejected enhancement: %w", schemas.ErrCollaborator, err)
	}
	next.UpdatedAt = s.now()

	if err := s.persist(ctx, next); err != nil {
		return current, err
	}
	s.logger.Info("Workflow enhanced", zap.String("workflow_id", id))
	return next, nil
}

func enhancePrompt(wf *schemas.WorkflowDefinition) (string, error) {
	type promptStep struct {
		Index       int    `json:"index"`
		Type        string `json:"type"`
		Description string `json:"description"`
		PageURL     string `json:"page_url,omitempty"`
		Variable    string `json:"variable,omitempty"`
	}
	steps := make([]promptStep, len(wf.Steps))
	for i, st := range wf.Steps {
		steps[i] = promptStep{
			Index:       st.Index,
			Type:        string(st.Type),
			Description: st.Description,
			PageURL:     st.PageURL,
			Variable:    st.Variable,
		}
	}
	body, err := json.MarshalIndent(map[string]interface{}{
		"name":        wf.Name,
		"description": wf.Description,
		"steps":       steps,
		"variables":   wf.Variables,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode workflow: %w", err)
	}
	return "Improve this workflow:\n" + string(body), nil
}

// applyEnhancement returns a rewritten copy of wf, or an error if any part of
// the enhancement is unusable.
func applyEnhancement(wf *schemas.WorkflowDefinition, enh *enhancement) (*schemas.WorkflowDefinition, error) {
	if strings.TrimSpace(enh.Description) == "" {
		return nil, errors.New("description is empty")
	}
	if len(enh.Steps) != len(wf.Steps) {
		return nil, fmt.Errorf("expected %d step descriptions, got %d", len(wf.Steps), len(enh.Steps))
	}

	next := wf.Clone()
	seen := make(map[int]bool, len(enh.Steps))
	for _, st := range enh.Steps {
		if st.Index < 0 || st.Index >= len(next.Steps) || seen[st.Index] {
			return nil, fmt.Errorf("invalid step index %d", st.Index)
		}
		desc := strings.TrimSpace(st.Description)
		if desc == "" {
			return nil, fmt.Errorf("step %d has an empty description", st.Index)
		}
		seen[st.Index] = true
		next.Steps[st.Index].Description = desc
	}

	for _, v := range enh.Variables {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			return nil, fmt.Errorf("variable at step %d has an empty name", v.StepIndex)
		}
		if v.StepIndex < 0 || v.StepIndex >= len(next.Steps) {
			return nil, fmt.Errorf("variable step index %d out of range", v.StepIndex)
		}
		found := false
		for i := range next.Variables {
			if next.Variables[i].StepIndex == v.StepIndex {
				next.Variables[i].Name = name
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("no variable at step %d", v.StepIndex)
		}
		next.Steps[v.StepIndex].Variable = name
	}

	if name := strings.TrimSpace(enh.Name); name != "" {
		next.Name = name
	}
	next.Description = strings.TrimSpace(enh.Description)
	next.Enhanced = true
	return next, nil
}
