package schemas

import (
	"context"
	"encoding/json"
)

// -- Browsing Surface --

// BrowsingSurface is the actuator the engine and the recorder drive. It hides
// whether the page lives in a chromedp tab, a remote browser, or a test fake.
type BrowsingSurface interface {
	ID() string                                                   // Returns the unique ID of the surface.
	Navigate(ctx context.Context, url string) error               // Navigates to a new URL and waits for the body.
	Click(ctx context.Context, selector string) error             // Clicks on an element matching the selector.
	Type(ctx context.Context, selector string, text string) error // Types text into an element.
	PressKey(ctx context.Context, data KeyEventData) error        // Dispatches a key press with modifiers.
	Scroll(ctx context.Context, deltaX, deltaY int) error         // Scrolls the viewport by the given deltas.
	// ExecuteScript evaluates a JavaScript expression and returns its JSON value.
	// The extractor uses this as its only entry point into the page.
	ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error)
}

// BindingSurface is implemented by surfaces that can forward page-side events
// back into Go. The recorder needs it; automation does not.
type BindingSurface interface {
	BrowsingSurface
	// ExposeBinding registers a page-global function that delivers its string
	// payload to handler.
	ExposeBinding(ctx context.Context, name string, handler func(payload string)) error
	// InjectScriptPersistently evaluates script now and on every new document.
	InjectScriptPersistently(ctx context.Context, script string) error
}

// -- LLM Client Schemas & Interface --

// GenerationOptions controls sampling for a single request.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`       // Controls randomness. Lower is more deterministic.
	ForceJSONFormat bool    `json:"force_json_format"` // If true, forces the model to output valid JSON.
	TopP            float64 `json:"top_p"`             // Nucleus sampling parameter.
	TopK            int     `json:"top_k"`             // Top-k sampling parameter.
	MaxTokens       int     `json:"max_tokens"`        // Upper bound on generated tokens, 0 for provider default.
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"` // Instructions for the model's persona and task.
	UserPrompt   string            `json:"user_prompt"`   // The specific query or input from the user.
	Model        string            `json:"model"`         // Overrides the configured model when set.
	Options      GenerationOptions `json:"options"`       // Advanced generation parameters.
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}

// CallRequest is the provider-agnostic decision oracle request.
type CallRequest struct {
	Provider     string  `json:"provider"`
	APIKey       string  `json:"api_key,omitempty"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	ForceJSON    bool    `json:"force_json,omitempty"`
}

// CallResult mirrors the collaborator contract: failures are values, not panics.
type CallResult struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Collaborator is the LLM decision oracle consumed by the engine and the
// synthesizer.
type Collaborator interface {
	Call(ctx context.Context, req CallRequest) CallResult
}
