package schemas

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is;
// producers wrap with fmt.Errorf("...: %w", ErrX).
var (
	// ErrExtraction is a recoverable, per-step snapshot failure (e.g. mid-navigation).
	ErrExtraction = errors.New("snapshot extraction failed")
	// ErrAlreadyRecording is returned by Start when the recorder is not idle.
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	// ErrNoActiveRecording is returned by Stop when nothing is being recorded.
	ErrNoActiveRecording = errors.New("no active recording")
	// ErrNoStoppedRecording is returned by Save when there is nothing to save.
	ErrNoStoppedRecording = errors.New("no stopped recording to save")
	// ErrCollaborator wraps network, auth and malformed-response LLM failures.
	ErrCollaborator = errors.New("llm collaborator error")
	// ErrToolExecution marks an action against the page that failed.
	ErrToolExecution = errors.New("tool execution failed")
	// ErrSessionAlreadyRunning is returned when a loop already holds the session id.
	ErrSessionAlreadyRunning = errors.New("automation session already running")
	// ErrSessionNotFound covers unknown and already terminal sessions.
	ErrSessionNotFound = errors.New("automation session not found")
	// ErrStorage wraps persistence read/write failures.
	ErrStorage = errors.New("storage error")
	// ErrNotFound is returned by repositories for missing records.
	ErrNotFound = errors.New("record not found")
)
