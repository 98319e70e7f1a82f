package schemas

import (
	"time"
)

// -- Automation Schemas --

// AgentMode is the automation strategy.
type AgentMode string

const (
	ModeAsk       AgentMode = "ask"       // Pure question answering, no page interaction.
	ModeAutomate  AgentMode = "automate"  // Guided by a reference workflow.
	ModeAutopilot AgentMode = "autopilot" // Open-ended goal pursuit.
)

// Valid reports whether m is a known agent mode.
func (m AgentMode) Valid() bool {
	return m == ModeAsk || m == ModeAutomate || m == ModeAutopilot
}

// SessionStatus is the lifecycle state of an automation session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionStopped   SessionStatus = "stopped"
)

// Terminal reports whether the status can no longer change.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionStopped
}

// EventType classifies automation events.
type EventType string

const (
	EventStepStart    EventType = "step_start"
	EventStepComplete EventType = "step_complete"
	EventStepError    EventType = "step_error"
	EventProgress     EventType = "progress"
)

// ToolUseIDKey is the data key correlating a step's start with its outcome.
const ToolUseIDKey = "toolUseId"

// AutomationEvent is one entry of a session's event log.
type AutomationEvent struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Type      EventType              `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToolUseID returns the correlation key, if any.
func (e AutomationEvent) ToolUseID() string {
	if e.Data == nil {
		return ""
	}
	id, _ := e.Data[ToolUseIDKey].(string)
	return id
}

// Clone copies the event and its data map.
func (e AutomationEvent) Clone() AutomationEvent {
	if e.Data != nil {
		data := make(map[string]interface{}, len(e.Data))
		for k, v := range e.Data {
			data[k] = v
		}
		e.Data = data
	}
	return e
}

// AutomationSession is one run of the perceive/decide/act loop.
type AutomationSession struct {
	SessionID   string            `json:"session_id"`
	UserGoal    string            `json:"user_goal"`
	RecordingID string            `json:"recording_id,omitempty"`
	WorkflowID  string            `json:"workflow_id,omitempty"`
	AgentMode   AgentMode         `json:"agent_mode"`
	Status      SessionStatus     `json:"status"`
	Events      []AutomationEvent `json:"events"`
	Result      string            `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	Iterations  int               `json:"iterations"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     *time.Time        `json:"end_time,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Clone returns a deep enough copy for handing to readers outside the engine.
func (s *AutomationSession) Clone() *AutomationSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.Events != nil {
		c.Events = make([]AutomationEvent, len(s.Events))
		for i, ev := range s.Events {
			c.Events[i] = ev.Clone()
		}
	}
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}

// NotificationKind is what observers receive.
type NotificationKind string

const (
	NotifyProgress NotificationKind = "progress"
	NotifyComplete NotificationKind = "complete"
	NotifyError    NotificationKind = "error"
)

// Notification is delivered to per-session observers in emission order.
type Notification struct {
	Kind      NotificationKind   `json:"kind"`
	SessionID string             `json:"session_id"`
	Event     *AutomationEvent   `json:"event,omitempty"`
	Session   *AutomationSession `json:"session,omitempty"` // Set on complete and error.
}
