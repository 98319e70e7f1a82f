package schemas

import (
	"time"
)

// -- Recording Schemas --

// ActionType enumerates the raw interactions the recorder captures.
type ActionType string

const (
	ActionClick          ActionType = "click"
	ActionInput          ActionType = "type"
	ActionNavigate       ActionType = "navigate"
	ActionKey            ActionType = "key"
	ActionTabSwitch      ActionType = "tab-switch"
	ActionContextMenu    ActionType = "context-menu"
	ActionScroll         ActionType = "scroll"
	ActionSelectChange   ActionType = "select-change"
	ActionCheckboxChange ActionType = "checkbox-change"
	ActionRadioChange    ActionType = "radio-change"
)

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	switch t {
	case ActionClick, ActionInput, ActionNavigate, ActionKey, ActionTabSwitch,
		ActionContextMenu, ActionScroll, ActionSelectChange, ActionCheckboxChange, ActionRadioChange:
		return true
	}
	return false
}

// ElementDescriptor is a lightweight, bounded description of the element an
// action targeted. It never holds a live node reference.
type ElementDescriptor struct {
	Tag        string            `json:"tag,omitempty" yaml:"tag,omitempty"`
	Role       string            `json:"role,omitempty" yaml:"role,omitempty"`   // Explicit or implicit ARIA role.
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`   // Accessible name.
	Value      string            `json:"value,omitempty" yaml:"value,omitempty"` // Current value at capture time.
	Selector   string            `json:"selector,omitempty" yaml:"selector,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"` // Bounded attribute set.
}

// Attr returns the named attribute or "".
func (d *ElementDescriptor) Attr(name string) string {
	if d == nil || d.Attributes == nil {
		return ""
	}
	return d.Attributes[name]
}

// RecordedAction is one captured interaction. Immutable once appended.
type RecordedAction struct {
	Type      ActionType         `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	PageURL   string             `json:"page_url"`
	Element   *ElementDescriptor `json:"element,omitempty"`
	Value     string             `json:"value,omitempty"`    // type, select-change, navigate target.
	Keys      []string           `json:"keys,omitempty"`     // key.
	ScrollX   int                `json:"scroll_x,omitempty"` // scroll.
	ScrollY   int                `json:"scroll_y,omitempty"` // scroll.
	Checked   *bool              `json:"checked,omitempty"`  // checkbox-change, radio-change.
}

// RecordingStatus is the recorder state machine's state.
type RecordingStatus string

const (
	RecordingIdle      RecordingStatus = "idle"
	RecordingRecording RecordingStatus = "recording"
	RecordingStopped   RecordingStatus = "stopped"
)

// RecordingSession is an ordered raw interaction trace.
type RecordingSession struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Status      RecordingStatus  `json:"status"`
	Actions     []RecordedAction `json:"actions"`
	StartTime   time.Time        `json:"start_time"`
	Duration    time.Duration    `json:"duration"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Clone copies the session and its action slice. Actions are immutable and
// shared.
func (s *RecordingSession) Clone() *RecordingSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.Actions != nil {
		c.Actions = append([]RecordedAction(nil), s.Actions...)
	}
	return &c
}
