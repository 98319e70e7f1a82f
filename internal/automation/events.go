package automation

import (
	"github.com/browzerlabs/browzer-engine/api/schemas"
)

// MergeEvent folds ev into log and returns the new log. The input slice is
// never modified.
//
// A step_complete or step_error whose toolUseId matches an entry already in
// the log replaces that entry at the same position. A repeated step_start
// for a known toolUseId is ignored so a completion is never regressed.
// Progress events are never matched by toolUseId. Any event whose ID is
// already present is treated as a redelivery and dropped. Everything else is
// appended.
func MergeEvent(log []schemas.AutomationEvent, ev schemas.AutomationEvent) []schemas.AutomationEvent {
	out := make([]schemas.AutomationEvent, len(log), len(log)+1)
	copy(out, log)

	if toolUseID := ev.ToolUseID(); toolUseID != "" && isStepEvent(ev.Type) {
		if i := indexByToolUse(out, toolUseID); i >= 0 {
			switch ev.Type {
			case schemas.EventStepComplete, schemas.EventStepError:
				out[i] = ev.Clone()
			}
			return out
		}
	}

	if ev.ID != "" {
		for _, existing := range out {
			if existing.ID == ev.ID {
				return out
			}
		}
	}
	return append(out, ev.Clone())
}

func indexByToolUse(log []schemas.AutomationEvent, toolUseID string) int {
	for i := range log {
		if isStepEvent(log[i].Type) && log[i].ToolUseID() == toolUseID {
			return i
		}
	}
	return -1
}

func isStepEvent(t schemas.EventType) bool {
	switch t {
	case schemas.EventStepStart, schemas.EventStepComplete, schemas.EventStepError:
		return true
	}
	return false
}
