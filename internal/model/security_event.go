package model

import (
	"time"
)

// EventType enumerates the client signals the engine understands.
type EventType string

const (
	EventTabSwitch              EventType = "tab_switch"
	EventFullscreenExit         EventType = "fullscreen_exit"
	EventCopyPasteAttempt       EventType = "copy_paste_attempt"
	EventRightClickBlocked      EventType = "right_click_blocked"
	EventDevToolsAttempt        EventType = "dev_tools_attempt"
	EventMultiplePersons        EventType = "multiple_persons_detected"
	EventFullscreenEnableFailed EventType = "fullscreen_enable_failed"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventTabSwitch,
	EventFullscreenExit,
	EventCopyPasteAttempt,
	EventRightClickBlocked,
	EventDevToolsAttempt,
	EventMultiplePersons,
	EventFullscreenEnableFailed,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// SecurityEvent is one entry of a session's audit trail.
type SecurityEvent struct {
	EventID    string     `json:"event_id"`
	Type       EventType  `json:"type"`
	Severity   int        `json:"severity"`
	Sequence   int        `json:"sequence"`
	ReportedAt *time.Time `json:"reported_at,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// ReportEventRequest is the payload a learner's client sends for each signal.
// Any severity the client might send is ignored.
type ReportEventRequest struct {
	EventID         string     `json:"event_id" binding:"required,max=128"`
	Type            EventType  `json:"type" binding:"required,event_type"`
	ClientTimestamp *time.Time `json:"client_timestamp" binding:"omitempty"`
}
