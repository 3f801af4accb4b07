package websocket

import (
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionEvent    Action = "event"
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionStatus   Action = "status"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
// RequestID is echoed back so clients can match replies.
type RequestEnvelope struct {
	Action    Action `json:"action"`
	RequestID string `json:"request_id,omitempty"`
}

// EventRequest reports one security signal.
type EventRequest struct {
	RequestEnvelope
	model.ReportEventRequest
}

// AutosaveRequest is sent by the client to save a single answer.
type AutosaveRequest struct {
	RequestEnvelope
	QID    string `json:"q_id" binding:"required,max=128"`
	Answer string `json:"ans" binding:"max=128"`
}

// SubmitRequest is sent by the client to finish and grade the attempt.
// Questions it leaves out are graded from autosaved drafts.
type SubmitRequest struct {
	RequestEnvelope
	Answers map[string]string `json:"answers"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError    Event = "error"
	EventRecorded Event = "recorded"
	EventSaved    Event = "saved"
	EventGraded   Event = "graded"
	EventStatus   Event = "status"
	EventPong     Event = "pong"
)

type RecordedResponse struct {
	Event     Event                `json:"event"`
	RequestID string               `json:"request_id,omitempty"`
	Result    *proctor.EventResult `json:"result"`
}

type SavedResponse struct {
	Event     Event  `json:"event"`
	RequestID string `json:"request_id,omitempty"`
	QID       string `json:"q_id"`
}

type GradedResponse struct {
	Event     Event                 `json:"event"`
	RequestID string                `json:"request_id,omitempty"`
	Result    *proctor.SubmitResult `json:"result"`
}

type StatusResponse struct {
	Event     Event                `json:"event"`
	RequestID string               `json:"request_id,omitempty"`
	Status    *model.SessionStatus `json:"status"`
}

// ErrorResponse carries the same codes as the REST API. Status is set when
// the session already ended, with the outcome that was committed.
type ErrorResponse struct {
	Event     Event                `json:"event"`
	RequestID string               `json:"request_id,omitempty"`
	Code      response.ErrCode     `json:"code"`
	Error     string               `json:"error"`
	Status    *model.SessionStatus `json:"status,omitempty"`
}

type PongResponse struct {
	Event     Event  `json:"event"`
	RequestID string `json:"request_id,omitempty"`
}
