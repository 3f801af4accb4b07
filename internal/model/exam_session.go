package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState enumerates exam session states.
type SessionState string

const (
	SessionStateCreated   SessionState = "CREATED"
	SessionStateActive    SessionState = "ACTIVE"
	SessionStateSubmitted SessionState = "SUBMITTED"
	SessionStateExpired   SessionState = "EXPIRED"
	SessionStateSuspended SessionState = "SUSPENDED"
	SessionStateFinalized SessionState = "FINALIZED"
	SessionStateCancelled SessionState = "CANCELLED"
)

// Terminal reports whether the session has left Active for good.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionStateSubmitted, SessionStateExpired, SessionStateSuspended,
		SessionStateFinalized, SessionStateCancelled:
		return true
	}
	return false
}

// Outcome is the pass/fail semantics assigned to a finished attempt.
type Outcome string

const (
	OutcomeNone          Outcome = ""
	OutcomePassed        Outcome = "PASSED"
	OutcomeFailed        Outcome = "FAILED"
	OutcomePendingReview Outcome = "PENDING_REVIEW"
	OutcomeCancelled     Outcome = "CANCELLED"
)

// AttemptKey identifies one attempt of one learner at one exam.
type AttemptKey struct {
	ExamID        uuid.UUID
	UserID        string
	AttemptNumber int
}

// ExamSession represents a learner's proctored attempt.
type ExamSession struct {
	ID                 string            `json:"id"`
	ExamID             uuid.UUID         `json:"exam_id"`
	UserID             string            `json:"user_id"`
	AttemptNumber      int               `json:"attempt_number"`
	Configuration      ExamConfiguration `json:"configuration"`
	PassingScore       int               `json:"passing_score"`
	State              SessionState      `json:"state"`
	Disposition        SessionState      `json:"disposition,omitempty"`
	StartedAt          time.Time         `json:"started_at"`
	Deadline           time.Time         `json:"deadline"`
	FinishedAt         *time.Time        `json:"finished_at,omitempty"`
	RandomizationSeed  uint64            `json:"-"`
	CumulativeSeverity int               `json:"cumulative_severity"`
	ReviewRequired     bool              `json:"review_required"`
	Events             []SecurityEvent   `json:"events,omitempty"`
	Drafts             map[string]string `json:"-"`
	Answers            map[string]string `json:"answers,omitempty"`
	Score              *int              `json:"score,omitempty"`
	Outcome            Outcome           `json:"outcome,omitempty"`
	CancelReason       string            `json:"cancel_reason,omitempty"`
	ReviewedBy         string            `json:"reviewed_by,omitempty"`
	ReviewNote         string            `json:"review_note,omitempty"`

	// Questions is the question set with answer keys, frozen at start in
	// published order. Republishing the exam never changes it.
	Questions []Question `json:"-"`
}

// Key returns the attempt tuple of the session.
func (s *ExamSession) Key() AttemptKey {
	return AttemptKey{ExamID: s.ExamID, UserID: s.UserID, AttemptNumber: s.AttemptNumber}
}

// Clone returns a deep copy. Events are shared by capacity-capped slice so an
// append on the copy never writes into the original's backing array.
func (s *ExamSession) Clone() ExamSession {
	c := *s
	c.Events = s.Events[:len(s.Events):len(s.Events)]
	c.Drafts = cloneAnswers(s.Drafts)
	c.Answers = cloneAnswers(s.Answers)
	if s.Score != nil {
		v := *s.Score
		c.Score = &v
	}
	if s.FinishedAt != nil {
		v := *s.FinishedAt
		c.FinishedAt = &v
	}
	return c
}

func cloneAnswers(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// SessionStatus is the read-only view returned to learners and proctors.
type SessionStatus struct {
	SessionID          string       `json:"session_id"`
	ExamID             uuid.UUID    `json:"exam_id"`
	UserID             string       `json:"user_id"`
	AttemptNumber      int          `json:"attempt_number"`
	State              SessionState `json:"state"`
	Disposition        SessionState `json:"disposition,omitempty"`
	Deadline           time.Time    `json:"deadline"`
	RemainingSeconds   int          `json:"remaining_seconds"`
	CumulativeSeverity int          `json:"cumulative_severity"`
	ReviewRequired     bool         `json:"review_required"`
	Score              *int         `json:"score,omitempty"`
	Outcome            Outcome      `json:"outcome,omitempty"`

	// ExpiryPending is set on an Active session whose deadline has passed
	// but which the deadline sweep has not finalized yet.
	ExpiryPending bool `json:"expiry_pending,omitempty"`
}

// SessionUpdate is published to live monitors after every committed change.
type SessionUpdate struct {
	Type               string       `json:"type"`
	SessionID          string       `json:"session_id"`
	ExamID             uuid.UUID    `json:"exam_id"`
	UserID             string       `json:"user_id"`
	State              SessionState `json:"state"`
	CumulativeSeverity int          `json:"cumulative_severity"`
	EventType          EventType    `json:"event_type,omitempty"`
	Outcome            Outcome      `json:"outcome,omitempty"`
	At                 time.Time    `json:"at"`
}

// StartSessionRequest is the payload for a learner starting an attempt.
type StartSessionRequest struct {
	AttemptNumber int `json:"attempt_number" binding:"required,min=1"`
}

// SaveDraftRequest autosaves one answer while the attempt is running.
type SaveDraftRequest struct {
	QuestionID string `json:"question_id" binding:"required,max=128"`
	Answer     string `json:"answer" binding:"max=128"`
}

// SubmitAnswersRequest carries the final answers, keyed by question ID.
type SubmitAnswersRequest struct {
	Answers map[string]string `json:"answers" binding:"required"`
}

// CancelSessionRequest is sent by a proctor withdrawing an attempt.
type CancelSessionRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}

// ResolveReviewRequest carries a reviewer's verdict on a flagged attempt.
type ResolveReviewRequest struct {
	Passed *bool  `json:"passed" binding:"required"`
	Note   string `json:"note" binding:"max=2000"`
}
