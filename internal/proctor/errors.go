package proctor

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Domain Errors
var (
	ErrDuplicateActiveSession = errors.New("an active session already exists for this attempt")
	ErrAttemptsExhausted      = errors.New("attempt number exceeds the attempts allowed")
	ErrInvalidAttempt         = errors.New("attempt number must be at least 1")
	ErrNoQuestions            = errors.New("exam has no questions")
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionNotActive       = errors.New("session is not active")
	ErrUnknownEventType       = errors.New("unknown event type")
	ErrInvalidEvent           = errors.New("event id is required")
	ErrUnknownQuestion        = errors.New("question is not part of this exam")
	ErrNotPendingReview       = errors.New("session is not pending review")
	ErrCorruptTrail           = errors.New("stored severity does not match the event trail")

	// ErrStorage marks failures that left the session untouched. Callers may
	// retry the same request; event IDs make the retry safe.
	ErrStorage = errors.New("session storage unavailable")
)

// SessionNotActiveError is returned when a transition arrives after the
// session left Active. It carries the outcome that was committed first.
type SessionNotActiveError struct {
	Status model.SessionStatus
}

func (e *SessionNotActiveError) Error() string {
	return fmt.Sprintf("session %s is not active (state %s)", e.Status.SessionID, e.Status.State)
}

// Is lets errors.Is(err, ErrSessionNotActive) match.
func (e *SessionNotActiveError) Is(target error) bool {
	return target == ErrSessionNotActive
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
