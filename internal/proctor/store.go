package proctor

import (
	"context"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Store persists sessions. Every method that takes a session receives the full
// next state; implementations must write it atomically or not at all.
type Store interface {
	// CreateSession persists a new Active session. It returns
	// ErrDuplicateActiveSession when the attempt tuple already has a live session.
	CreateSession(ctx context.Context, s *model.ExamSession) error
	// RecordEvent appends ev to the trail and writes the session row in one unit.
	RecordEvent(ctx context.Context, s *model.ExamSession, ev model.SecurityEvent) error
	SaveDraft(ctx context.Context, sessionID, questionID, answer string) error
	// FinalizeSession writes a terminal session: state, answers, score and outcome.
	FinalizeSession(ctx context.Context, s *model.ExamSession) error
	ResolveReview(ctx context.Context, s *model.ExamSession) error
	// GetSession returns ErrSessionNotFound for unknown IDs.
	GetSession(ctx context.Context, sessionID string) (*model.ExamSession, error)
	// ListActive returns every non-terminal session, used for restart recovery.
	ListActive(ctx context.Context) ([]model.ExamSession, error)
}

// CertificateTrigger is told once about every attempt that passes.
// Implementations must not block on issuance.
type CertificateTrigger interface {
	RequestCertificate(ctx context.Context, req model.CertificateRequest)
}

// Notifier receives every committed change for live monitoring.
type Notifier interface {
	Publish(ctx context.Context, update model.SessionUpdate)
}
