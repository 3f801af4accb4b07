package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ErrNotSessionOwner is returned when a learner addresses someone else's session.
var ErrNotSessionOwner = errors.New("session belongs to another learner")

// ExamSource resolves exam definitions.
type ExamSource interface {
	GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error)
}

// ExamSessionService is the transport-facing layer over the session engine. It
// resolves exams and enforces that learners only touch their own attempts.
type ExamSessionService struct {
	manager *proctor.Manager
	exams   ExamSource
	store   proctor.Store
	log     zerolog.Logger
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(manager *proctor.Manager, exams ExamSource, store proctor.Store, log zerolog.Logger) *ExamSessionService {
	return &ExamSessionService{
		manager: manager,
		exams:   exams,
		store:   store,
		log:     log.With().Str("component", "exam_session_service").Logger(),
	}
}

// StartSession starts an attempt of examID for userID.
func (s *ExamSessionService) StartSession(ctx context.Context, examID uuid.UUID, userID string, attempt int) (*proctor.StartResult, error) {
	exam, err := s.exams.GetDefinition(ctx, examID)
	if err != nil {
		return nil, err
	}
	return s.manager.StartSession(ctx, proctor.StartRequest{
		Exam:          *exam,
		Policy:        exam.Policy,
		UserID:        userID,
		AttemptNumber: attempt,
	})
}

// GetStatus returns the learner's view of their session.
func (s *ExamSessionService) GetStatus(ctx context.Context, sessionID, userID string) (*model.SessionStatus, error) {
	return s.ownedStatus(ctx, sessionID, userID)
}

// Status returns any session's status, for proctors.
func (s *ExamSessionService) Status(ctx context.Context, sessionID string) (*model.SessionStatus, error) {
	return s.manager.GetSessionStatus(ctx, sessionID)
}

// ReportEvent records one client signal for the learner's session.
func (s *ExamSessionService) ReportEvent(ctx context.Context, sessionID, userID string, req model.ReportEventRequest) (*proctor.EventResult, error) {
	if _, err := s.ownedStatus(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.manager.ReportEvent(ctx, sessionID, proctor.EventReport{
		EventID:    req.EventID,
		Type:       req.Type,
		ReportedAt: req.ClientTimestamp,
	})
}

// SaveDraft autosaves one answer.
func (s *ExamSessionService) SaveDraft(ctx context.Context, sessionID, userID string, req model.SaveDraftRequest) error {
	if _, err := s.ownedStatus(ctx, sessionID, userID); err != nil {
		return err
	}
	return s.manager.SaveDraft(ctx, sessionID, req.QuestionID, req.Answer)
}

// Submit grades and finalizes the learner's attempt.
func (s *ExamSessionService) Submit(ctx context.Context, sessionID, userID string, answers map[string]string) (*proctor.SubmitResult, error) {
	if _, err := s.ownedStatus(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.manager.SubmitAnswers(ctx, sessionID, answers)
}

// Cancel withdraws an attempt on a proctor's behalf.
func (s *ExamSessionService) Cancel(ctx context.Context, sessionID, proctorID, reason string) (*model.SessionStatus, error) {
	st, err := s.manager.Cancel(ctx, sessionID, reason)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("session_id", sessionID).
		Str("proctor_id", proctorID).
		Str("reason", reason).
		Msg("Session cancelled by proctor")
	return st, nil
}

// ResolveReview records a reviewer's verdict.
func (s *ExamSessionService) ResolveReview(ctx context.Context, sessionID, reviewerID string, passed bool, note string) (*model.SessionStatus, error) {
	return s.manager.ResolveReview(ctx, sessionID, proctor.ReviewDecision{
		Passed:   passed,
		Reviewer: reviewerID,
		Note:     note,
	})
}

// AuditTrail returns a session's events in order.
func (s *ExamSessionService) AuditTrail(ctx context.Context, sessionID string) ([]model.SecurityEvent, error) {
	return s.manager.AuditTrail(ctx, sessionID)
}

// Replay reproduces the question order the learner saw and re-grades the
// stored answers against the questions frozen at start.
func (s *ExamSessionService) Replay(ctx context.Context, sessionID string) (*proctor.ReplayResult, error) {
	sess, err := s.manager.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res := proctor.Replay(*sess)
	return &res, nil
}

// ActiveSessions lists the running attempts of an exam on this node.
func (s *ExamSessionService) ActiveSessions(examID uuid.UUID) []model.SessionStatus {
	return s.manager.ActiveSessions(examID)
}

// RestoreActive adopts every live session from storage into the engine. It is
// called once at startup, before the server accepts traffic.
func (s *ExamSessionService) RestoreActive(ctx context.Context) (int, error) {
	sessions, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}

	restored := 0
	for i := range sessions {
		sess := sessions[i]
		if err := s.manager.Adopt(sess); err != nil {
			s.log.Error().Err(err).Str("session_id", sess.ID).Msg("Cannot restore session")
			continue
		}
		restored++
	}

	s.log.Info().
		Int("restored", restored).
		Int("total", len(sessions)).
		Msg("Active sessions restored")
	return restored, nil
}

func (s *ExamSessionService) ownedStatus(ctx context.Context, sessionID, userID string) (*model.SessionStatus, error) {
	st, err := s.manager.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, ErrNotSessionOwner
	}
	return st, nil
}
