package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

const pgUniqueViolation = "23505"

const sessionColumns = `id, exam_id, user_id, attempt_number, configuration, passing_score, state,
	disposition, started_at, deadline, finished_at, randomization_seed, cumulative_severity,
	review_required, drafts, answers, score, outcome, cancel_reason, reviewed_by, review_note, questions`

// ExamSessionRepository is the PostgreSQL proctor.Store.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

var _ proctor.Store = (*ExamSessionRepository)(nil)

// CreateSession inserts a new session together with its frozen question set.
// The partial unique index on live attempts turns a concurrent duplicate into
// ErrDuplicateActiveSession.
func (r *ExamSessionRepository) CreateSession(ctx context.Context, s *model.ExamSession) error {
	questions := s.Questions
	if questions == nil {
		questions = []model.Question{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		s.ID, s.ExamID, s.UserID, s.AttemptNumber, s.Configuration, s.PassingScore, s.State,
		s.Disposition, s.StartedAt, s.Deadline, s.FinishedAt, int64(s.RandomizationSeed), s.CumulativeSeverity,
		s.ReviewRequired, s.Drafts, s.Answers, s.Score, s.Outcome, s.CancelReason, s.ReviewedBy, s.ReviewNote,
		questions,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return proctor.ErrDuplicateActiveSession
	}
	return err
}

// RecordEvent appends the event and writes the session row in one transaction.
func (r *ExamSessionRepository) RecordEvent(ctx context.Context, s *model.ExamSession, ev model.SecurityEvent) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO security_events (session_id, event_id, event_type, severity, sequence, reported_at, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (session_id, event_id) DO NOTHING`,
			s.ID, ev.EventID, ev.Type, ev.Severity, ev.Sequence, ev.ReportedAt, ev.RecordedAt)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return updateSession(ctx, tx, s)
	})
}

// SaveDraft sets one draft answer while the session is live.
func (r *ExamSessionRepository) SaveDraft(ctx context.Context, sessionID, questionID, answer string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET drafts = jsonb_set(drafts, ARRAY[$2::text], to_jsonb($3::text))
		 WHERE id = $1 AND state = 'ACTIVE'`,
		sessionID, questionID, answer)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return proctor.ErrSessionNotFound
	}
	return nil
}

// FinalizeSession writes a terminal session.
func (r *ExamSessionRepository) FinalizeSession(ctx context.Context, s *model.ExamSession) error {
	return updateSession(ctx, r.pool, s)
}

// ResolveReview writes a reviewer's verdict.
func (r *ExamSessionRepository) ResolveReview(ctx context.Context, s *model.ExamSession) error {
	return updateSession(ctx, r.pool, s)
}

// GetSession retrieves a session with its full event trail.
func (r *ExamSessionRepository) GetSession(ctx context.Context, sessionID string) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, proctor.ErrSessionNotFound
		}
		return nil, err
	}

	events, err := r.listEvents(ctx, []string{sessionID})
	if err != nil {
		return nil, err
	}
	s.Events = events[sessionID]
	return s, nil
}

// ListActive retrieves every live session with its events.
func (r *ExamSessionRepository) ListActive(ctx context.Context) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE state IN ('CREATED', 'ACTIVE')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	var ids []string
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
		ids = append(ids, s.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	events, err := r.listEvents(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Events = events[sessions[i].ID]
	}
	return sessions, nil
}

func (r *ExamSessionRepository) listEvents(ctx context.Context, sessionIDs []string) (map[string][]model.SecurityEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, event_id, event_type, severity, sequence, reported_at, recorded_at
		 FROM security_events
		 WHERE session_id = ANY($1)
		 ORDER BY session_id, sequence`, sessionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]model.SecurityEvent, len(sessionIDs))
	for rows.Next() {
		var sid string
		var ev model.SecurityEvent
		if err := rows.Scan(&sid, &ev.EventID, &ev.Type, &ev.Severity, &ev.Sequence, &ev.ReportedAt, &ev.RecordedAt); err != nil {
			return nil, err
		}
		out[sid] = append(out[sid], ev)
	}
	return out, rows.Err()
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func updateSession(ctx context.Context, db execer, s *model.ExamSession) error {
	tag, err := db.Exec(ctx,
		`UPDATE exam_sessions
		 SET state = $2, disposition = $3, finished_at = $4, cumulative_severity = $5,
		     review_required = $6, drafts = $7, answers = $8, score = $9, outcome = $10,
		     cancel_reason = $11, reviewed_by = $12, review_note = $13
		 WHERE id = $1`,
		s.ID, s.State, s.Disposition, s.FinishedAt, s.CumulativeSeverity,
		s.ReviewRequired, s.Drafts, s.Answers, s.Score, s.Outcome,
		s.CancelReason, s.ReviewedBy, s.ReviewNote)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return proctor.ErrSessionNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	var seed int64
	err := row.Scan(
		&s.ID, &s.ExamID, &s.UserID, &s.AttemptNumber, &s.Configuration, &s.PassingScore, &s.State,
		&s.Disposition, &s.StartedAt, &s.Deadline, &s.FinishedAt, &seed, &s.CumulativeSeverity,
		&s.ReviewRequired, &s.Drafts, &s.Answers, &s.Score, &s.Outcome, &s.CancelReason, &s.ReviewedBy, &s.ReviewNote,
		&s.Questions,
	)
	if err != nil {
		return nil, err
	}
	s.RandomizationSeed = uint64(seed)
	return s, nil
}
