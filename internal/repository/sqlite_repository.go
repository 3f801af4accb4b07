package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

const sqliteTimeFormat = time.RFC3339Nano

// SQLiteExamRepository reads exam definitions from SQLite.
type SQLiteExamRepository struct {
	db *sql.DB
}

// NewSQLiteExamRepository creates a new SQLiteExamRepository.
func NewSQLiteExamRepository(db *sql.DB) *SQLiteExamRepository {
	return &SQLiteExamRepository{db: db}
}

// GetByID retrieves an exam definition.
func (r *SQLiteExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	e := &model.ExamDefinition{}
	var rawID, questions, policy string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, passing_score, time_limit_seconds, attempts_allowed, questions, policy
		 FROM exams WHERE id = ?`, id.String(),
	).Scan(&rawID, &e.Title, &e.PassingScore, &e.TimeLimitSeconds, &e.AttemptsAllowed, &questions, &policy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}

	if e.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("parse exam id: %w", err)
	}
	if err := json.Unmarshal([]byte(questions), &e.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if err := json.Unmarshal([]byte(policy), &e.Policy); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return e, nil
}

// Upsert inserts or replaces an exam definition.
func (r *SQLiteExamRepository) Upsert(ctx context.Context, e *model.ExamDefinition) error {
	questions, err := json.Marshal(e.Questions)
	if err != nil {
		return err
	}
	policy, err := json.Marshal(e.Policy)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO exams (id, title, passing_score, time_limit_seconds, attempts_allowed, questions, policy, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title,
		   passing_score = excluded.passing_score,
		   time_limit_seconds = excluded.time_limit_seconds,
		   attempts_allowed = excluded.attempts_allowed,
		   questions = excluded.questions,
		   policy = excluded.policy,
		   updated_at = excluded.updated_at`,
		e.ID.String(), e.Title, e.PassingScore, e.TimeLimitSeconds, e.AttemptsAllowed,
		string(questions), string(policy), time.Now().UTC().Format(sqliteTimeFormat))
	return err
}

// SQLiteSessionRepository is the SQLite proctor.Store.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSQLiteSessionRepository creates a new SQLiteSessionRepository.
func NewSQLiteSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

var _ proctor.Store = (*SQLiteSessionRepository)(nil)

// CreateSession inserts a new session.
func (r *SQLiteSessionRepository) CreateSession(ctx context.Context, s *model.ExamSession) error {
	row, err := encodeSQLiteSession(s)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO exam_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ExamID.String(), s.UserID, s.AttemptNumber, row.configuration, s.PassingScore, string(s.State),
		string(s.Disposition), s.StartedAt.UTC().Format(sqliteTimeFormat), s.Deadline.UTC().Format(sqliteTimeFormat),
		row.finishedAt, int64(s.RandomizationSeed), s.CumulativeSeverity,
		s.ReviewRequired, row.drafts, row.answers, s.Score, string(s.Outcome), s.CancelReason, s.ReviewedBy, s.ReviewNote,
		row.questions,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return proctor.ErrDuplicateActiveSession
	}
	return err
}

// RecordEvent appends the event and writes the session row in one transaction.
func (r *SQLiteSessionRepository) RecordEvent(ctx context.Context, s *model.ExamSession, ev model.SecurityEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var reportedAt any
	if ev.ReportedAt != nil {
		reportedAt = ev.ReportedAt.UTC().Format(sqliteTimeFormat)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO security_events (session_id, event_id, event_type, severity, sequence, reported_at, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, event_id) DO NOTHING`,
		s.ID, ev.EventID, string(ev.Type), ev.Severity, ev.Sequence, reportedAt, ev.RecordedAt.UTC().Format(sqliteTimeFormat))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := r.update(ctx, tx, s); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveDraft sets one draft answer while the session is live.
func (r *SQLiteSessionRepository) SaveDraft(ctx context.Context, sessionID, questionID, answer string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE exam_sessions SET drafts = json_set(drafts, '$.' || json_quote(?), ?)
		 WHERE id = ? AND state = 'ACTIVE'`,
		questionID, answer, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return proctor.ErrSessionNotFound
	}
	return nil
}

// FinalizeSession writes a terminal session.
func (r *SQLiteSessionRepository) FinalizeSession(ctx context.Context, s *model.ExamSession) error {
	return r.update(ctx, r.db, s)
}

// ResolveReview writes a reviewer's verdict.
func (r *SQLiteSessionRepository) ResolveReview(ctx context.Context, s *model.ExamSession) error {
	return r.update(ctx, r.db, s)
}

// GetSession retrieves a session with its event trail.
func (r *SQLiteSessionRepository) GetSession(ctx context.Context, sessionID string) (*model.ExamSession, error) {
	s, err := scanSQLiteSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = ?`, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, proctor.ErrSessionNotFound
		}
		return nil, err
	}
	if s.Events, err = r.listEvents(ctx, sessionID); err != nil {
		return nil, err
	}
	return s, nil
}

// ListActive retrieves every live session with its events.
func (r *SQLiteSessionRepository) ListActive(ctx context.Context) ([]model.ExamSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE state IN ('CREATED', 'ACTIVE')`)
	if err != nil {
		return nil, err
	}

	var sessions []model.ExamSession
	for rows.Next() {
		s, err := scanSQLiteSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Events are read after the cursor is closed; the pool holds one connection.
	for i := range sessions {
		if sessions[i].Events, err = r.listEvents(ctx, sessions[i].ID); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

func (r *SQLiteSessionRepository) listEvents(ctx context.Context, sessionID string) ([]model.SecurityEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_id, event_type, severity, sequence, reported_at, recorded_at
		 FROM security_events WHERE session_id = ? ORDER BY sequence`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.SecurityEvent
	for rows.Next() {
		var ev model.SecurityEvent
		var eventType, recordedAt string
		var reportedAt sql.NullString
		if err := rows.Scan(&ev.EventID, &eventType, &ev.Severity, &ev.Sequence, &reportedAt, &recordedAt); err != nil {
			return nil, err
		}
		ev.Type = model.EventType(eventType)
		if ev.RecordedAt, err = time.Parse(sqliteTimeFormat, recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		if reportedAt.Valid {
			t, err := time.Parse(sqliteTimeFormat, reportedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse reported_at: %w", err)
			}
			ev.ReportedAt = &t
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLiteSessionRepository) update(ctx context.Context, db sqlExecer, s *model.ExamSession) error {
	row, err := encodeSQLiteSession(s)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx,
		`UPDATE exam_sessions
		 SET state = ?, disposition = ?, finished_at = ?, cumulative_severity = ?,
		     review_required = ?, drafts = ?, answers = ?, score = ?, outcome = ?,
		     cancel_reason = ?, reviewed_by = ?, review_note = ?
		 WHERE id = ?`,
		string(s.State), string(s.Disposition), row.finishedAt, s.CumulativeSeverity,
		s.ReviewRequired, row.drafts, row.answers, s.Score, string(s.Outcome),
		s.CancelReason, s.ReviewedBy, s.ReviewNote, s.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return proctor.ErrSessionNotFound
	}
	return nil
}

type sqliteSessionRow struct {
	configuration string
	drafts        string
	questions     string
	answers       sql.NullString
	finishedAt    sql.NullString
}

func encodeSQLiteSession(s *model.ExamSession) (sqliteSessionRow, error) {
	var row sqliteSessionRow

	cfg, err := json.Marshal(s.Configuration)
	if err != nil {
		return row, err
	}
	row.configuration = string(cfg)

	drafts := s.Drafts
	if drafts == nil {
		drafts = map[string]string{}
	}
	d, err := json.Marshal(drafts)
	if err != nil {
		return row, err
	}
	row.drafts = string(d)

	questions := s.Questions
	if questions == nil {
		questions = []model.Question{}
	}
	q, err := json.Marshal(questions)
	if err != nil {
		return row, err
	}
	row.questions = string(q)

	if s.Answers != nil {
		a, err := json.Marshal(s.Answers)
		if err != nil {
			return row, err
		}
		row.answers = sql.NullString{String: string(a), Valid: true}
	}
	if s.FinishedAt != nil {
		row.finishedAt = sql.NullString{String: s.FinishedAt.UTC().Format(sqliteTimeFormat), Valid: true}
	}
	return row, nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row sqlScanner) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	var (
		examID, cfg, state, disposition, startedAt, deadline, drafts, outcome, questions string
		finishedAt, answers                                                              sql.NullString
		seed                                                                             int64
		score                                                                            sql.NullInt64
	)
	err := row.Scan(
		&s.ID, &examID, &s.UserID, &s.AttemptNumber, &cfg, &s.PassingScore, &state,
		&disposition, &startedAt, &deadline, &finishedAt, &seed, &s.CumulativeSeverity,
		&s.ReviewRequired, &drafts, &answers, &score, &outcome, &s.CancelReason, &s.ReviewedBy, &s.ReviewNote,
		&questions,
	)
	if err != nil {
		return nil, err
	}

	if s.ExamID, err = uuid.Parse(examID); err != nil {
		return nil, fmt.Errorf("parse exam id: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &s.Configuration); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if err := json.Unmarshal([]byte(drafts), &s.Drafts); err != nil {
		return nil, fmt.Errorf("decode drafts: %w", err)
	}
	if err := json.Unmarshal([]byte(questions), &s.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if answers.Valid {
		if err := json.Unmarshal([]byte(answers.String), &s.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	if s.StartedAt, err = time.Parse(sqliteTimeFormat, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if s.Deadline, err = time.Parse(sqliteTimeFormat, deadline); err != nil {
		return nil, fmt.Errorf("parse deadline: %w", err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(sqliteTimeFormat, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		s.FinishedAt = &t
	}
	if score.Valid {
		v := int(score.Int64)
		s.Score = &v
	}

	s.State = model.SessionState(state)
	s.Disposition = model.SessionState(disposition)
	s.Outcome = model.Outcome(outcome)
	s.RandomizationSeed = uint64(seed)
	return s, nil
}

// SQLiteCertificateRepository records certificate requests in SQLite.
type SQLiteCertificateRepository struct {
	db *sql.DB
}

// NewSQLiteCertificateRepository creates a new SQLiteCertificateRepository.
func NewSQLiteCertificateRepository(db *sql.DB) *SQLiteCertificateRepository {
	return &SQLiteCertificateRepository{db: db}
}

// InsertBatch stores requests in one transaction, skipping known sessions.
func (r *SQLiteCertificateRepository) InsertBatch(ctx context.Context, reqs []model.CertificateRequest) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, req := range reqs {
		if err := insertSQLiteCertificate(ctx, tx, req); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Insert stores a single request.
func (r *SQLiteCertificateRepository) Insert(ctx context.Context, req model.CertificateRequest) error {
	return insertSQLiteCertificate(ctx, r.db, req)
}

func insertSQLiteCertificate(ctx context.Context, db sqlExecer, req model.CertificateRequest) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO certificate_requests (session_id, exam_id, user_id, score, requested_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (session_id) DO NOTHING`,
		req.SessionID, req.ExamID.String(), req.UserID, req.Score, req.RequestedAt.UTC().Format(sqliteTimeFormat))
	return err
}
