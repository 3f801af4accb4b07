package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamRepository reads published exam definitions from PostgreSQL.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam definition with its questions and policy.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	e := &model.ExamDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, passing_score, time_limit_seconds, attempts_allowed, questions, policy
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.PassingScore, &e.TimeLimitSeconds, &e.AttemptsAllowed, &e.Questions, &e.Policy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}
	return e, nil
}

// Upsert inserts or replaces an exam definition. Existing sessions are not
// affected; each one stores its configuration and question set from start.
func (r *ExamRepository) Upsert(ctx context.Context, e *model.ExamDefinition) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exams (id, title, passing_score, time_limit_seconds, attempts_allowed, questions, policy)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   passing_score = EXCLUDED.passing_score,
		   time_limit_seconds = EXCLUDED.time_limit_seconds,
		   attempts_allowed = EXCLUDED.attempts_allowed,
		   questions = EXCLUDED.questions,
		   policy = EXCLUDED.policy,
		   updated_at = NOW()`,
		e.ID, e.Title, e.PassingScore, e.TimeLimitSeconds, e.AttemptsAllowed, e.Questions, e.Policy)
	return err
}
