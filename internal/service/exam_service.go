package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ExamRepository is the durable source of exam definitions.
type ExamRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error)
	Upsert(ctx context.Context, e *model.ExamDefinition) error
}

// ExamService serves exam definitions from Redis, falling back to the
// repository and re-warming the cache on a miss.
type ExamService struct {
	repo ExamRepository
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

// NewExamService creates a new ExamService. rdb may be nil to disable caching.
func NewExamService(repo ExamRepository, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamService {
	return &ExamService{
		repo: repo,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "exam_service").Logger(),
	}
}

// GetDefinition returns the exam with its questions and policy.
func (s *ExamService) GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	if exam, ok := s.fromCache(ctx, id); ok {
		return exam, nil
	}

	exam, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	// Self-heal: a failed warm only costs the next request another DB read.
	if err := s.WarmExamCache(ctx, exam); err != nil {
		s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to warm exam cache")
	}
	return exam, nil
}

// Publish stores an exam and refreshes its cache entry.
func (s *ExamService) Publish(ctx context.Context, exam *model.ExamDefinition) error {
	if len(exam.Questions) == 0 {
		return proctor.ErrNoQuestions
	}
	if _, err := model.Snapshot(exam.Policy, *exam); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	if err := s.repo.Upsert(ctx, exam); err != nil {
		return fmt.Errorf("upsert exam: %w", err)
	}
	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(exam.Questions)).
		Msg("Exam published")
	return nil
}

// WarmExamCache writes the definition to Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.ExamDefinition) error {
	if s.rdb == nil {
		return nil
	}

	data, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal exam: %w", err)
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamDefinitionKey(exam.ID.String()), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}
	return nil
}

func (s *ExamService) fromCache(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, bool) {
	if s.rdb == nil {
		return nil, false
	}

	data, err := s.rdb.Get(ctx, config.CacheKey.ExamDefinitionKey(id.String())).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Exam cache unavailable, reading from database")
		}
		return nil, false
	}

	var exam model.ExamDefinition
	if err := json.Unmarshal(data, &exam); err != nil {
		s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Discarding malformed cached exam")
		return nil, false
	}
	return &exam, true
}
