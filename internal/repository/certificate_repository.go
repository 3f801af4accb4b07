package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// CertificateRepository records certificate requests for the issuing service.
type CertificateRepository struct {
	pool *pgxpool.Pool
}

// NewCertificateRepository creates a new CertificateRepository.
func NewCertificateRepository(pool *pgxpool.Pool) *CertificateRepository {
	return &CertificateRepository{pool: pool}
}

// InsertBatch stores requests in one statement. Requests already stored for a
// session are skipped, so redelivered queue items are harmless.
func (r *CertificateRepository) InsertBatch(ctx context.Context, reqs []model.CertificateRequest) error {
	n := len(reqs)
	sessionIDs := make([]string, n)
	examIDs := make([]uuid.UUID, n)
	userIDs := make([]string, n)
	scores := make([]int32, n)
	requestedAts := make([]time.Time, n)
	for i, req := range reqs {
		sessionIDs[i] = req.SessionID
		examIDs[i] = req.ExamID
		userIDs[i] = req.UserID
		scores[i] = int32(req.Score)
		requestedAts[i] = req.RequestedAt
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO certificate_requests (session_id, exam_id, user_id, score, requested_at)
		 SELECT * FROM UNNEST($1::text[], $2::uuid[], $3::text[], $4::int[], $5::timestamptz[])
		 ON CONFLICT (session_id) DO NOTHING`,
		sessionIDs, examIDs, userIDs, scores, requestedAts)
	return err
}

// Insert stores a single request.
func (r *CertificateRepository) Insert(ctx context.Context, req model.CertificateRequest) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO certificate_requests (session_id, exam_id, user_id, score, requested_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO NOTHING`,
		req.SessionID, req.ExamID, req.UserID, req.Score, req.RequestedAt)
	return err
}
