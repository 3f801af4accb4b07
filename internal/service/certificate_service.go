package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const certificateEnqueueTimeout = 2 * time.Second

// CertificateStore persists certificate requests for the issuing service.
type CertificateStore interface {
	InsertBatch(ctx context.Context, reqs []model.CertificateRequest) error
	Insert(ctx context.Context, req model.CertificateRequest) error
}

// CertificateService hands passed attempts to the certificate pipeline. Requests
// go through the Redis queue; if Redis is down they are written directly.
type CertificateService struct {
	rdb      *redis.Client
	fallback CertificateStore
	log      zerolog.Logger
}

// NewCertificateService creates a new CertificateService.
func NewCertificateService(rdb *redis.Client, fallback CertificateStore, log zerolog.Logger) *CertificateService {
	return &CertificateService{
		rdb:      rdb,
		fallback: fallback,
		log:      log.With().Str("component", "certificate_service").Logger(),
	}
}

// RequestCertificate enqueues req. It never returns an error to the session
// engine; failures are logged.
func (s *CertificateService) RequestCertificate(ctx context.Context, req model.CertificateRequest) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), certificateEnqueueTimeout)
	defer cancel()

	log := s.log.With().Str("session_id", req.SessionID).Logger()

	if s.rdb != nil {
		data, err := json.Marshal(req)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal certificate request")
			return
		}
		err = s.rdb.RPush(ctx, config.WorkerKey.CertificateRequestsQueue, data).Err()
		if err == nil {
			log.Info().Int("score", req.Score).Msg("Certificate requested")
			return
		}
		log.Warn().Err(err).Msg("Certificate queue unavailable, writing directly")
	}

	if s.fallback == nil {
		log.Error().Msg("No certificate store configured, request dropped")
		return
	}
	if err := s.fallback.Insert(ctx, req); err != nil {
		log.Error().Err(err).Msg("CRITICAL: Failed to record certificate request")
		return
	}
	log.Info().Int("score", req.Score).Msg("Certificate requested")
}
