package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const monitorPublishTimeout = time.Second

// MonitorService fans session updates out to live proctor dashboards over
// Redis Pub/Sub.
type MonitorService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		rdb: rdb,
		log: log.With().Str("component", "monitor_service").Logger(),
	}
}

// Publish sends an update to the exam's monitor channel. Monitoring is best
// effort and never fails the session operation.
func (s *MonitorService) Publish(ctx context.Context, update model.SessionUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal session update")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), monitorPublishTimeout)
	defer cancel()

	channel := config.CacheKey.ExamMonitorChannel(update.ExamID.String())
	if err := s.rdb.Publish(ctx, channel, data).Err(); err != nil {
		s.log.Warn().Err(err).
			Str("session_id", update.SessionID).
			Str("type", update.Type).
			Msg("Failed to publish session update")
	}
}

// Subscribe attaches to the exam's monitor channel. The caller closes it.
func (s *MonitorService) Subscribe(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}
