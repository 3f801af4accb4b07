package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// CertificateWorker drains the certificate request queue into durable
// storage in batches.
type CertificateWorker struct {
	store service.CertificateStore
	rdb   *redis.Client
	log   zerolog.Logger

	// backoff is slept after a requeue or a Redis error.
	backoff time.Duration
}

// NewCertificateWorker creates a new CertificateWorker.
func NewCertificateWorker(store service.CertificateStore, rdb *redis.Client, log zerolog.Logger) *CertificateWorker {
	return &CertificateWorker{
		store:   store,
		rdb:     rdb,
		log:     log.With().Str("component", "certificate_worker").Logger(),
		backoff: 2 * time.Second,
	}
}

// Start runs until ctx is cancelled, then flushes what it holds.
func (w *CertificateWorker) Start(ctx context.Context) {
	w.log.Info().Msg("CertificateWorker started")

	buffer := make([]model.CertificateRequest, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check Flush Conditions (Time or Size)
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlushTime = time.Now()
		}

		// 2. Check Context (Graceful Shutdown)
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.CertificateRequestsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // Queue empty, loop back to check flush timer
			}
			if ctx.Err() != nil {
				continue // Shutdown is handled at the top of the loop
			}
			w.log.Error().Err(err).Msg("Redis connection error, backing off")
			w.sleep(ctx)
			continue
		}

		// 4. Process Data
		if len(result) < 2 {
			continue
		}

		var req model.CertificateRequest
		if err := json.Unmarshal([]byte(result[1]), &req); err != nil || req.SessionID == "" {
			// Malformed entries can never succeed. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed certificate request")
			continue
		}

		if len(buffer) == 0 {
			lastFlushTime = time.Now()
		}
		buffer = append(buffer, req)
	}
}

// flushSafe attempts a bulk insert, then row-by-row, then requeues.
func (w *CertificateWorker) flushSafe(ctx context.Context, batch []model.CertificateRequest) {
	err := w.store.InsertBatch(ctx, batch)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Certificate requests persisted")
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var requeueList []model.CertificateRequest
	for _, req := range batch {
		if err := w.store.Insert(ctx, req); err != nil {
			w.log.Error().Err(err).Str("session_id", req.SessionID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, req)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *CertificateWorker) requeue(ctx context.Context, items []model.CertificateRequest) {
	// The worker context may already be cancelled during shutdown.
	ctx = context.WithoutCancel(ctx)

	pipe := w.rdb.Pipeline()
	for _, req := range items {
		data, _ := json.Marshal(req)
		pipe.RPush(ctx, config.WorkerKey.CertificateRequestsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue certificate requests")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed certificate requests")
	// Avoid thrashing while the database is down hard.
	w.sleep(ctx)
}

func (w *CertificateWorker) sleep(ctx context.Context) {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *CertificateWorker) shutdown(buffer []model.CertificateRequest) {
	w.log.Info().Int("pending", len(buffer)).Msg("CertificateWorker stopping, flushing remaining buffer")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
