package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
)

const (
	metricsInterval = 7 * time.Second
	healthTimeout   = 2 * time.Second
)

// Pinger is anything whose reachability the health check reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// SystemHandler serves health checks and streams engine metrics via SSE.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	manager   *proctor.Manager
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(db Pinger, rdb *redis.Client, manager *proctor.Manager, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		manager:   manager,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /healthz
// Reports 503 when the session store is unreachable. Redis only degrades
// caching and monitoring, so it is reported but never fails the check.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	checks := gin.H{"database": "ok", "redis": "ok"}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if h.rdb == nil {
		checks["redis"] = "disabled"
	} else if err := h.rdb.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
	}

	if status != http.StatusOK {
		response.FailWithData(c, status, response.ErrStorageUnavailable, checks)
		return
	}
	response.Success(c, status, checks)
}

type systemMetrics struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    string `json:"uptime"`

	// Engine
	ActiveSessions int        `json:"active_sessions"`
	NextDeadline   *time.Time `json:"next_deadline,omitempty"`

	// Go Application
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`

	// Worker Queues
	QueueCertificates int64 `json:"queue_certificates"`
}

// SystemMetricsSSE godoc
// GET /api/v1/proctor/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.log.Info().Msg("Proctor connected to system metrics SSE")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	// Send immediately on connect, then every tick
	h.writeMetrics(c)

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Proctor disconnected from system metrics SSE")
			return
		case <-ticker.C:
			h.writeMetrics(c)
		}
	}
}

func (h *SystemHandler) writeMetrics(c *gin.Context) {
	data, err := json.Marshal(h.collect(c.Request.Context()))
	if err != nil {
		return
	}
	writeSSE(c, data)
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	m := systemMetrics{
		Timestamp:      time.Now().Unix(),
		Uptime:         formatDuration(time.Since(h.startTime)),
		GoVersion:      runtime.Version(),
		ActiveSessions: h.manager.ActiveCount(),
		Goroutines:     runtime.NumGoroutine(),
	}
	if next, ok := h.manager.NextDeadline(); ok {
		m.NextDeadline = &next
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.HeapAlloc = ms.HeapAlloc
	m.HeapSys = ms.Sys
	m.NumGC = ms.NumGC

	if h.rdb != nil {
		ctx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		m.QueueCertificates, _ = h.rdb.LLen(ctx, config.WorkerKey.CertificateRequestsQueue).Result()
	}

	return m
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
