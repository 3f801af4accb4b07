package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const keepAliveInterval = 30 * time.Second

var pingPayload = []byte(`{"type":"ping"}`)

// MonitorHandler streams live session updates to proctor dashboards.
type MonitorHandler struct {
	monitorService *service.MonitorService
	log            zerolog.Logger
	keepAlive      time.Duration
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		keepAlive:      keepAliveInterval,
	}
}

// MonitorExamSSE godoc
// GET /api/v1/proctor/exams/:exam_id/monitor
// Forwards every session update of the exam as an SSE "data:" frame.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	pubsub := h.monitorService.Subscribe(reqCtx, examID)
	defer pubsub.Close()

	// Wait for the subscription so no update published after the headers go
	// out is missed.
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Monitor subscription failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrStorageUnavailable)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(h.keepAlive)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Msg("Proctor attached to live monitor")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Proctor detached from live monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed
			writeSSE(c, []byte(msg.Payload))

		case <-keepAliveTicker.C:
			writeSSE(c, pingPayload)
		}
	}
}

func writeSSE(c *gin.Context, payload []byte) {
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
