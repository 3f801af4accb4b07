package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ProctorHandler handles proctor and reviewer endpoints.
type ProctorHandler struct {
	sessionService *service.ExamSessionService
	examService    *service.ExamService
	log            zerolog.Logger
}

// NewProctorHandler creates a new ProctorHandler.
func NewProctorHandler(sessionService *service.ExamSessionService, examService *service.ExamService, log zerolog.Logger) *ProctorHandler {
	return &ProctorHandler{
		sessionService: sessionService,
		examService:    examService,
		log:            log.With().Str("component", "proctor_handler").Logger(),
	}
}

// GetSession godoc
// GET /api/v1/proctor/sessions/:session_id
func (h *ProctorHandler) GetSession(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	status, err := h.sessionService.Status(c.Request.Context(), sessionID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// CancelSession godoc
// POST /api/v1/proctor/sessions/:session_id/cancel
// Withdraws a running attempt. Cancelled attempts are never graded.
func (h *ProctorHandler) CancelSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	var req model.CancelSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	status, err := h.sessionService.Cancel(c.Request.Context(), sessionID, claims.UserID, req.Reason)
	if err != nil {
		failSession(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// ResolveReview godoc
// POST /api/v1/proctor/sessions/:session_id/review
// Records the reviewer's verdict on a flagged attempt.
func (h *ProctorHandler) ResolveReview(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	var req model.ResolveReviewRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	status, err := h.sessionService.ResolveReview(c.Request.Context(), sessionID, claims.UserID, *req.Passed, req.Note)
	if err != nil {
		failSession(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// AuditTrail godoc
// GET /api/v1/proctor/sessions/:session_id/events
func (h *ProctorHandler) AuditTrail(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	events, err := h.sessionService.AuditTrail(c.Request.Context(), sessionID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}
	if events == nil {
		events = []model.SecurityEvent{}
	}

	response.Success(c, http.StatusOK, gin.H{"session_id": sessionID, "events": events})
}

// Replay godoc
// GET /api/v1/proctor/sessions/:session_id/replay
// Reproduces the question order the learner saw and re-grades the stored
// answers and events.
func (h *ProctorHandler) Replay(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	result, err := h.sessionService.Replay(c.Request.Context(), sessionID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// ActiveSessions godoc
// GET /api/v1/proctor/exams/:exam_id/sessions
func (h *ProctorHandler) ActiveSessions(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sessions := h.sessionService.ActiveSessions(examID)
	response.Success(c, http.StatusOK, gin.H{"exam_id": examID, "sessions": sessions})
}

// PublishExam godoc
// PUT /api/v1/proctor/exams/:exam_id
// Stores an exam definition and its proctoring policy. Running attempts keep
// the configuration they started with.
func (h *ProctorHandler) PublishExam(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var exam model.ExamDefinition
	if fields := validator.Bind(c, &exam); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	exam.ID = examID

	if err := h.examService.Publish(c.Request.Context(), &exam); err != nil {
		failSession(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam_id": exam.ID, "questions": len(exam.Questions)})
}

// GetExam godoc
// GET /api/v1/proctor/exams/:exam_id
func (h *ProctorHandler) GetExam(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.examService.GetDefinition(c.Request.Context(), examID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, exam)
}
