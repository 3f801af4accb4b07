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

// LearnerHandler handles the learner-facing session endpoints.
type LearnerHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

// NewLearnerHandler creates a new LearnerHandler.
func NewLearnerHandler(sessionService *service.ExamSessionService, log zerolog.Logger) *LearnerHandler {
	return &LearnerHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "learner_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/learner/exams/:exam_id/sessions
// Starts an attempt and returns the learner's question order.
func (h *LearnerHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.sessionService.StartSession(c.Request.Context(), examID, claims.UserID, req.AttemptNumber)
	if err != nil {
		failSession(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// GetStatus godoc
// GET /api/v1/learner/sessions/:session_id
func (h *LearnerHandler) GetStatus(c *gin.Context) {
	claims, sessionID, ok := learnerSession(c)
	if !ok {
		return
	}

	status, err := h.sessionService.GetStatus(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failSession(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// ReportEvent godoc
// POST /api/v1/learner/sessions/:session_id/events
// Records one security signal. Re-sending an event ID is a no-op.
func (h *LearnerHandler) ReportEvent(c *gin.Context) {
	claims, sessionID, ok := learnerSession(c)
	if !ok {
		return
	}

	var req model.ReportEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validator.FailedOn(err, validator.TagEventType) {
			response.Fail(c, http.StatusBadRequest, response.ErrUnknownEventType)
			return
		}
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, validator.TranslateErrors(err))
		return
	}

	result, err := h.sessionService.ReportEvent(c.Request.Context(), sessionID, claims.UserID, req)
	if err != nil {
		failSession(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if !result.Recorded {
		status = http.StatusOK
	}
	response.Success(c, status, result)
}

// SaveDraft godoc
// PUT /api/v1/learner/sessions/:session_id/drafts
func (h *LearnerHandler) SaveDraft(c *gin.Context) {
	claims, sessionID, ok := learnerSession(c)
	if !ok {
		return
	}

	var req model.SaveDraftRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.SaveDraft(c.Request.Context(), sessionID, claims.UserID, req); err != nil {
		failSession(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved", "question_id": req.QuestionID})
}

// Submit godoc
// POST /api/v1/learner/sessions/:session_id/submit
// Grades the attempt. Drafts fill in any question missing from the body.
func (h *LearnerHandler) Submit(c *gin.Context) {
	claims, sessionID, ok := learnerSession(c)
	if !ok {
		return
	}

	var req model.SubmitAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.sessionService.Submit(c.Request.Context(), sessionID, claims.UserID, req.Answers)
	if err != nil {
		failSession(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// learnerSession reads the caller's claims and the :session_id parameter,
// writing the error response itself when either is missing.
func learnerSession(c *gin.Context) (*service.Claims, string, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, "", false
	}
	sessionID, ok := sessionParam(c)
	if !ok {
		return nil, "", false
	}
	return claims, sessionID, true
}

func sessionParam(c *gin.Context) (string, bool) {
	sessionID := c.Param("session_id")
	if _, err := uuid.Parse(sessionID); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return "", false
	}
	return sessionID, true
}
