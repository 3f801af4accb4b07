package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// classify maps a session engine error onto an HTTP status and error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, proctor.ErrSessionNotActive):
		return http.StatusConflict, response.ErrSessionNotActive
	case errors.Is(err, proctor.ErrDuplicateActiveSession):
		return http.StatusConflict, response.ErrDuplicateActiveSession
	case errors.Is(err, proctor.ErrAttemptsExhausted):
		return http.StatusForbidden, response.ErrAttemptsExhausted
	case errors.Is(err, proctor.ErrNotPendingReview):
		return http.StatusConflict, response.ErrNotPendingReview
	case errors.Is(err, proctor.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, repository.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, service.ErrNotSessionOwner):
		return http.StatusForbidden, response.ErrNotSessionOwner
	case errors.Is(err, proctor.ErrUnknownEventType):
		return http.StatusBadRequest, response.ErrUnknownEventType
	case errors.Is(err, proctor.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	case errors.Is(err, proctor.ErrInvalidAttempt), errors.Is(err, proctor.ErrInvalidEvent):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, proctor.ErrNoQuestions):
		return http.StatusUnprocessableEntity, response.ErrNoQuestions
	case errors.Is(err, model.ErrInvalidTimeLimit), errors.Is(err, model.ErrInvalidThreshold):
		return http.StatusUnprocessableEntity, response.ErrInvalidExamConfig
	case errors.Is(err, proctor.ErrStorage):
		return http.StatusServiceUnavailable, response.ErrStorageUnavailable
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// committedStatus extracts the status carried by a late-transition error.
func committedStatus(err error) *model.SessionStatus {
	var notActive *proctor.SessionNotActiveError
	if errors.As(err, &notActive) {
		return &notActive.Status
	}
	return nil
}

// failSession writes err as an error envelope. Late transitions get the
// committed status as data so the client can show the real outcome.
func failSession(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Session request failed")
	}
	if st := committedStatus(err); st != nil {
		response.FailWithData(c, status, code, st)
		return
	}
	response.Fail(c, status, code)
}
