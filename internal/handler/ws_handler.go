package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler carries a learner's running attempt over one WebSocket: security
// events, autosave, status and submission.
type WSHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/learner/sessions/:session_id/stream?token=...
// Upgrades to WebSocket once the caller is confirmed as the session's owner.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims, sessionID, ok := learnerSession(c)
	if !ok {
		return
	}

	// Ownership errors are answered over plain HTTP before the upgrade.
	if _, err := h.sessionService.GetStatus(c.Request.Context(), sessionID, claims.UserID); err != nil {
		failSession(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(ws.MaxMessageSize)

	wsLog := h.log.With().
		Str("session_id", sessionID).
		Str("user_id", claims.UserID).
		Logger()
	wsLog.Info().Msg("Learner connected")

	ctx := c.Request.Context()
	for {
		env, data, err := ws.ReadMessage(conn)
		if err != nil {
			if data != nil {
				// Frame arrived but was not JSON; keep the connection.
				_ = ws.WriteError(conn, "", response.ErrInvalidPayload, nil)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var reply interface{}
		switch env.Action {
		case ws.ActionEvent:
			reply = h.handleEvent(ctx, sessionID, claims.UserID, env, data)
		case ws.ActionAutosave:
			reply = h.handleAutosave(ctx, sessionID, claims.UserID, env, data)
		case ws.ActionSubmit:
			reply = h.handleSubmit(ctx, sessionID, claims.UserID, env, data)
		case ws.ActionStatus:
			reply = h.handleStatus(ctx, sessionID, claims.UserID, env)
		case ws.ActionPing:
			reply = ws.PongResponse{Event: ws.EventPong, RequestID: env.RequestID}
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			reply = errorReply(env.RequestID, response.ErrInvalidPayload, nil)
		}

		if err := ws.WriteTyped(conn, reply); err != nil {
			wsLog.Warn().Err(err).Msg("Write failed, closing connection")
			return
		}
	}
}

func (h *WSHandler) handleEvent(ctx context.Context, sessionID, userID string, env ws.RequestEnvelope, data []byte) interface{} {
	var req ws.EventRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorReply(env.RequestID, response.ErrInvalidPayload, nil)
	}
	if err := validator.Struct(&req); err != nil {
		if validator.FailedOn(err, validator.TagEventType) {
			return errorReply(env.RequestID, response.ErrUnknownEventType, nil)
		}
		return errorReply(env.RequestID, response.ErrValidation, nil)
	}

	result, err := h.sessionService.ReportEvent(ctx, sessionID, userID, req.ReportEventRequest)
	if err != nil {
		return h.sessionErrorReply(env.RequestID, err)
	}
	return ws.RecordedResponse{Event: ws.EventRecorded, RequestID: env.RequestID, Result: result}
}

func (h *WSHandler) handleAutosave(ctx context.Context, sessionID, userID string, env ws.RequestEnvelope, data []byte) interface{} {
	var req ws.AutosaveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorReply(env.RequestID, response.ErrInvalidPayload, nil)
	}
	if err := validator.Struct(&req); err != nil {
		return errorReply(env.RequestID, response.ErrValidation, nil)
	}

	draft := model.SaveDraftRequest{QuestionID: req.QID, Answer: req.Answer}
	if err := h.sessionService.SaveDraft(ctx, sessionID, userID, draft); err != nil {
		return h.sessionErrorReply(env.RequestID, err)
	}
	return ws.SavedResponse{Event: ws.EventSaved, RequestID: env.RequestID, QID: req.QID}
}

func (h *WSHandler) handleSubmit(ctx context.Context, sessionID, userID string, env ws.RequestEnvelope, data []byte) interface{} {
	var req ws.SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorReply(env.RequestID, response.ErrInvalidPayload, nil)
	}

	result, err := h.sessionService.Submit(ctx, sessionID, userID, req.Answers)
	if err != nil {
		return h.sessionErrorReply(env.RequestID, err)
	}

	h.log.Info().
		Str("session_id", sessionID).
		Int("score", result.Score).
		Str("outcome", string(result.Outcome)).
		Msg("Attempt submitted over WebSocket")
	return ws.GradedResponse{Event: ws.EventGraded, RequestID: env.RequestID, Result: result}
}

func (h *WSHandler) handleStatus(ctx context.Context, sessionID, userID string, env ws.RequestEnvelope) interface{} {
	status, err := h.sessionService.GetStatus(ctx, sessionID, userID)
	if err != nil {
		return h.sessionErrorReply(env.RequestID, err)
	}
	return ws.StatusResponse{Event: ws.EventStatus, RequestID: env.RequestID, Status: status}
}

func (h *WSHandler) sessionErrorReply(requestID string, err error) ws.ErrorResponse {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Session request failed")
	}
	return errorReply(requestID, code, committedStatus(err))
}

func errorReply(requestID string, code response.ErrCode, status *model.SessionStatus) ws.ErrorResponse {
	return ws.ErrorResponse{
		Event:     ws.EventError,
		RequestID: requestID,
		Code:      code,
		Error:     response.GetMessage(code),
		Status:    status,
	}
}
