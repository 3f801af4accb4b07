package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute

	// MaxMessageSize bounds one client frame. A full submission of a long
	// exam fits comfortably.
	MaxMessageSize = 64 << 10
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, requestID string, code response.ErrCode, status *model.SessionStatus) error {
	return WriteTyped(conn, ErrorResponse{
		Event:     EventError,
		RequestID: requestID,
		Code:      code,
		Error:     response.GetMessage(code),
		Status:    status,
	})
}

// ReadMessage reads one frame and peeks at its action. The raw bytes are
// returned for decoding into the action's request type.
func ReadMessage(conn *websocket.Conn) (RequestEnvelope, []byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return RequestEnvelope{}, nil, err
	}

	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return RequestEnvelope{}, data, err
	}
	return env, data, nil
}
