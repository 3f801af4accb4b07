package model

import (
	"time"

	"github.com/google/uuid"
)

// CertificateRequest is handed to the certificate service when an attempt
// passes. Rendering and tokenization happen there.
type CertificateRequest struct {
	SessionID   string    `json:"session_id"`
	ExamID      uuid.UUID `json:"exam_id"`
	UserID      string    `json:"user_id"`
	Score       int       `json:"score"`
	RequestedAt time.Time `json:"requested_at"`
}
