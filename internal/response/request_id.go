package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextKeyRequestID is the Gin context key for the request ID.
const ContextKeyRequestID = "request_id"

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

// RequestIDMiddleware tags every request with an ID, reusing the caller's
// when one is supplied so traces join up across services.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header(HeaderRequestID, reqID)
		c.Next()
	}
}

// RequestID returns the ID assigned to the current request.
func RequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}
