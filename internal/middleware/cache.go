package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// CacheControl sets a private Cache-Control header, for replay payloads of
// finished sessions that never change again.
func CacheControl(maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAgeSeconds))
		c.Next()
	}
}

// NoStore keeps intermediaries from caching live session state.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
