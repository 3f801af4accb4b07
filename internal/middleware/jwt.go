package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

var errNoToken = errors.New("authorization header or token query required")

// RequireLearnerJWT validates a learner JWT from the Authorization header.
func RequireLearnerJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireTokenType(authService, service.TokenTypeLearner, response.ErrLearnerAccessOnly)
}

// RequireProctorJWT validates a proctor JWT. Monitors opened through
// EventSource may pass the token as ?token=... instead.
func RequireProctorJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireTokenType(authService, service.TokenTypeProctor, response.ErrProctorAccessOnly)
}

// RequireLearnerWSAuth validates a learner JWT from the query param ?token=...
// Used for WebSocket upgrade requests.
func RequireLearnerWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if claims.TokenType != service.TokenTypeLearner {
			response.AbortFail(c, http.StatusForbidden, response.ErrLearnerAccessOnly)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

func requireTokenType(authService *service.AuthService, want service.TokenType, wrongType response.ErrCode) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := extractAndValidateClaims(c, authService)
		if errors.Is(err, errNoToken) {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if claims.TokenType != want {
			response.AbortFail(c, http.StatusForbidden, wrongType)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

func extractAndValidateClaims(c *gin.Context, authService *service.AuthService) (*service.Claims, error) {
	tokenStr := ""

	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			tokenStr = strings.TrimSpace(parts[1])
		}
	}

	// Fallback for EventSource (SSE) which cannot send headers
	if tokenStr == "" {
		tokenStr = c.Query("token")
	}

	if tokenStr == "" {
		return nil, errNoToken
	}

	return authService.ValidateToken(tokenStr)
}
