package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// AuthHandler exposes the identity carried by the caller's token. Tokens are
// issued upstream; there is no login here.
type AuthHandler struct{}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Me godoc
// GET /api/v1/auth/me
// Returns the identity and permissions of the authenticated caller.
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	permissions := claims.Permissions
	if permissions == nil {
		permissions = []string{}
	}

	body := gin.H{
		"user_id":     claims.UserID,
		"token_type":  claims.TokenType,
		"permissions": permissions,
	}
	if claims.ExpiresAt != nil {
		body["expires_at"] = claims.ExpiresAt.Time
	}

	response.Success(c, http.StatusOK, body)
}
