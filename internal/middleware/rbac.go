package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// RequirePermission checks that the proctor JWT contains the required permission code.
func RequirePermission(permissionCode string) gin.HandlerFunc {
	return RequireAnyPermission(permissionCode)
}

// RequireAnyPermission checks that the proctor JWT contains at least one of the specified permissions.
func RequireAnyPermission(codes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		for _, code := range codes {
			if claims.HasPermission(code) {
				c.Next()
				return
			}
		}

		response.AbortFail(c, http.StatusForbidden, response.ErrPermissionDenied)
	}
}
