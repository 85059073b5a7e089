package rbac

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"voice-lead-agent/internal/auth"
	"voice-lead-agent/pkg/logger"
)

// RequireRole lets the request through when the caller's role is min or higher.
// It expects the identity set by auth middleware.
func RequireRole(min string) gin.HandlerFunc {
	if !IsKnownRole(min) {
		panic("rbac: unknown role " + min)
	}
	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		switch {
		case err != nil || role == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
		case !Satisfies(role, min):
			logger.FromGin(c).Warn("role denied", "role", role, "required", min, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		default:
			c.Next()
		}
	}
}
