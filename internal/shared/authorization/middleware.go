package authorization

import (
	"github.com/gin-gonic/gin"
)

// ContextKeyUserRole is the gin context key set by the auth middleware.
const ContextKeyUserRole = "user_role"

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := c.GetString(ContextKeyUserRole)
		if userRole != string(RoleAdmin) {
			c.JSON(403, gin.H{
				"error": "admin access required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequirePublisher gates the producer-facing event publish endpoint.
func RequirePublisher() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := ParseUserRole(c.GetString(ContextKeyUserRole))
		if !role.CanPublish() {
			c.JSON(403, gin.H{
				"error": "publish access required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
