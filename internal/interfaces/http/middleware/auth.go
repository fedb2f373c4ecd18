package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gestionale/internal/infrastructure/auth"
	"gestionale/internal/shared/constants"
	"gestionale/internal/shared/logger"
	"gestionale/internal/shared/utils"
)

type AuthMiddleware struct {
	credentials *auth.CredentialService
	logger      logger.Interface
}

func NewAuthMiddleware(credentials *auth.CredentialService, log logger.Interface) *AuthMiddleware {
	return &AuthMiddleware{
		credentials: credentials,
		logger:      log,
	}
}

// RequireAuth verifies the Bearer credential and stores the caller's
// identity in the request context.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.ErrorResponse(c, http.StatusUnauthorized, "missing authorization credential")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			utils.ErrorResponse(c, http.StatusUnauthorized, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := m.credentials.Verify(parts[1])
		if err != nil {
			m.logger.Warnw("failed to verify credential", "error", err)
			utils.ErrorResponse(c, http.StatusUnauthorized, "invalid or expired credential")
			c.Abort()
			return
		}

		c.Set(constants.ContextKeyUserID, claims.UserID)
		c.Set(constants.ContextKeyUserRole, string(claims.Role))

		c.Next()
	}
}
