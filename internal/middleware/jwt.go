package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-progress-api/internal/models"
	"github.com/noah-isme/lms-progress-api/internal/service"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
	"github.com/noah-isme/lms-progress-api/pkg/logger"
	"github.com/noah-isme/lms-progress-api/pkg/response"
)

// ContextUserKey is the gin context key storing the request principal.
const ContextUserKey = "currentUser"

// JWT protects routes by requiring a valid access token. The resolved principal is stored
// under ContextUserKey; the student id is also exposed to the request logger.
// Browsers cannot set headers on WebSocket upgrades, so those may pass ?access_token= instead.
func JWT(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" && isWebSocketUpgrade(c) {
			if token := c.Query("access_token"); token != "" {
				header = "Bearer " + token
			}
		}
		token, err := bearerToken(header)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		principal := claims.Principal()
		c.Set(ContextUserKey, principal)
		c.Set(logger.StudentIDKey, principal.StudentID)
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by JWT.
func PrincipalFrom(c *gin.Context) (models.Principal, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return models.Principal{}, false
	}
	principal, ok := value.(models.Principal)
	return principal, ok
}

func isWebSocketUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
