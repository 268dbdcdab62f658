package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-progress-api/internal/middleware"
	"github.com/noah-isme/lms-progress-api/internal/models"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
	"github.com/noah-isme/lms-progress-api/pkg/response"
)

// principalFromContext returns the authenticated caller, writing a 401 when absent.
func principalFromContext(c *gin.Context) (models.Principal, bool) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok || principal.StudentID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Principal{}, false
	}
	return principal, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return value
}
