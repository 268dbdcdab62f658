package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/internal/middleware"
	"github.com/noah-isme/lms-progress-api/internal/models"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
	"github.com/noah-isme/lms-progress-api/pkg/response"
)

type dashboardService interface {
	Get(ctx context.Context, principal models.Principal) (*dto.DashboardResponse, bool, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Get godoc
// @Summary Student dashboard
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	dashboard, cacheHit, err := h.service.Get(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.MarkCached(c, cacheHit)
	response.JSON(c, http.StatusOK, dashboard, nil, middleware.Meta(c))
}
