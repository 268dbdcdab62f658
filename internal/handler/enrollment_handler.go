package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/internal/models"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
	"github.com/noah-isme/lms-progress-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, principal models.Principal, req dto.EnrollRequest) (*models.Enrollment, error)
	Status(ctx context.Context, principal models.Principal, courseID string) (*dto.EnrollmentStatus, error)
	ListMine(ctx context.Context, principal models.Principal, page, pageSize int) ([]models.Enrollment, *models.Pagination, error)
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Enroll godoc
// @Summary Enroll the caller into a course
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// ListMine godoc
// @Summary List the caller's enrollments
// @Tags Enrollments
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) ListMine(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	enrollments, pagination, err := h.enrollments.ListMine(c.Request.Context(), principal, queryInt(c, "page", 1), queryInt(c, "limit", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Status godoc
// @Summary Check whether the caller is enrolled in a course
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/enrollment [get]
func (h *EnrollmentHandler) Status(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	status, err := h.enrollments.Status(c.Request.Context(), principal, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}
