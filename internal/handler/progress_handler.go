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

type progressService interface {
	CompleteLesson(ctx context.Context, principal models.Principal, courseID, lessonID string) (*dto.ProgressSummary, error)
	RecordWatchTime(ctx context.Context, principal models.Principal, courseID, lessonID string, req dto.WatchTimeRequest) (*dto.ProgressSummary, error)
	GetProgress(ctx context.Context, principal models.Principal, courseID string) (*models.Enrollment, error)
	CourseRoster(ctx context.Context, courseID string) (*dto.CourseRoster, error)
}

// ProgressHandler exposes lesson progress endpoints.
type ProgressHandler struct {
	progress progressService
}

// NewProgressHandler constructs ProgressHandler.
func NewProgressHandler(progress progressService) *ProgressHandler {
	return &ProgressHandler{progress: progress}
}

// Get godoc
// @Summary Course progress for the caller
// @Tags Progress
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{courseId}/progress [get]
func (h *ProgressHandler) Get(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	enrollment, err := h.progress.GetProgress(c.Request.Context(), principal, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// CompleteLesson godoc
// @Summary Mark a lesson complete
// @Tags Progress
// @Produce json
// @Param courseId path string true "Course ID"
// @Param lessonId path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{courseId}/lessons/{lessonId}/complete [post]
func (h *ProgressHandler) CompleteLesson(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	summary, err := h.progress.CompleteLesson(c.Request.Context(), principal, c.Param("courseId"), c.Param("lessonId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// RecordWatchTime godoc
// @Summary Report lesson watch time
// @Tags Progress
// @Accept json
// @Produce json
// @Param courseId path string true "Course ID"
// @Param lessonId path string true "Lesson ID"
// @Param payload body dto.WatchTimeRequest true "Watch time"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/lessons/{lessonId}/watch [put]
func (h *ProgressHandler) RecordWatchTime(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.WatchTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	summary, err := h.progress.RecordWatchTime(c.Request.Context(), principal, c.Param("courseId"), c.Param("lessonId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Roster godoc
// @Summary Progress of every student in a course
// @Description Instructor view: per-student percent and lesson counts plus a class summary.
// @Tags Progress
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{courseId}/students [get]
func (h *ProgressHandler) Roster(c *gin.Context) {
	roster, err := h.progress.CourseRoster(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}
