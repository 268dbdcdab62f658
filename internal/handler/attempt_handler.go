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

type attemptService interface {
	StartSession(ctx context.Context, principal models.Principal, quizID string) (*dto.StartSessionResponse, error)
	Submit(ctx context.Context, principal models.Principal, quizID string, req dto.SubmitAttemptRequest) (*dto.AttemptResult, error)
	ListMine(ctx context.Context, principal models.Principal, quizID string) (*dto.AttemptHistory, error)
	ExportGradebook(ctx context.Context, quizID, format string) ([]byte, string, string, error)
}

// AttemptHandler exposes quiz sessions, submissions and the gradebook export.
type AttemptHandler struct {
	attempts attemptService
}

// NewAttemptHandler constructs AttemptHandler.
func NewAttemptHandler(attempts attemptService) *AttemptHandler {
	return &AttemptHandler{attempts: attempts}
}

// StartSession godoc
// @Summary Start or resume a quiz session
// @Tags Quiz Attempts
// @Produce json
// @Param quizId path string true "Quiz ID"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "Resumed session"
// @Failure 409 {object} response.Envelope
// @Router /quizzes/{quizId}/sessions [post]
func (h *AttemptHandler) StartSession(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	started, err := h.attempts.StartSession(c.Request.Context(), principal, c.Param("quizId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusCreated
	if started.Resumed {
		status = http.StatusOK
	}
	response.JSON(c, status, started, nil)
}

// Submit godoc
// @Summary Submit a quiz attempt
// @Description Resubmitting with the same client_submission_id (or Idempotency-Key header) returns the stored result.
// @Tags Quiz Attempts
// @Accept json
// @Produce json
// @Param quizId path string true "Quiz ID"
// @Param payload body dto.SubmitAttemptRequest true "Answers"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope "Replayed submission"
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /quizzes/{quizId}/attempts [post]
func (h *AttemptHandler) Submit(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	var req dto.SubmitAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	if req.ClientSubmissionID == "" {
		req.ClientSubmissionID = c.GetHeader("Idempotency-Key")
	}
	result, err := h.attempts.Submit(c.Request.Context(), principal, c.Param("quizId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	response.JSON(c, status, result, nil)
}

// History godoc
// @Summary The caller's attempts for a quiz
// @Tags Quiz Attempts
// @Produce json
// @Param quizId path string true "Quiz ID"
// @Success 200 {object} response.Envelope
// @Router /quizzes/{quizId}/attempts [get]
func (h *AttemptHandler) History(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	history, err := h.attempts.ListMine(c.Request.Context(), principal, c.Param("quizId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Export godoc
// @Summary Export the quiz gradebook
// @Tags Quiz Attempts
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Produce text/csv
// @Param quizId path string true "Quiz ID"
// @Param format query string false "xlsx (default) or csv"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /quizzes/{quizId}/attempts/export [get]
func (h *AttemptHandler) Export(c *gin.Context) {
	data, filename, contentType, err := h.attempts.ExportGradebook(c.Request.Context(), c.Param("quizId"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, filename, contentType, data)
}
