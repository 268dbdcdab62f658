package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/pkg/response"
)

type quizService interface {
	GetQuiz(ctx context.Context, quizID string) (*dto.QuizView, error)
	QuizForLesson(ctx context.Context, lessonID string) (*dto.QuizView, error)
	ListForCourse(ctx context.Context, courseID string) ([]dto.QuizView, error)
}

// QuizHandler exposes the quiz catalogue. Correct answers never leave the server.
type QuizHandler struct {
	quizzes quizService
}

// NewQuizHandler constructs QuizHandler.
func NewQuizHandler(quizzes quizService) *QuizHandler {
	return &QuizHandler{quizzes: quizzes}
}

// ListForCourse godoc
// @Summary Active quizzes of a course
// @Tags Quizzes
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{courseId}/quizzes [get]
func (h *QuizHandler) ListForCourse(c *gin.Context) {
	quizzes, err := h.quizzes.ListForCourse(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quizzes, nil)
}

// ForLesson godoc
// @Summary Quiz attached to a lesson
// @Tags Quizzes
// @Produce json
// @Param lessonId path string true "Lesson ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /lessons/{lessonId}/quiz [get]
func (h *QuizHandler) ForLesson(c *gin.Context) {
	quiz, err := h.quizzes.QuizForLesson(c.Request.Context(), c.Param("lessonId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quiz, nil)
}

// Get godoc
// @Summary Quiz by id
// @Tags Quizzes
// @Produce json
// @Param quizId path string true "Quiz ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /quizzes/{quizId} [get]
func (h *QuizHandler) Get(c *gin.Context) {
	quiz, err := h.quizzes.GetQuiz(c.Request.Context(), c.Param("quizId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quiz, nil)
}
