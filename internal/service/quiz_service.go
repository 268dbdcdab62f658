package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/internal/models"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
)

// QuizService serves quiz definitions. Client views never include correct answers and
// inactive quizzes are hidden.
type QuizService struct {
	catalog courseCatalog
	logger  *zap.Logger
}

// NewQuizService constructs QuizService.
func NewQuizService(catalog courseCatalog, logger *zap.Logger) *QuizService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuizService{catalog: catalog, logger: logger}
}

// GetQuiz returns the client view of an active quiz.
func (s *QuizService) GetQuiz(ctx context.Context, quizID string) (*dto.QuizView, error) {
	quiz, err := s.Definition(ctx, quizID)
	if err != nil {
		return nil, err
	}
	view := dto.NewQuizView(quiz)
	return &view, nil
}

// QuizForLesson returns the active quiz attached to a lesson.
func (s *QuizService) QuizForLesson(ctx context.Context, lessonID string) (*dto.QuizView, error) {
	quiz, ok := s.catalog.QuizForLesson(lessonID)
	if !ok || !quiz.IsActive {
		return nil, appErrors.Clone(appErrors.ErrQuizNotFound, "no quiz for lesson")
	}
	view := dto.NewQuizView(quiz)
	return &view, nil
}

// ListForCourse returns the active quizzes of a course.
func (s *QuizService) ListForCourse(ctx context.Context, courseID string) ([]dto.QuizView, error) {
	if !s.catalog.CourseExists(courseID) {
		return nil, appErrors.Clone(appErrors.ErrInvalidCourse, "")
	}
	views := make([]dto.QuizView, 0)
	for _, quiz := range s.catalog.QuizzesForCourse(courseID) {
		if quiz.IsActive {
			views = append(views, dto.NewQuizView(quiz))
		}
	}
	return views, nil
}

// Definition returns the authoritative definition, correct answers included, for grading.
func (s *QuizService) Definition(ctx context.Context, quizID string) (models.Quiz, error) {
	quiz, ok := s.catalog.GetQuiz(quizID)
	if !ok || !quiz.IsActive {
		return models.Quiz{}, appErrors.Clone(appErrors.ErrQuizNotFound, "")
	}
	return quiz, nil
}
