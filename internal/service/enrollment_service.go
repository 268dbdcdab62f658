package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/internal/models"
	"github.com/noah-isme/lms-progress-api/internal/repository"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
)

type enrollmentRepository interface {
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Exists(ctx context.Context, studentID, courseID string) (bool, error)
	Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
	RecentActivity(ctx context.Context, studentID string, limit int) ([]models.ActivityEntry, error)
	Mutate(ctx context.Context, studentID, courseID string, fn func(*models.Enrollment) error) (*models.Enrollment, error)
}

// courseCatalog is the read-only course and quiz source.
type courseCatalog interface {
	CourseExists(courseID string) bool
	GetLessons(courseID string) ([]string, error)
	GetCourseTitle(courseID string) (string, error)
	GetQuiz(quizID string) (models.Quiz, bool)
	QuizForLesson(lessonID string) (models.Quiz, bool)
	QuizzesForCourse(courseID string) []models.Quiz
}

func dashboardCacheKey(studentID string) string {
	return "dashboard:" + studentID
}

// EnrollmentService orchestrates enrollment workflows.
type EnrollmentService struct {
	repo      enrollmentRepository
	catalog   courseCatalog
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, catalog courseCatalog, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, catalog: catalog, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// Enroll registers the caller in a catalog course with empty progress.
func (s *EnrollmentService) Enroll(ctx context.Context, principal models.Principal, req dto.EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if !s.catalog.CourseExists(req.CourseID) {
		return nil, appErrors.Clone(appErrors.ErrInvalidCourse, "")
	}

	enrollment := &models.Enrollment{
		StudentID: principal.StudentID,
		CourseID:  req.CourseID,
		Lessons:   []models.LessonProgress{},
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrEnrollmentExists) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "")
		}
		s.logger.Error("create enrollment failed", zap.String("course_id", req.CourseID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	s.metrics.EnrollmentCreated()
	s.cache.Invalidate(ctx, dashboardCacheKey(principal.StudentID))
	s.logger.Info("student enrolled", zap.String("student_id", principal.StudentID), zap.String("course_id", req.CourseID))
	return enrollment, nil
}

// Status reports whether the caller is enrolled and, if so, their progress record.
// Absence is a normal answer, never an error.
func (s *EnrollmentService) Status(ctx context.Context, principal models.Principal, courseID string) (*dto.EnrollmentStatus, error) {
	enrollment, err := s.repo.Find(ctx, principal.StudentID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &dto.EnrollmentStatus{IsEnrolled: false}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return &dto.EnrollmentStatus{IsEnrolled: true, Progress: enrollment}, nil
}

// IsEnrolled is the boolean form of Status.
func (s *EnrollmentService) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	ok, err := s.repo.Exists(ctx, studentID, courseID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	return ok, nil
}

// ListMine returns the caller's enrollments with pagination metadata.
func (s *EnrollmentService) ListMine(ctx context.Context, principal models.Principal, page, pageSize int) ([]models.Enrollment, *models.Pagination, error) {
	filter := models.EnrollmentFilter{StudentID: principal.StudentID, Page: page, PageSize: pageSize}
	enrollments, total, err := s.repo.ListByStudent(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return enrollments, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}
