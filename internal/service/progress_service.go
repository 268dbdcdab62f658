package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/internal/models"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
	"github.com/noah-isme/lms-progress-api/pkg/jobs"
	"github.com/noah-isme/lms-progress-api/pkg/middleware/requestid"
)

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

var errLessonNotInCourse = errors.New("lesson not in course")

// roundPercent returns round(100*part/whole) clamped to [0, 100]; a zero whole yields 0.
func roundPercent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(part) / float64(whole)))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ProgressService tracks lesson completion and watch time per enrollment.
type ProgressService struct {
	repo      enrollmentRepository
	catalog   courseCatalog
	cache     *CacheService
	metrics   *MetricsService
	jobs      jobEnqueuer
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewProgressService constructs ProgressService. jobs may be nil when pre-rendering is disabled.
func NewProgressService(repo enrollmentRepository, catalog courseCatalog, cache *CacheService, metrics *MetricsService, queue jobEnqueuer, validate *validator.Validate, logger *zap.Logger) *ProgressService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{
		repo:      repo,
		catalog:   catalog,
		cache:     cache,
		metrics:   metrics,
		jobs:      queue,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CompleteLesson marks a lesson completed and recomputes the overall percent against the
// course's current lesson list. Completing an already completed lesson keeps its timestamp.
func (s *ProgressService) CompleteLesson(ctx context.Context, principal models.Principal, courseID, lessonID string) (*dto.ProgressSummary, error) {
	var (
		newlyCompleted bool
		courseDone     bool
		lessonIDs      []string
	)
	enrollment, err := s.repo.Mutate(ctx, principal.StudentID, courseID, func(e *models.Enrollment) error {
		lessons, err := s.courseLessons(courseID, lessonID)
		if err != nil {
			return err
		}
		lessonIDs = lessons
		now := s.now()

		lp := e.EnsureLesson(lessonID)
		if !lp.Completed {
			lp.Completed = true
			lp.CompletedAt = &now
			newlyCompleted = true
		}

		e.OverallPercent = roundPercent(e.CompletedIn(lessons), len(lessons))
		if e.IsComplete() && e.CompletedAt == nil {
			e.CompletedAt = &now
			courseDone = true
		}
		return nil
	})
	if err != nil {
		return nil, s.mapWriteError(err, "failed to complete lesson")
	}

	if newlyCompleted {
		s.metrics.LessonCompleted()
	}
	if courseDone {
		s.metrics.CourseCompleted()
		s.enqueuePrerender(ctx, principal, courseID)
		s.logger.Info("course completed", zap.String("student_id", principal.StudentID), zap.String("course_id", courseID))
	}
	s.cache.Invalidate(ctx, dashboardCacheKey(principal.StudentID))
	return summarize(enrollment, lessonIDs), nil
}

// RecordWatchTime keeps the furthest reported playback position of a lesson. It never changes
// completion state.
func (s *ProgressService) RecordWatchTime(ctx context.Context, principal models.Principal, courseID, lessonID string, req dto.WatchTimeRequest) (*dto.ProgressSummary, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid watch time payload")
	}
	var lessonIDs []string
	enrollment, err := s.repo.Mutate(ctx, principal.StudentID, courseID, func(e *models.Enrollment) error {
		lessons, err := s.courseLessons(courseID, lessonID)
		if err != nil {
			return err
		}
		lessonIDs = lessons
		lp := e.EnsureLesson(lessonID)
		if req.SecondsWatched > lp.SecondsWatched {
			lp.SecondsWatched = req.SecondsWatched
		}
		return nil
	})
	if err != nil {
		return nil, s.mapWriteError(err, "failed to record watch time")
	}
	s.cache.Invalidate(ctx, dashboardCacheKey(principal.StudentID))
	return summarize(enrollment, lessonIDs), nil
}

// GetProgress returns the caller's enrollment record for a course.
func (s *ProgressService) GetProgress(ctx context.Context, principal models.Principal, courseID string) (*models.Enrollment, error) {
	enrollment, err := s.repo.Find(ctx, principal.StudentID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load progress")
	}
	return enrollment, nil
}

// CourseRoster lists every student enrolled in a course with their progress, most progressed
// first, and summarises the class: average percent, completed students and completion rate.
func (s *ProgressService) CourseRoster(ctx context.Context, courseID string) (*dto.CourseRoster, error) {
	if !s.catalog.CourseExists(courseID) {
		return nil, appErrors.Clone(appErrors.ErrInvalidCourse, "")
	}
	lessonIDs, err := s.catalog.GetLessons(courseID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCourse, "")
	}
	title, err := s.catalog.GetCourseTitle(courseID)
	if err != nil {
		title = courseID
	}
	enrollments, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		s.logger.Error("list course roster failed", zap.String("course_id", courseID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course roster")
	}

	roster := &dto.CourseRoster{
		CourseID:     courseID,
		Title:        title,
		TotalLessons: len(lessonIDs),
		Students:     make([]dto.RosterEntry, 0, len(enrollments)),
	}
	percentSum := 0
	for i := range enrollments {
		e := &enrollments[i]
		roster.Students = append(roster.Students, dto.RosterEntry{
			StudentID:        e.StudentID,
			EnrolledAt:       e.EnrolledAt,
			OverallPercent:   e.OverallPercent,
			CompletedLessons: e.CompletedIn(lessonIDs),
			TotalLessons:     len(lessonIDs),
			LastActivity:     e.UpdatedAt,
			CompletedAt:      e.CompletedAt,
			Lessons:          e.Lessons,
		})
		percentSum += e.OverallPercent
		if e.IsComplete() {
			roster.Summary.CompletedStudents++
		}
	}
	total := len(enrollments)
	roster.Summary.TotalStudents = total
	roster.Summary.AverageProgress = roundPercent(percentSum, 100*total)
	roster.Summary.CompletionRate = roundPercent(roster.Summary.CompletedStudents, total)
	return roster, nil
}

func (s *ProgressService) courseLessons(courseID, lessonID string) ([]string, error) {
	lessons, err := s.catalog.GetLessons(courseID)
	if err != nil {
		return nil, errLessonNotInCourse
	}
	for _, id := range lessons {
		if id == lessonID {
			return lessons, nil
		}
	}
	return nil, errLessonNotInCourse
}

func (s *ProgressService) mapWriteError(err error, message string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotEnrolled, "")
	case errors.Is(err, errLessonNotInCourse):
		return appErrors.Clone(appErrors.ErrInvalidLesson, "")
	}
	s.logger.Error(message, zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *ProgressService) enqueuePrerender(ctx context.Context, principal models.Principal, courseID string) {
	if s.jobs == nil {
		return
	}
	job := jobs.Job{
		ID:   "cert:" + principal.StudentID + ":" + courseID,
		Type: JobCertificatePrerender,
		Payload: CertificateJobPayload{
			StudentID:   principal.StudentID,
			StudentName: principal.StudentName,
			CourseID:    courseID,
		},
	}
	if err := s.jobs.Enqueue(job); err != nil {
		s.logger.Warn("certificate prerender not queued",
			zap.String("job_id", job.ID),
			zap.String("request_id", requestid.FromContext(ctx)),
			zap.Error(err))
	}
}

func summarize(e *models.Enrollment, lessonIDs []string) *dto.ProgressSummary {
	return &dto.ProgressSummary{
		CourseID:         e.CourseID,
		CompletedLessons: e.CompletedIn(lessonIDs),
		TotalLessons:     len(lessonIDs),
		OverallPercent:   e.OverallPercent,
		CompletedAt:      e.CompletedAt,
	}
}
