package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/internal/models"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
)

const (
	dashboardCourseLimit   = 100
	dashboardActivityLimit = 20
)

type dashboardRepository interface {
	ListByStudent(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	RecentActivity(ctx context.Context, studentID string, limit int) ([]models.ActivityEntry, error)
}

// DashboardService composes the student dashboard and caches it per student.
type DashboardService struct {
	repo     dashboardRepository
	catalog  courseCatalog
	cache    *CacheService
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewDashboardService constructs DashboardService.
func NewDashboardService(repo dashboardRepository, catalog courseCatalog, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{repo: repo, catalog: catalog, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// Get returns the dashboard and whether it was served from cache.
func (s *DashboardService) Get(ctx context.Context, principal models.Principal) (*dto.DashboardResponse, bool, error) {
	key := dashboardCacheKey(principal.StudentID)
	var cached dto.DashboardResponse
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	enrollments, _, err := s.repo.ListByStudent(ctx, models.EnrollmentFilter{StudentID: principal.StudentID, Page: 1, PageSize: dashboardCourseLimit})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	activity, err := s.repo.RecentActivity(ctx, principal.StudentID, dashboardActivityLimit)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recent activity")
	}

	resp := &dto.DashboardResponse{
		Courses:        make([]dto.DashboardCourse, 0, len(enrollments)),
		RecentActivity: activity,
	}
	if resp.RecentActivity == nil {
		resp.RecentActivity = []models.ActivityEntry{}
	}
	for i := range enrollments {
		e := &enrollments[i]
		course := dto.DashboardCourse{
			CourseID:       e.CourseID,
			Title:          e.CourseID,
			OverallPercent: e.OverallPercent,
			EnrolledAt:     e.EnrolledAt,
			CompletedAt:    e.CompletedAt,
		}
		if title, err := s.catalog.GetCourseTitle(e.CourseID); err == nil {
			course.Title = title
		}
		if lessons, err := s.catalog.GetLessons(e.CourseID); err == nil {
			course.TotalLessons = len(lessons)
			course.CompletedLessons = e.CompletedIn(lessons)
		} else {
			s.logger.Warn("enrolled course missing from catalog", zap.String("course_id", e.CourseID))
		}
		resp.Courses = append(resp.Courses, course)
	}

	s.cache.Set(ctx, key, resp, s.cacheTTL)
	return resp, false, nil
}
