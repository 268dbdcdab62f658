package dto

import (
	"time"

	"github.com/noah-isme/lms-progress-api/internal/models"
)

// EnrollRequest defines payload for enrolling into a course.
type EnrollRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

// EnrollmentStatus answers whether the caller is enrolled in a course.
type EnrollmentStatus struct {
	IsEnrolled bool               `json:"is_enrolled"`
	Progress   *models.Enrollment `json:"progress,omitempty"`
}

// ProgressSummary is returned after progress writes.
type ProgressSummary struct {
	CourseID         string     `json:"course_id"`
	CompletedLessons int        `json:"completed_lessons"`
	TotalLessons     int        `json:"total_lessons"`
	OverallPercent   int        `json:"overall_percent"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// WatchTimeRequest reports the furthest playback position of a lesson.
type WatchTimeRequest struct {
	SecondsWatched int `json:"seconds_watched" validate:"gte=0"`
}

// DashboardResponse aggregates a student's courses and recent activity.
type DashboardResponse struct {
	Courses        []DashboardCourse      `json:"courses"`
	RecentActivity []models.ActivityEntry `json:"recent_activity"`
}

// DashboardCourse is one enrolled course on the dashboard.
type DashboardCourse struct {
	CourseID         string     `json:"course_id"`
	Title            string     `json:"title"`
	OverallPercent   int        `json:"overall_percent"`
	CompletedLessons int        `json:"completed_lessons"`
	TotalLessons     int        `json:"total_lessons"`
	EnrolledAt       time.Time  `json:"enrolled_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// CourseRoster is the instructor view of every student's progress in one course.
type CourseRoster struct {
	CourseID     string        `json:"course_id"`
	Title        string        `json:"title"`
	TotalLessons int           `json:"total_lessons"`
	Students     []RosterEntry `json:"students"`
	Summary      RosterSummary `json:"summary"`
}

// RosterEntry is one enrolled student's standing in a course.
type RosterEntry struct {
	StudentID        string                  `json:"student_id"`
	EnrolledAt       time.Time               `json:"enrolled_at"`
	OverallPercent   int                     `json:"overall_percent"`
	CompletedLessons int                     `json:"completed_lessons"`
	TotalLessons     int                     `json:"total_lessons"`
	LastActivity     time.Time               `json:"last_activity"`
	CompletedAt      *time.Time              `json:"completed_at,omitempty"`
	Lessons          []models.LessonProgress `json:"lessons"`
}

// RosterSummary aggregates a course roster.
type RosterSummary struct {
	TotalStudents     int `json:"total_students"`
	AverageProgress   int `json:"average_progress"`
	CompletedStudents int `json:"completed_students"`
	CompletionRate    int `json:"completion_rate"`
}
