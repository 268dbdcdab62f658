package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-progress-api/internal/models"
)

// ErrEnrollmentExists is returned when the (student, course) pair is already enrolled.
var ErrEnrollmentExists = errors.New("enrollment already exists")

const uniqueViolation = "23505"

const enrollmentColumns = "id, student_id, course_id, overall_percent, version, enrolled_at, updated_at, completed_at"

// EnrollmentRepository persists enrollments and their lesson progress.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create inserts a new enrollment with no lesson entries.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	enrollment.UpdatedAt = enrollment.EnrolledAt
	enrollment.Version = 1
	enrollment.Lessons = []models.LessonProgress{}

	const query = `INSERT INTO enrollments (id, student_id, course_id, overall_percent, version, enrolled_at, updated_at)
VALUES (:id, :student_id, :course_id, :overall_percent, :version, :enrolled_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		if isUniqueViolation(err) {
			return ErrEnrollmentExists
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Exists reports whether the student is enrolled in the course.
func (r *EnrollmentRepository) Exists(ctx context.Context, studentID, courseID string) (bool, error) {
	var exists bool
	const query = `SELECT EXISTS(SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2)`
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

// Find returns the enrollment with its lessons. Absence surfaces as sql.ErrNoRows.
func (r *EnrollmentRepository) Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 AND course_id = $2`
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	lessons, err := loadLessons(ctx, r.db, enrollment.ID)
	if err != nil {
		return nil, err
	}
	enrollment.Lessons = lessons
	return &enrollment, nil
}

// ListByStudent returns a page of the student's enrollments, newest first, with lessons loaded.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	page, size := normalizePage(filter.Page, filter.PageSize)

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM enrollments WHERE student_id = $1`, filter.StudentID); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}

	var enrollments []models.Enrollment
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 ORDER BY enrolled_at DESC, id ASC LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &enrollments, query, filter.StudentID, size, (page-1)*size); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}
	if len(enrollments) == 0 {
		return []models.Enrollment{}, total, nil
	}
	if err := r.attachLessons(ctx, enrollments); err != nil {
		return nil, 0, err
	}
	return enrollments, total, nil
}

// ListByCourse returns every enrollment of a course with lessons loaded, most progressed first.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	var enrollments []models.Enrollment
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE course_id = $1 ORDER BY overall_percent DESC, enrolled_at ASC, id ASC`
	if err := r.db.SelectContext(ctx, &enrollments, query, courseID); err != nil {
		return nil, fmt.Errorf("list course enrollments: %w", err)
	}
	if len(enrollments) == 0 {
		return []models.Enrollment{}, nil
	}
	if err := r.attachLessons(ctx, enrollments); err != nil {
		return nil, err
	}
	return enrollments, nil
}

// attachLessons loads lesson progress for a batch of enrollments in one query.
func (r *EnrollmentRepository) attachLessons(ctx context.Context, enrollments []models.Enrollment) error {
	ids := make([]string, len(enrollments))
	index := make(map[string]int, len(enrollments))
	for i := range enrollments {
		ids[i] = enrollments[i].ID
		index[enrollments[i].ID] = i
		enrollments[i].Lessons = []models.LessonProgress{}
	}
	inQuery, args, err := sqlx.In(`SELECT enrollment_id, lesson_id, completed, completed_at, seconds_watched FROM lesson_progress WHERE enrollment_id IN (?) ORDER BY lesson_id`, ids)
	if err != nil {
		return fmt.Errorf("build lesson query: %w", err)
	}
	var lessons []models.LessonProgress
	if err := r.db.SelectContext(ctx, &lessons, r.db.Rebind(inQuery), args...); err != nil {
		return fmt.Errorf("list lesson progress: %w", err)
	}
	for _, lp := range lessons {
		i := index[lp.EnrollmentID]
		enrollments[i].Lessons = append(enrollments[i].Lessons, lp)
	}
	return nil
}

// RecentActivity returns the student's latest lesson completions across courses.
func (r *EnrollmentRepository) RecentActivity(ctx context.Context, studentID string, limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT e.course_id, lp.lesson_id, lp.completed_at
FROM lesson_progress lp
JOIN enrollments e ON e.id = lp.enrollment_id
WHERE e.student_id = $1 AND lp.completed AND lp.completed_at IS NOT NULL
ORDER BY lp.completed_at DESC
LIMIT $2`
	var entries []models.ActivityEntry
	if err := r.db.SelectContext(ctx, &entries, query, studentID, limit); err != nil {
		return nil, fmt.Errorf("list recent activity: %w", err)
	}
	if entries == nil {
		entries = []models.ActivityEntry{}
	}
	return entries, nil
}

// Mutate applies fn to the enrollment under a row lock and persists whatever it changed.
// Writes for one (student, course) pair are serialized; the version column is bumped on
// every effective change. When fn leaves the record untouched nothing is written.
// Absence surfaces as sql.ErrNoRows; errors returned by fn are passed through unchanged.
func (r *EnrollmentRepository) Mutate(ctx context.Context, studentID, courseID string, fn func(*models.Enrollment) error) (result *models.Enrollment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enrollment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var enrollment models.Enrollment
	lockQuery := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 AND course_id = $2 FOR UPDATE`
	if err = tx.GetContext(ctx, &enrollment, lockQuery, studentID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	if enrollment.Lessons, err = loadLessons(ctx, tx, enrollment.ID); err != nil {
		return nil, err
	}

	before := snapshot(enrollment)
	if err = fn(&enrollment); err != nil {
		return nil, err
	}

	changedLessons := diffLessons(before.lessons, enrollment.Lessons)
	headerChanged := before.percent != enrollment.OverallPercent || !sameTime(before.completedAt, enrollment.CompletedAt)
	if len(changedLessons) == 0 && !headerChanged {
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit enrollment: %w", err)
		}
		return &enrollment, nil
	}

	const upsertLesson = `INSERT INTO lesson_progress (enrollment_id, lesson_id, completed, completed_at, seconds_watched)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (enrollment_id, lesson_id) DO UPDATE
SET completed = EXCLUDED.completed, completed_at = EXCLUDED.completed_at, seconds_watched = EXCLUDED.seconds_watched`
	for _, lp := range changedLessons {
		if _, err = tx.ExecContext(ctx, upsertLesson, enrollment.ID, lp.LessonID, lp.Completed, lp.CompletedAt, lp.SecondsWatched); err != nil {
			return nil, fmt.Errorf("upsert lesson progress: %w", err)
		}
	}

	now := time.Now().UTC()
	const updateEnrollment = `UPDATE enrollments
SET overall_percent = $1, completed_at = $2, updated_at = $3, version = version + 1
WHERE id = $4 AND version = $5`
	res, err := tx.ExecContext(ctx, updateEnrollment, enrollment.OverallPercent, enrollment.CompletedAt, now, enrollment.ID, enrollment.Version)
	if err != nil {
		return nil, fmt.Errorf("update enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update enrollment: %w", err)
	}
	if affected != 1 {
		err = fmt.Errorf("update enrollment: version %d no longer current", enrollment.Version)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrollment: %w", err)
	}
	enrollment.Version++
	enrollment.UpdatedAt = now
	return &enrollment, nil
}

type enrollmentSnapshot struct {
	percent     int
	completedAt *time.Time
	lessons     map[string]models.LessonProgress
}

func snapshot(e models.Enrollment) enrollmentSnapshot {
	s := enrollmentSnapshot{percent: e.OverallPercent, completedAt: e.CompletedAt, lessons: make(map[string]models.LessonProgress, len(e.Lessons))}
	for _, lp := range e.Lessons {
		s.lessons[lp.LessonID] = lp
	}
	return s
}

func diffLessons(before map[string]models.LessonProgress, after []models.LessonProgress) []models.LessonProgress {
	var changed []models.LessonProgress
	for _, lp := range after {
		prev, ok := before[lp.LessonID]
		if !ok || prev.Completed != lp.Completed || prev.SecondsWatched != lp.SecondsWatched || !sameTime(prev.CompletedAt, lp.CompletedAt) {
			changed = append(changed, lp)
		}
	}
	return changed
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func loadLessons(ctx context.Context, q sqlx.QueryerContext, enrollmentID string) ([]models.LessonProgress, error) {
	lessons := []models.LessonProgress{}
	const query = `SELECT enrollment_id, lesson_id, completed, completed_at, seconds_watched FROM lesson_progress WHERE enrollment_id = $1 ORDER BY lesson_id`
	if err := sqlx.SelectContext(ctx, q, &lessons, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list lesson progress: %w", err)
	}
	return lessons, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
