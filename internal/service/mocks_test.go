package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/lms-progress-api/internal/models"
	"github.com/noah-isme/lms-progress-api/internal/repository"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
	"github.com/noah-isme/lms-progress-api/pkg/jobs"
)

func cloneEnrollment(e *models.Enrollment) *models.Enrollment {
	c := *e
	c.Lessons = append([]models.LessonProgress(nil), e.Lessons...)
	return &c
}

type mockEnrollmentRepo struct {
	mu        sync.Mutex
	records   map[string]*models.Enrollment
	err       error
	mutations int
}

func newMockEnrollmentRepo() *mockEnrollmentRepo {
	return &mockEnrollmentRepo{records: make(map[string]*models.Enrollment)}
}

func enrollmentKey(studentID, courseID string) string { return studentID + "|" + courseID }

func (m *mockEnrollmentRepo) seed(e models.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.records[enrollmentKey(e.StudentID, e.CourseID)] = cloneEnrollment(&e)
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	key := enrollmentKey(enrollment.StudentID, enrollment.CourseID)
	if _, ok := m.records[key]; ok {
		return repository.ErrEnrollmentExists
	}
	enrollment.ID = uuid.NewString()
	enrollment.EnrolledAt = time.Now().UTC()
	enrollment.UpdatedAt = enrollment.EnrolledAt
	m.records[key] = cloneEnrollment(enrollment)
	return nil
}

func (m *mockEnrollmentRepo) Exists(ctx context.Context, studentID, courseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.records[enrollmentKey(studentID, courseID)]
	return ok, nil
}

func (m *mockEnrollmentRepo) Find(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	e, ok := m.records[enrollmentKey(studentID, courseID)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneEnrollment(e), nil
}

func (m *mockEnrollmentRepo) ListByStudent(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	list := make([]models.Enrollment, 0)
	for _, e := range m.records {
		if e.StudentID == filter.StudentID {
			list = append(list, *cloneEnrollment(e))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CourseID < list[j].CourseID })
	return list, len(list), nil
}

func (m *mockEnrollmentRepo) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	list := make([]models.Enrollment, 0)
	for _, e := range m.records {
		if e.CourseID == courseID {
			list = append(list, *cloneEnrollment(e))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].OverallPercent != list[j].OverallPercent {
			return list[i].OverallPercent > list[j].OverallPercent
		}
		return list[i].StudentID < list[j].StudentID
	})
	return list, nil
}

func (m *mockEnrollmentRepo) RecentActivity(ctx context.Context, studentID string, limit int) ([]models.ActivityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]models.ActivityEntry, 0)
	for _, e := range m.records {
		if e.StudentID != studentID {
			continue
		}
		for _, lp := range e.Lessons {
			if lp.Completed && lp.CompletedAt != nil {
				entries = append(entries, models.ActivityEntry{CourseID: e.CourseID, LessonID: lp.LessonID, CompletedAt: *lp.CompletedAt})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CompletedAt.After(entries[j].CompletedAt) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *mockEnrollmentRepo) Mutate(ctx context.Context, studentID, courseID string, fn func(*models.Enrollment) error) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	key := enrollmentKey(studentID, courseID)
	stored, ok := m.records[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	working := cloneEnrollment(stored)
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Version++
	m.mutations++
	m.records[key] = cloneEnrollment(working)
	return working, nil
}

type mockCatalog struct {
	mu      sync.Mutex
	courses map[string]models.Course
	quizzes map[string]models.Quiz
}

func newMockCatalog(courses ...models.Course) *mockCatalog {
	c := &mockCatalog{courses: make(map[string]models.Course), quizzes: make(map[string]models.Quiz)}
	for _, course := range courses {
		c.courses[course.ID] = course
	}
	return c
}

func courseWithLessons(id, title string, lessonIDs ...string) models.Course {
	course := models.Course{ID: id, Title: title}
	for i, lessonID := range lessonIDs {
		course.Lessons = append(course.Lessons, models.Lesson{ID: lessonID, Title: lessonID, Order: i + 1})
	}
	return course
}

func (c *mockCatalog) setCourse(course models.Course) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.courses[course.ID] = course
}

func (c *mockCatalog) addQuiz(q models.Quiz) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quizzes[q.ID] = q
}

func (c *mockCatalog) CourseExists(courseID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.courses[courseID]
	return ok
}

func (c *mockCatalog) GetLessons(courseID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	course, ok := c.courses[courseID]
	if !ok {
		return nil, errors.New("course not found")
	}
	return course.LessonIDs(), nil
}

func (c *mockCatalog) GetCourseTitle(courseID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	course, ok := c.courses[courseID]
	if !ok {
		return "", errors.New("course not found")
	}
	return course.Title, nil
}

func (c *mockCatalog) GetQuiz(quizID string) (models.Quiz, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.quizzes[quizID]
	return q, ok
}

func (c *mockCatalog) QuizForLesson(lessonID string) (models.Quiz, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range c.quizzes {
		if q.LessonID == lessonID && q.IsActive {
			return q, true
		}
	}
	return models.Quiz{}, false
}

func (c *mockCatalog) QuizzesForCourse(courseID string) []models.Quiz {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := make([]models.Quiz, 0)
	for _, q := range c.quizzes {
		if q.CourseID == courseID {
			list = append(list, q)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

type mockCacheRepo struct {
	mu      sync.Mutex
	store   map[string][]byte
	deleted []string
	sets    int
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{store: make(map[string][]byte)}
}

func (m *mockCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.store[key] = raw
	m.sets++
	return nil
}

func (m *mockCacheRepo) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.store, key)
		m.deleted = append(m.deleted, key)
	}
	return nil
}

type mockQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (m *mockQueue) Enqueue(job jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.QuizSession
	expired  []string
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*models.QuizSession)}
}

func (m *mockSessionRepo) Create(ctx context.Context, session *models.QuizSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = models.QuizSessionInProgress
	}
	stored := *session
	m.sessions[session.ID] = &stored
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*models.QuizSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *s
	return &copied, nil
}

func (m *mockSessionRepo) FindInProgress(ctx context.Context, studentID, quizID string) (*models.QuizSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.QuizSession
	for _, s := range m.sessions {
		if s.StudentID == studentID && s.QuizID == quizID && s.Status == models.QuizSessionInProgress {
			if latest == nil || s.StartedAt.After(latest.StartedAt) {
				latest = s
			}
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	copied := *latest
	return &copied, nil
}

func (m *mockSessionRepo) MarkExpired(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.Status == models.QuizSessionInProgress {
		s.Status = models.QuizSessionExpired
		m.expired = append(m.expired, id)
	}
	return nil
}

func (m *mockSessionRepo) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.Status == models.QuizSessionInProgress && s.ExpiresAt != nil && s.ExpiresAt.Before(cutoff) {
			s.Status = models.QuizSessionExpired
			n++
		}
	}
	return n, nil
}

// mockAttemptRepo mirrors the transactional rules of the Postgres repository.
type mockAttemptRepo struct {
	mu       sync.Mutex
	sessions *mockSessionRepo
	attempts []models.QuizAttempt
}

func (m *mockAttemptRepo) Record(ctx context.Context, attempt *models.QuizAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	var session *models.QuizSession
	if attempt.SessionID != nil {
		s, ok := m.sessions.sessions[*attempt.SessionID]
		if !ok || s.Status != models.QuizSessionInProgress {
			return repository.ErrSessionClosed
		}
		session = s
	}
	for _, a := range m.attempts {
		if a.StudentID == attempt.StudentID && a.QuizID == attempt.QuizID && a.ClientSubmissionID == attempt.ClientSubmissionID {
			return repository.ErrDuplicateSubmission
		}
	}
	if session != nil {
		session.Status = models.QuizSessionSubmitted
		submitted := attempt.SubmittedAt
		session.SubmittedAt = &submitted
	}
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *mockAttemptRepo) FindBySubmission(ctx context.Context, studentID, quizID, clientSubmissionID string) (*models.QuizAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.StudentID == studentID && a.QuizID == quizID && a.ClientSubmissionID == clientSubmissionID {
			copied := a
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAttemptRepo) CountByStudent(ctx context.Context, studentID, quizID string) (int, error) {
	list, _ := m.ListByStudent(ctx, studentID, quizID)
	return len(list), nil
}

func (m *mockAttemptRepo) ListByStudent(ctx context.Context, studentID, quizID string) ([]models.QuizAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]models.QuizAttempt, 0)
	for _, a := range m.attempts {
		if a.StudentID == studentID && a.QuizID == quizID {
			list = append(list, a)
		}
	}
	return list, nil
}

func (m *mockAttemptRepo) ListByQuiz(ctx context.Context, quizID string) ([]models.QuizAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]models.QuizAttempt, 0)
	for _, a := range m.attempts {
		if a.QuizID == quizID {
			list = append(list, a)
		}
	}
	return list, nil
}
