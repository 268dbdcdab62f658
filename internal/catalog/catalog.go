package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/noah-isme/lms-progress-api/internal/models"
)

// ErrCourseNotFound is returned when a course id does not resolve.
var ErrCourseNotFound = errors.New("course not found")

// Catalog is the read-only course and quiz catalog consumed by the progress and quiz services.
type Catalog struct {
	mu       sync.RWMutex
	courses  map[string]models.Course
	quizzes  map[string]models.Quiz
	byLesson map[string][]string
	byCourse map[string][]string
}

// New builds a catalog from already validated courses and quizzes.
func New(courses []models.Course, quizzes []models.Quiz) (*Catalog, error) {
	c := &Catalog{}
	if err := c.replace(courses, quizzes); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) replace(courses []models.Course, quizzes []models.Quiz) error {
	courseMap := make(map[string]models.Course, len(courses))
	lessonOwner := make(map[string]string)
	for _, course := range courses {
		if _, dup := courseMap[course.ID]; dup {
			return fmt.Errorf("duplicate course id %q", course.ID)
		}
		sorted := append([]models.Lesson(nil), course.Lessons...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
		course.Lessons = sorted
		for _, lesson := range course.Lessons {
			if owner, dup := lessonOwner[lesson.ID]; dup {
				return fmt.Errorf("lesson id %q declared by courses %q and %q", lesson.ID, owner, course.ID)
			}
			lessonOwner[lesson.ID] = course.ID
		}
		courseMap[course.ID] = course
	}

	quizMap := make(map[string]models.Quiz, len(quizzes))
	byLesson := make(map[string][]string)
	byCourse := make(map[string][]string)
	for _, quiz := range quizzes {
		if _, dup := quizMap[quiz.ID]; dup {
			return fmt.Errorf("duplicate quiz id %q", quiz.ID)
		}
		if _, ok := courseMap[quiz.CourseID]; !ok {
			return fmt.Errorf("quiz %q references unknown course %q", quiz.ID, quiz.CourseID)
		}
		quizMap[quiz.ID] = quiz
		byCourse[quiz.CourseID] = append(byCourse[quiz.CourseID], quiz.ID)
		if quiz.LessonID != "" {
			byLesson[quiz.LessonID] = append(byLesson[quiz.LessonID], quiz.ID)
		}
	}

	c.mu.Lock()
	c.courses, c.quizzes, c.byLesson, c.byCourse = courseMap, quizMap, byLesson, byCourse
	c.mu.Unlock()
	return nil
}

// CourseExists reports whether courseID resolves.
func (c *Catalog) CourseExists(courseID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.courses[courseID]
	return ok
}

// GetCourse returns the course with its ordered lessons.
func (c *Catalog) GetCourse(courseID string) (models.Course, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	course, ok := c.courses[courseID]
	return course, ok
}

// GetLessons returns the ordered lesson ids of a course.
func (c *Catalog) GetLessons(courseID string) ([]string, error) {
	course, ok := c.GetCourse(courseID)
	if !ok {
		return nil, ErrCourseNotFound
	}
	return course.LessonIDs(), nil
}

// GetCourseTitle returns the display title of a course.
func (c *Catalog) GetCourseTitle(courseID string) (string, error) {
	course, ok := c.GetCourse(courseID)
	if !ok {
		return "", ErrCourseNotFound
	}
	return course.Title, nil
}

// GetQuiz returns the authoritative definition, correct answers included.
func (c *Catalog) GetQuiz(quizID string) (models.Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	quiz, ok := c.quizzes[quizID]
	return quiz, ok
}

// QuizForLesson returns the first active quiz attached to lessonID.
func (c *Catalog) QuizForLesson(lessonID string) (models.Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.byLesson[lessonID] {
		if quiz := c.quizzes[id]; quiz.IsActive {
			return quiz, true
		}
	}
	return models.Quiz{}, false
}

// QuizzesForCourse returns the quizzes of a course in declaration order.
func (c *Catalog) QuizzesForCourse(courseID string) []models.Quiz {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.byCourse[courseID]
	quizzes := make([]models.Quiz, 0, len(ids))
	for _, id := range ids {
		quizzes = append(quizzes, c.quizzes[id])
	}
	return quizzes
}

// Size returns the number of loaded courses and quizzes.
func (c *Catalog) Size() (courses, quizzes int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.courses), len(c.quizzes)
}
