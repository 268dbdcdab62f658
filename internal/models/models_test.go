package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnrollmentEnsureLessonIsLazy(t *testing.T) {
	e := &Enrollment{ID: "enr-1"}
	assert.Nil(t, e.Lesson("l1"))

	lp := e.EnsureLesson("l1")
	lp.Completed = true
	assert.Len(t, e.Lessons, 1)
	assert.True(t, e.Lesson("l1").Completed)

	e.EnsureLesson("l1")
	assert.Len(t, e.Lessons, 1)
}

func TestEnrollmentCompletedInIgnoresRemovedLessons(t *testing.T) {
	e := &Enrollment{Lessons: []LessonProgress{
		{LessonID: "l1", Completed: true},
		{LessonID: "l2", Completed: false},
		{LessonID: "gone", Completed: true},
	}}
	assert.Equal(t, 1, e.CompletedIn([]string{"l1", "l2", "l3"}))
}

func TestQuizSessionDeadline(t *testing.T) {
	_, limited := QuizSession{}.Deadline(time.Second)
	assert.False(t, limited)

	exp := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	deadline, limited := QuizSession{ExpiresAt: &exp}.Deadline(5 * time.Second)
	assert.True(t, limited)
	assert.Equal(t, exp.Add(5*time.Second), deadline)
}

func TestBestAttemptPrefersHighestThenEarliest(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	attempts := []QuizAttempt{
		{ID: "a", Percent: 50, SubmittedAt: t0},
		{ID: "b", Percent: 80, SubmittedAt: t0.Add(2 * time.Hour)},
		{ID: "c", Percent: 80, SubmittedAt: t0.Add(time.Hour)},
	}
	assert.Equal(t, "c", BestAttempt(attempts).ID)
	assert.Nil(t, BestAttempt(nil))
}

func TestQuestionTypeValid(t *testing.T) {
	assert.True(t, QuestionShortAnswer.Valid())
	assert.False(t, QuestionType("essay").Valid())
}
