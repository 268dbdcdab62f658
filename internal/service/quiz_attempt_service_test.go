package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/internal/models"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
	"github.com/noah-isme/lms-progress-api/pkg/export"
)

type attemptFixture struct {
	svc      *QuizAttemptService
	sessions *mockSessionRepo
	attempts *mockAttemptRepo
	metrics  *MetricsService
	clock    *fakeClock
}

func newAttemptFixture(t *testing.T, cfg QuizAttemptConfig) attemptFixture {
	t.Helper()
	catalog := newQuizCatalog()
	timed := models.Quiz{
		ID:                  "qz-timed",
		CourseID:            "go-101",
		TimeLimitMinutes:    10,
		PassingScorePercent: 50,
		IsActive:            true,
		Questions: []models.Question{
			{ID: "tf", Type: models.QuestionTrueFalse, Points: 1, CorrectAnswer: "true"},
			{ID: "sa", Type: models.QuestionShortAnswer, Points: 1, CorrectAnswer: "Paris"},
		},
	}
	catalog.addQuiz(timed)

	sessions := newMockSessionRepo()
	f := attemptFixture{
		sessions: sessions,
		attempts: &mockAttemptRepo{sessions: sessions},
		metrics:  NewMetricsService(),
		clock:    &fakeClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)},
	}
	f.svc = NewQuizAttemptService(NewQuizService(catalog, nil), f.sessions, f.attempts, f.metrics, nil, nil, cfg)
	f.svc.now = f.clock.Now
	return f
}

func TestQuizAttemptServiceSubmitUntimed(t *testing.T) {
	f := newAttemptFixture(t, QuizAttemptConfig{})
	result, err := f.svc.Submit(context.Background(), ada, "qz-mc", dto.SubmitAttemptRequest{
		Answers: []dto.AnswerInput{{QuestionID: "q1", Value: "a"}, {QuestionID: "q2", Value: "a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Score)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 50, result.Percent)
	assert.False(t, result.Passed)
	assert.False(t, result.Replayed)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.quizAttempts.WithLabelValues("false")))

	require.Len(t, f.attempts.attempts, 1)
	stored := f.attempts.attempts[0]
	assert.Equal(t, "Ada Lovelace", stored.StudentName)
	assert.Nil(t, stored.SessionID)
	assert.NotEmpty(t, stored.ClientSubmissionID)
}

func TestQuizAttemptServiceValidation(t *testing.T) {
	f := newAttemptFixture(t, QuizAttemptConfig{})
	ctx := context.Background()
	cases := map[string]dto.SubmitAttemptRequest{
		"unknown question": {Answers: []dto.AnswerInput{{QuestionID: "zz", Value: "a"}}},
		"duplicate":        {Answers: []dto.AnswerInput{{QuestionID: "q1", Value: "a"}, {QuestionID: "q1", Value: "b"}}},
		"not an option":    {Answers: []dto.AnswerInput{{QuestionID: "q1", Value: "c"}}},
		"missing id":       {Answers: []dto.AnswerInput{{Value: "a"}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, ada, "qz-mc", req)
			assert.True(t, appErrors.Is(err, appErrors.ErrValidation), err)
		})
	}

	_, err := f.svc.Submit(ctx, ada, "missing", dto.SubmitAttemptRequest{})
	assert.True(t, appErrors.Is(err, appErrors.ErrQuizNotFound))
	assert.Empty(t, f.attempts.attempts)
}

func TestQuizAttemptServiceTimedFlow(t *testing.T) {
	f := newAttemptFixture(t, QuizAttemptConfig{SubmitGrace: 5 * time.Second})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, ada, "qz-timed", dto.SubmitAttemptRequest{})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation), "timed quizzes need a session")

	started, err := f.svc.StartSession(ctx, ada, "qz-timed")
	require.NoError(t, err)
	assert.False(t, started.Resumed)
	require.NotNil(t, started.Session.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), *started.Session.ExpiresAt)

	resumed, err := f.svc.StartSession(ctx, ada, "qz-timed")
	require.NoError(t, err)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, started.Session.ID, resumed.Session.ID)

	f.clock.Advance(10*time.Minute + 4*time.Second)
	result, err := f.svc.Submit(ctx, ada, "qz-timed", dto.SubmitAttemptRequest{
		SessionID: started.Session.ID,
		Answers:   []dto.AnswerInput{{QuestionID: "tf", Value: "TRUE"}, {QuestionID: "sa", Value: " paris "}},
	})
	require.NoError(t, err, "inside the grace window")
	assert.Equal(t, 100, result.Percent)

	_, err = f.svc.Submit(ctx, ada, "qz-timed", dto.SubmitAttemptRequest{SessionID: started.Session.ID})
	assert.True(t, appErrors.Is(err, appErrors.ErrAlreadySubmitted))
}

func TestQuizAttemptServiceRejectsLateSubmission(t *testing.T) {
	f := newAttemptFixture(t, QuizAttemptConfig{SubmitGrace: 5 * time.Second})
	ctx := context.Background()
	started, err := f.svc.StartSession(ctx, ada, "qz-timed")
	require.NoError(t, err)

	f.clock.Advance(10*time.Minute + 6*time.Second)
	_, err = f.svc.Submit(ctx, ada, "qz-timed", dto.SubmitAttemptRequest{SessionID: started.Session.ID})
	assert.True(t, appErrors.Is(err, appErrors.ErrTimeLimitExceeded))
	assert.Equal(t, []string{started.Session.ID}, f.sessions.expired)
	assert.Empty(t, f.attempts.attempts)

	_, err = f.svc.Submit(ctx, ada, "qz-timed", dto.SubmitAttemptRequest{SessionID: started.Session.ID})
	assert.True(t, appErrors.Is(err, appErrors.ErrTimeLimitExceeded))

	fresh, err := f.svc.StartSession(ctx, ada, "qz-timed")
	require.NoError(t, err)
	assert.NotEqual(t, started.Session.ID, fresh.Session.ID)
}

func TestQuizAttemptServiceSessionOwnership(t *testing.T) {
	f := newAttemptFixture(t, QuizAttemptConfig{})
	ctx := context.Background()
	started, err := f.svc.StartSession(ctx, ada, "qz-timed")
	require.NoError(t, err)

	other := models.Principal{StudentID: "stu-2"}
	_, err = f.svc.Submit(ctx, other, "qz-timed", dto.SubmitAttemptRequest{SessionID: started.Session.ID})
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionNotFound))

	_, err = f.svc.Submit(ctx, ada, "qz-timed", dto.SubmitAttemptRequest{SessionID: "not-a-uuid"})
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionNotFound))

	_, err = f.svc.Submit(ctx, ada, "qz-timed", dto.SubmitAttemptRequest{SessionID: uuid.NewString()})
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionNotFound))

	_, err = f.svc.Submit(ctx, ada, "qz-mc", dto.SubmitAttemptRequest{SessionID: started.Session.ID})
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionNotFound))
}

func TestQuizAttemptServiceIdempotentReplay(t *testing.T) {
	f := newAttemptFixture(t, QuizAttemptConfig{})
	ctx := context.Background()
	started, err := f.svc.StartSession(ctx, ada, "qz-timed")
	require.NoError(t, err)

	req := dto.SubmitAttemptRequest{
		SessionID:          started.Session.ID,
		ClientSubmissionID: "click-1",
		Answers:            []dto.AnswerInput{{QuestionID: "tf", Value: "false"}},
	}
	first, err := f.svc.Submit(ctx, ada, "qz-timed", req)
	require.NoError(t, err)
	second, err := f.svc.Submit(ctx, ada, "qz-timed", req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.AttemptID, second.AttemptID)
	assert.Equal(t, first.Score, second.Score)
	assert.Len(t, f.attempts.attempts, 1)

	req.ClientSubmissionID = "click-2"
	_, err = f.svc.Submit(ctx, ada, "qz-timed", req)
	assert.True(t, appErrors.Is(err, appErrors.ErrAlreadySubmitted))
}

func TestQuizAttemptServiceAttemptLimitAndHistory(t *testing.T) {
	f := newAttemptFixture(t, QuizAttemptConfig{MaxAttempts: 2})
	ctx := context.Background()

	for i, value := range []string{"b", "a"} {
		_, err := f.svc.StartSession(ctx, ada, "qz-mc")
		require.NoError(t, err)
		started, err := f.svc.StartSession(ctx, ada, "qz-mc")
		require.NoError(t, err)
		require.True(t, started.Resumed, "attempt %d resumes its open session", i)

		f.clock.Advance(time.Minute)
		_, err = f.svc.Submit(ctx, ada, "qz-mc", dto.SubmitAttemptRequest{
			SessionID: started.Session.ID,
			Answers:   []dto.AnswerInput{{QuestionID: "q1", Value: value}},
		})
		require.NoError(t, err)
	}

	_, err := f.svc.StartSession(ctx, ada, "qz-mc")
	assert.True(t, appErrors.Is(err, appErrors.ErrAttemptLimit))

	history, err := f.svc.ListMine(ctx, ada, "qz-mc")
	require.NoError(t, err)
	require.Len(t, history.Attempts, 2)
	require.NotNil(t, history.Best)
	assert.Equal(t, 50, history.Best.Percent)
	assert.Equal(t, history.Attempts[1].ID, history.Best.ID)
}

func TestQuizAttemptServiceAttemptLimitAppliesWithoutSession(t *testing.T) {
	f := newAttemptFixture(t, QuizAttemptConfig{MaxAttempts: 1})
	ctx := context.Background()
	req := dto.SubmitAttemptRequest{
		ClientSubmissionID: "first",
		Answers:            []dto.AnswerInput{{QuestionID: "q1", Value: "a"}},
	}

	_, err := f.svc.Submit(ctx, ada, "qz-mc", req)
	require.NoError(t, err)

	replay, err := f.svc.Submit(ctx, ada, "qz-mc", req)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	req.ClientSubmissionID = "second"
	_, err = f.svc.Submit(ctx, ada, "qz-mc", req)
	assert.True(t, appErrors.Is(err, appErrors.ErrAttemptLimit))

	_, err = f.svc.Submit(ctx, ada, "qz-mc", dto.SubmitAttemptRequest{
		Answers: []dto.AnswerInput{{QuestionID: "q1", Value: "b"}},
	})
	assert.True(t, appErrors.Is(err, appErrors.ErrAttemptLimit))
	assert.Len(t, f.attempts.attempts, 1)
}

func TestQuizAttemptServiceExportGradebook(t *testing.T) {
	f := newAttemptFixture(t, QuizAttemptConfig{})
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, ada, "qz-mc", dto.SubmitAttemptRequest{Answers: []dto.AnswerInput{{QuestionID: "q1", Value: "a"}}})
	require.NoError(t, err)

	data, filename, contentType, err := f.svc.ExportGradebook(ctx, "qz-mc", "")
	require.NoError(t, err)
	assert.Equal(t, "gradebook-qz-mc.xlsx", filename)
	assert.Equal(t, export.ContentTypeXLSX, contentType)

	book, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows("Gradebook")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "stu-1", rows[1][0])
	assert.Equal(t, "Ada Lovelace", rows[1][1])

	csv, filename, _, err := f.svc.ExportGradebook(ctx, "qz-mc", "csv")
	require.NoError(t, err)
	assert.Equal(t, "gradebook-qz-mc.csv", filename)
	assert.Contains(t, string(csv), "Student ID")

	_, _, _, err = f.svc.ExportGradebook(ctx, "qz-mc", "pdf")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestQuizAttemptServiceSweepExpired(t *testing.T) {
	f := newAttemptFixture(t, QuizAttemptConfig{SubmitGrace: 5 * time.Second})
	ctx := context.Background()
	_, err := f.svc.StartSession(ctx, ada, "qz-timed")
	require.NoError(t, err)
	_, err = f.svc.StartSession(ctx, models.Principal{StudentID: "stu-2"}, "qz-mc")
	require.NoError(t, err)

	n, err := f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	f.clock.Advance(11 * time.Minute)
	n, err = f.svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "untimed sessions never expire")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.sessionsExpired))
}
