//go:build integration

package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/noah-isme/lms-progress-api/internal/models"
	"github.com/noah-isme/lms-progress-api/pkg/database"
)

func startPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("lms_progress"),
		postgres.WithUsername("lms"),
		postgres.WithPassword("lms"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(ctx, db))
	require.NoError(t, database.Migrate(ctx, db), "migrations must be re-runnable")
	return db
}

func TestPostgresEnrollmentLifecycle(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	repo := NewEnrollmentRepository(db)

	require.NoError(t, repo.Create(ctx, &models.Enrollment{StudentID: "stu-1", CourseID: "c1"}))
	assert.ErrorIs(t, repo.Create(ctx, &models.Enrollment{StudentID: "stu-1", CourseID: "c1"}), ErrEnrollmentExists)

	ok, err := repo.Exists(ctx, "stu-1", "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.Find(ctx, "stu-2", "c1")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	// Concurrent completions of different lessons must not lose updates.
	lessons := []string{"l1", "l2", "l3", "l4"}
	var wg sync.WaitGroup
	for _, lessonID := range lessons {
		wg.Add(1)
		go func(lessonID string) {
			defer wg.Done()
			_, err := repo.Mutate(ctx, "stu-1", "c1", func(e *models.Enrollment) error {
				now := time.Now().UTC()
				lp := e.EnsureLesson(lessonID)
				lp.Completed = true
				lp.CompletedAt = &now
				e.OverallPercent = e.CompletedIn(lessons) * 100 / len(lessons)
				return nil
			})
			assert.NoError(t, err)
		}(lessonID)
	}
	wg.Wait()

	e, err := repo.Find(ctx, "stu-1", "c1")
	require.NoError(t, err)
	assert.Len(t, e.Lessons, 4)
	assert.Equal(t, 100, e.OverallPercent)
	assert.Equal(t, int64(5), e.Version)

	activity, err := repo.RecentActivity(ctx, "stu-1", 2)
	require.NoError(t, err)
	assert.Len(t, activity, 2)

	require.NoError(t, repo.Create(ctx, &models.Enrollment{StudentID: "stu-2", CourseID: "c1"}))
	roster, err := repo.ListByCourse(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, roster, 2)
	assert.Equal(t, "stu-1", roster[0].StudentID)
	assert.Len(t, roster[0].Lessons, 4)
	assert.Empty(t, roster[1].Lessons)
}

func TestPostgresQuizAttemptIdempotency(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	sessions := NewQuizSessionRepository(db)
	attempts := NewQuizAttemptRepository(db)

	now := time.Now().UTC()
	exp := now.Add(time.Minute)
	session := &models.QuizSession{StudentID: "stu-1", QuizID: "qz", StartedAt: now, ExpiresAt: &exp}
	require.NoError(t, sessions.Create(ctx, session))

	first := sampleAttempt(&session.ID)
	require.NoError(t, attempts.Record(ctx, first))

	stored, err := sessions.FindByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuizSessionSubmitted, stored.Status)

	assert.ErrorIs(t, attempts.Record(ctx, sampleAttempt(&session.ID)), ErrSessionClosed)
	assert.ErrorIs(t, attempts.Record(ctx, sampleAttempt(nil)), ErrDuplicateSubmission)

	replay, err := attempts.FindBySubmission(ctx, "stu-1", "qz", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)

	count, err := attempts.CountByStudent(ctx, "stu-1", "qz")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stale := &models.QuizSession{StudentID: "stu-1", QuizID: "qz", StartedAt: now.Add(-time.Hour), ExpiresAt: &now}
	require.NoError(t, sessions.Create(ctx, stale))
	n, err := sessions.ExpireBefore(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
