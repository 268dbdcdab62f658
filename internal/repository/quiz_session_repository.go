package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-progress-api/internal/models"
)

const quizSessionColumns = "id, student_id, quiz_id, status, started_at, expires_at, submitted_at"

// QuizSessionRepository persists server-side quiz sessions.
type QuizSessionRepository struct {
	db *sqlx.DB
}

// NewQuizSessionRepository constructs the repository.
func NewQuizSessionRepository(db *sqlx.DB) *QuizSessionRepository {
	return &QuizSessionRepository{db: db}
}

// Create inserts a new in-progress session.
func (r *QuizSessionRepository) Create(ctx context.Context, session *models.QuizSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = models.QuizSessionInProgress
	}
	const query = `INSERT INTO quiz_sessions (id, student_id, quiz_id, status, started_at, expires_at)
VALUES (:id, :student_id, :quiz_id, :status, :started_at, :expires_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create quiz session: %w", err)
	}
	return nil
}

// FindByID returns a session by id. Absence surfaces as sql.ErrNoRows.
func (r *QuizSessionRepository) FindByID(ctx context.Context, id string) (*models.QuizSession, error) {
	var session models.QuizSession
	query := `SELECT ` + quizSessionColumns + ` FROM quiz_sessions WHERE id = $1`
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get quiz session: %w", err)
	}
	return &session, nil
}

// FindInProgress returns the latest in-progress session of the student for the quiz.
func (r *QuizSessionRepository) FindInProgress(ctx context.Context, studentID, quizID string) (*models.QuizSession, error) {
	var session models.QuizSession
	query := `SELECT ` + quizSessionColumns + ` FROM quiz_sessions
WHERE student_id = $1 AND quiz_id = $2 AND status = $3
ORDER BY started_at DESC LIMIT 1`
	if err := r.db.GetContext(ctx, &session, query, studentID, quizID, models.QuizSessionInProgress); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find in-progress quiz session: %w", err)
	}
	return &session, nil
}

// MarkExpired flips an in-progress session to EXPIRED.
func (r *QuizSessionRepository) MarkExpired(ctx context.Context, id string) error {
	const query = `UPDATE quiz_sessions SET status = $1 WHERE id = $2 AND status = $3`
	if _, err := r.db.ExecContext(ctx, query, models.QuizSessionExpired, id, models.QuizSessionInProgress); err != nil {
		return fmt.Errorf("expire quiz session: %w", err)
	}
	return nil
}

// ExpireBefore expires every in-progress session whose expires_at is before cutoff.
func (r *QuizSessionRepository) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `UPDATE quiz_sessions SET status = $1
WHERE status = $2 AND expires_at IS NOT NULL AND expires_at < $3`
	res, err := r.db.ExecContext(ctx, query, models.QuizSessionExpired, models.QuizSessionInProgress, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale quiz sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire stale quiz sessions: %w", err)
	}
	return n, nil
}
