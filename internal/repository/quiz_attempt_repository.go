package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-progress-api/internal/models"
)

var (
	// ErrSessionClosed is returned when the attempt's session is no longer in progress.
	ErrSessionClosed = errors.New("quiz session is not in progress")
	// ErrDuplicateSubmission is returned when the idempotency key was already used.
	ErrDuplicateSubmission = errors.New("duplicate quiz submission")
)

const quizAttemptColumns = "id, student_id, student_name, quiz_id, session_id, client_submission_id, answers, results, score, total, percent, passed, submitted_at"

type attemptRow struct {
	models.QuizAttempt
	AnswersJSON []byte `db:"answers"`
	ResultsJSON []byte `db:"results"`
}

func (row attemptRow) decode() (models.QuizAttempt, error) {
	attempt := row.QuizAttempt
	attempt.Answers = map[string]string{}
	if len(row.AnswersJSON) > 0 {
		if err := json.Unmarshal(row.AnswersJSON, &attempt.Answers); err != nil {
			return models.QuizAttempt{}, fmt.Errorf("decode attempt answers: %w", err)
		}
	}
	if len(row.ResultsJSON) > 0 {
		if err := json.Unmarshal(row.ResultsJSON, &attempt.Results); err != nil {
			return models.QuizAttempt{}, fmt.Errorf("decode attempt results: %w", err)
		}
	}
	return attempt, nil
}

// QuizAttemptRepository persists immutable quiz attempts.
type QuizAttemptRepository struct {
	db *sqlx.DB
}

// NewQuizAttemptRepository constructs the repository.
func NewQuizAttemptRepository(db *sqlx.DB) *QuizAttemptRepository {
	return &QuizAttemptRepository{db: db}
}

// Record stores the attempt and, when it is bound to a session, closes that session in the
// same transaction. A session that is no longer in progress yields ErrSessionClosed; a reused
// idempotency key yields ErrDuplicateSubmission. Either way nothing is written.
func (r *QuizAttemptRepository) Record(ctx context.Context, attempt *models.QuizAttempt) (err error) {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	answers, err := json.Marshal(attempt.Answers)
	if err != nil {
		return fmt.Errorf("encode attempt answers: %w", err)
	}
	results, err := json.Marshal(attempt.Results)
	if err != nil {
		return fmt.Errorf("encode attempt results: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attempt transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if attempt.SessionID != nil {
		const closeSession = `UPDATE quiz_sessions SET status = $1, submitted_at = $2 WHERE id = $3 AND status = $4`
		res, execErr := tx.ExecContext(ctx, closeSession, models.QuizSessionSubmitted, attempt.SubmittedAt, *attempt.SessionID, models.QuizSessionInProgress)
		if execErr != nil {
			err = fmt.Errorf("close quiz session: %w", execErr)
			return err
		}
		affected, rowsErr := res.RowsAffected()
		if rowsErr != nil {
			err = fmt.Errorf("close quiz session: %w", rowsErr)
			return err
		}
		if affected == 0 {
			err = ErrSessionClosed
			return err
		}
	}

	const insert = `INSERT INTO quiz_attempts (` + quizAttemptColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT ON CONSTRAINT quiz_attempts_idempotency_key DO NOTHING`
	res, err := tx.ExecContext(ctx, insert,
		attempt.ID, attempt.StudentID, attempt.StudentName, attempt.QuizID, attempt.SessionID,
		attempt.ClientSubmissionID, answers, results, attempt.Score, attempt.Total,
		attempt.Percent, attempt.Passed, attempt.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert quiz attempt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert quiz attempt: %w", err)
	}
	if affected == 0 {
		err = ErrDuplicateSubmission
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit quiz attempt: %w", err)
	}
	return nil
}

// FindBySubmission returns the attempt stored under an idempotency key. Absence surfaces as sql.ErrNoRows.
func (r *QuizAttemptRepository) FindBySubmission(ctx context.Context, studentID, quizID, clientSubmissionID string) (*models.QuizAttempt, error) {
	var row attemptRow
	query := `SELECT ` + quizAttemptColumns + ` FROM quiz_attempts WHERE student_id = $1 AND quiz_id = $2 AND client_submission_id = $3`
	if err := r.db.GetContext(ctx, &row, query, studentID, quizID, clientSubmissionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get quiz attempt: %w", err)
	}
	attempt, err := row.decode()
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// CountByStudent returns how many attempts the student has recorded for the quiz.
func (r *QuizAttemptRepository) CountByStudent(ctx context.Context, studentID, quizID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM quiz_attempts WHERE student_id = $1 AND quiz_id = $2`, studentID, quizID); err != nil {
		return 0, fmt.Errorf("count quiz attempts: %w", err)
	}
	return count, nil
}

// ListByStudent returns the student's attempts for a quiz, oldest first.
func (r *QuizAttemptRepository) ListByStudent(ctx context.Context, studentID, quizID string) ([]models.QuizAttempt, error) {
	query := `SELECT ` + quizAttemptColumns + ` FROM quiz_attempts WHERE student_id = $1 AND quiz_id = $2 ORDER BY submitted_at ASC, id ASC`
	return r.list(ctx, query, studentID, quizID)
}

// ListByQuiz returns every attempt for a quiz, ordered by student then submission time.
func (r *QuizAttemptRepository) ListByQuiz(ctx context.Context, quizID string) ([]models.QuizAttempt, error) {
	query := `SELECT ` + quizAttemptColumns + ` FROM quiz_attempts WHERE quiz_id = $1 ORDER BY student_name ASC, student_id ASC, submitted_at ASC`
	return r.list(ctx, query, quizID)
}

func (r *QuizAttemptRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.QuizAttempt, error) {
	var rows []attemptRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list quiz attempts: %w", err)
	}
	attempts := make([]models.QuizAttempt, 0, len(rows))
	for _, row := range rows {
		attempt, err := row.decode()
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	return attempts, nil
}
