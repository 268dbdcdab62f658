package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/internal/models"
	"github.com/noah-isme/lms-progress-api/internal/repository"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
	"github.com/noah-isme/lms-progress-api/pkg/export"
)

type quizSessionRepository interface {
	Create(ctx context.Context, session *models.QuizSession) error
	FindByID(ctx context.Context, id string) (*models.QuizSession, error)
	FindInProgress(ctx context.Context, studentID, quizID string) (*models.QuizSession, error)
	MarkExpired(ctx context.Context, id string) error
	ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type quizAttemptRepository interface {
	Record(ctx context.Context, attempt *models.QuizAttempt) error
	FindBySubmission(ctx context.Context, studentID, quizID, clientSubmissionID string) (*models.QuizAttempt, error)
	CountByStudent(ctx context.Context, studentID, quizID string) (int, error)
	ListByStudent(ctx context.Context, studentID, quizID string) ([]models.QuizAttempt, error)
	ListByQuiz(ctx context.Context, quizID string) ([]models.QuizAttempt, error)
}

type quizDefinitions interface {
	Definition(ctx context.Context, quizID string) (models.Quiz, error)
}

// QuizAttemptConfig tunes submission rules.
type QuizAttemptConfig struct {
	SubmitGrace time.Duration
	MaxAttempts int
}

// QuizAttemptService owns quiz sessions and graded attempts.
type QuizAttemptService struct {
	quizzes   quizDefinitions
	sessions  quizSessionRepository
	attempts  quizAttemptRepository
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       QuizAttemptConfig
	now       func() time.Time
}

// NewQuizAttemptService constructs QuizAttemptService.
func NewQuizAttemptService(quizzes quizDefinitions, sessions quizSessionRepository, attempts quizAttemptRepository, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg QuizAttemptConfig) *QuizAttemptService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SubmitGrace < 0 {
		cfg.SubmitGrace = 0
	}
	return &QuizAttemptService{
		quizzes:   quizzes,
		sessions:  sessions,
		attempts:  attempts,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StartSession opens a server-timed session for the quiz, resuming the caller's current one
// while it can still be submitted.
func (s *QuizAttemptService) StartSession(ctx context.Context, principal models.Principal, quizID string) (*dto.StartSessionResponse, error) {
	quiz, err := s.quizzes.Definition(ctx, quizID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	existing, err := s.sessions.FindInProgress(ctx, principal.StudentID, quizID)
	switch {
	case err == nil:
		if deadline, limited := existing.Deadline(s.cfg.SubmitGrace); !limited || !now.After(deadline) {
			return &dto.StartSessionResponse{Session: *existing, Quiz: dto.NewQuizView(quiz), ServerTime: now, Resumed: true}, nil
		}
		if err := s.sessions.MarkExpired(ctx, existing.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to expire quiz session")
		}
		s.metrics.QuizSessionsExpired(1)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load quiz session")
	}

	if err := s.checkAttemptLimit(ctx, principal.StudentID, quizID); err != nil {
		return nil, err
	}

	session := &models.QuizSession{
		StudentID: principal.StudentID,
		QuizID:    quizID,
		Status:    models.QuizSessionInProgress,
		StartedAt: now,
	}
	if limit := quiz.TimeLimit(); limit > 0 {
		expires := now.Add(limit)
		session.ExpiresAt = &expires
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.logger.Error("create quiz session failed", zap.String("quiz_id", quizID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start quiz session")
	}
	return &dto.StartSessionResponse{Session: *session, Quiz: dto.NewQuizView(quiz), ServerTime: now}, nil
}

// Session returns one of the caller's sessions.
func (s *QuizAttemptService) Session(ctx context.Context, principal models.Principal, sessionID string) (*models.QuizSession, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrSessionNotFound, "")
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSessionNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load quiz session")
	}
	if session.StudentID != principal.StudentID {
		return nil, appErrors.Clone(appErrors.ErrSessionNotFound, "")
	}
	return session, nil
}

// Submit grades and stores an attempt. Resubmitting with the same client submission id
// returns the stored attempt instead of grading again.
func (s *QuizAttemptService) Submit(ctx context.Context, principal models.Principal, quizID string, req dto.SubmitAttemptRequest) (*dto.AttemptResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attempt payload")
	}
	quiz, err := s.quizzes.Definition(ctx, quizID)
	if err != nil {
		return nil, err
	}

	if req.ClientSubmissionID != "" {
		replay, ok, err := s.findReplay(ctx, principal.StudentID, quizID, req.ClientSubmissionID)
		if err != nil {
			return nil, err
		}
		if ok {
			return replay, nil
		}
	}

	answers, err := normalizeAnswers(quiz, req.Answers)
	if err != nil {
		return nil, err
	}
	if err := s.checkAttemptLimit(ctx, principal.StudentID, quizID); err != nil {
		return nil, err
	}

	now := s.now()
	var sessionID *string
	switch {
	case req.SessionID != "":
		session, err := s.Session(ctx, principal, req.SessionID)
		if err != nil {
			return nil, err
		}
		if session.QuizID != quizID {
			return nil, appErrors.Clone(appErrors.ErrSessionNotFound, "session belongs to another quiz")
		}
		if err := s.checkOpen(ctx, session, now); err != nil {
			return nil, err
		}
		sessionID = &session.ID
	case quiz.TimeLimit() > 0:
		return nil, appErrors.Clone(appErrors.ErrValidation, "session_id is required for timed quizzes")
	}

	submissionID := req.ClientSubmissionID
	if submissionID == "" {
		if sessionID != nil {
			submissionID = "session:" + *sessionID
		} else {
			submissionID = uuid.NewString()
		}
	}

	attempt := Grade(quiz, answers, now)
	attempt.StudentID = principal.StudentID
	attempt.StudentName = principal.StudentName
	attempt.SessionID = sessionID
	attempt.ClientSubmissionID = submissionID

	if err := s.attempts.Record(ctx, &attempt); err != nil {
		return s.recordFailure(ctx, principal.StudentID, quizID, submissionID, sessionID, err)
	}

	s.metrics.QuizAttemptGraded(attempt.Passed)
	s.logger.Info("quiz attempt graded",
		zap.String("student_id", principal.StudentID),
		zap.String("quiz_id", quizID),
		zap.Int("percent", attempt.Percent),
		zap.Bool("passed", attempt.Passed),
	)
	result := dto.NewAttemptResult(attempt, false)
	return &result, nil
}

// checkAttemptLimit enforces QuizAttemptConfig.MaxAttempts. Zero means unlimited.
func (s *QuizAttemptService) checkAttemptLimit(ctx context.Context, studentID, quizID string) error {
	if s.cfg.MaxAttempts <= 0 {
		return nil
	}
	count, err := s.attempts.CountByStudent(ctx, studentID, quizID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attempts")
	}
	if count >= s.cfg.MaxAttempts {
		return appErrors.Clone(appErrors.ErrAttemptLimit, fmt.Sprintf("at most %d attempts allowed", s.cfg.MaxAttempts))
	}
	return nil
}

// checkOpen rejects sessions that are closed or past their deadline.
func (s *QuizAttemptService) checkOpen(ctx context.Context, session *models.QuizSession, now time.Time) error {
	switch session.Status {
	case models.QuizSessionSubmitted:
		return appErrors.Clone(appErrors.ErrAlreadySubmitted, "")
	case models.QuizSessionExpired:
		return appErrors.Clone(appErrors.ErrTimeLimitExceeded, "")
	}
	if deadline, limited := session.Deadline(s.cfg.SubmitGrace); limited && now.After(deadline) {
		if err := s.sessions.MarkExpired(ctx, session.ID); err != nil {
			s.logger.Warn("expire quiz session failed", zap.String("session_id", session.ID), zap.Error(err))
		} else {
			s.metrics.QuizSessionsExpired(1)
		}
		return appErrors.Clone(appErrors.ErrTimeLimitExceeded, "")
	}
	return nil
}

// recordFailure resolves a rejected insert: a concurrent twin of this submission yields its
// stored attempt, anything else a typed error.
func (s *QuizAttemptService) recordFailure(ctx context.Context, studentID, quizID, submissionID string, sessionID *string, err error) (*dto.AttemptResult, error) {
	if !errors.Is(err, repository.ErrSessionClosed) && !errors.Is(err, repository.ErrDuplicateSubmission) {
		s.logger.Error("record quiz attempt failed", zap.String("quiz_id", quizID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attempt")
	}
	replay, ok, findErr := s.findReplay(ctx, studentID, quizID, submissionID)
	if findErr != nil {
		return nil, findErr
	}
	if ok {
		return replay, nil
	}
	if errors.Is(err, repository.ErrSessionClosed) && sessionID != nil {
		if session, findErr := s.sessions.FindByID(ctx, *sessionID); findErr == nil && session.Status == models.QuizSessionExpired {
			return nil, appErrors.Clone(appErrors.ErrTimeLimitExceeded, "")
		}
	}
	return nil, appErrors.Clone(appErrors.ErrAlreadySubmitted, "")
}

func (s *QuizAttemptService) findReplay(ctx context.Context, studentID, quizID, submissionID string) (*dto.AttemptResult, bool, error) {
	existing, err := s.attempts.FindBySubmission(ctx, studentID, quizID, submissionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attempt")
	}
	result := dto.NewAttemptResult(*existing, true)
	return &result, true, nil
}

// ListMine returns the caller's attempts for a quiz and the one that counts.
func (s *QuizAttemptService) ListMine(ctx context.Context, principal models.Principal, quizID string) (*dto.AttemptHistory, error) {
	if _, err := s.quizzes.Definition(ctx, quizID); err != nil {
		return nil, err
	}
	attempts, err := s.attempts.ListByStudent(ctx, principal.StudentID, quizID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attempts")
	}
	if attempts == nil {
		attempts = []models.QuizAttempt{}
	}
	return &dto.AttemptHistory{Attempts: attempts, Best: models.BestAttempt(attempts)}, nil
}

// Gradebook formats for ExportGradebook.
const (
	GradebookXLSX = "xlsx"
	GradebookCSV  = "csv"
)

// ExportGradebook renders every attempt of a quiz as a spreadsheet. It returns the payload,
// a file name and the content type.
func (s *QuizAttemptService) ExportGradebook(ctx context.Context, quizID, format string) ([]byte, string, string, error) {
	quiz, err := s.quizzes.Definition(ctx, quizID)
	if err != nil {
		return nil, "", "", err
	}
	attempts, err := s.attempts.ListByQuiz(ctx, quizID)
	if err != nil {
		return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attempts")
	}

	table := export.Table{
		Sheet:   "Gradebook",
		Headers: []string{"Student ID", "Student Name", "Attempt ID", "Score", "Total", "Percent", "Passed", "Submitted At"},
		Rows:    make([][]interface{}, 0, len(attempts)),
	}
	for _, a := range attempts {
		table.Rows = append(table.Rows, []interface{}{a.StudentID, a.StudentName, a.ID, a.Score, a.Total, a.Percent, a.Passed, a.SubmittedAt})
	}

	base := "gradebook-" + quiz.ID
	switch strings.ToLower(format) {
	case "", GradebookXLSX:
		data, err := table.XLSX()
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build gradebook")
		}
		return data, base + ".xlsx", export.ContentTypeXLSX, nil
	case GradebookCSV:
		data, err := table.CSV()
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build gradebook")
		}
		return data, base + ".csv", export.ContentTypeCSV, nil
	default:
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, "format must be xlsx or csv")
	}
}

// SweepExpired marks in-progress sessions past their deadline and grace as expired.
func (s *QuizAttemptService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.ExpireBefore(ctx, s.now().Add(-s.cfg.SubmitGrace))
	if err != nil {
		return 0, err
	}
	s.metrics.QuizSessionsExpired(n)
	if n > 0 {
		s.logger.Info("expired stale quiz sessions", zap.Int64("count", n))
	}
	return n, nil
}

func normalizeAnswers(quiz models.Quiz, inputs []dto.AnswerInput) (map[string]string, error) {
	answers := make(map[string]string, len(inputs))
	for _, in := range inputs {
		q, ok := quiz.Question(in.QuestionID)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown question %q", in.QuestionID))
		}
		if _, dup := answers[in.QuestionID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("question %q answered twice", in.QuestionID))
		}
		value := in.Value
		switch q.Type {
		case models.QuestionMultipleChoice:
			if !containsString(q.Options, value) {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("answer for %q is not one of the options", q.ID))
			}
		case models.QuestionTrueFalse:
			value = strings.ToLower(strings.TrimSpace(value))
			if value != "true" && value != "false" {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("answer for %q must be true or false", q.ID))
			}
		}
		answers[in.QuestionID] = value
	}
	return answers, nil
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
