package service

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/noah-isme/lms-progress-api/internal/dto"
	"github.com/noah-isme/lms-progress-api/internal/models"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
)

// LiveState is the observable state of a live quiz session.
type LiveState string

// Live session states.
const (
	LiveNotStarted LiveState = "NOT_STARTED"
	LiveInProgress LiveState = "IN_PROGRESS"
	LiveSubmitted  LiveState = "SUBMITTED"
)

// SubmitFunc forwards the recorded answers for grading and persistence.
type SubmitFunc func(ctx context.Context, answers map[string]string) (*dto.AttemptResult, error)

// LiveSession drives one student's quiz interaction: answer capture, the countdown and the
// final submission. The countdown is derived from the server deadline, so ticks only decide
// when to look at the clock. It is safe for concurrent use; the submit callback runs without
// holding the lock.
type LiveSession struct {
	mu         sync.Mutex
	state      LiveState
	answers    map[string]string
	deadline   time.Time
	limited    bool
	autoFired  bool
	submitting bool
	result     *dto.AttemptResult

	submit  SubmitFunc
	metrics *MetricsService
	now     func() time.Time
}

// NewLiveSession constructs a session in the NotStarted state.
func NewLiveSession(submit SubmitFunc, metrics *MetricsService) *LiveSession {
	return &LiveSession{
		state:   LiveNotStarted,
		answers: make(map[string]string),
		submit:  submit,
		metrics: metrics,
		now:     time.Now,
	}
}

// Start moves the session to InProgress. expiresAt is the server deadline; when nil the
// quiz time limit is armed from now, and a zero limit means no countdown.
func (l *LiveSession) Start(quiz models.Quiz, expiresAt *time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LiveNotStarted {
		return l.stateError()
	}
	switch {
	case expiresAt != nil:
		l.deadline = *expiresAt
		l.limited = true
	case quiz.TimeLimit() > 0:
		l.deadline = l.now().Add(quiz.TimeLimit())
		l.limited = true
	}
	l.state = LiveInProgress
	return nil
}

// RecordAnswer stores the latest answer for a question.
func (l *LiveSession) RecordAnswer(questionID, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LiveInProgress || l.submitting {
		return l.stateError()
	}
	l.answers[questionID] = value
	return nil
}

// Tick re-reads the clock. When the deadline has passed it submits once; later ticks never
// submit again. It returns the remaining whole seconds and the auto-submitted result, if any.
func (l *LiveSession) Tick(ctx context.Context) (int, *dto.AttemptResult, error) {
	l.mu.Lock()
	if l.state != LiveInProgress || !l.limited {
		l.mu.Unlock()
		return 0, nil, nil
	}
	remaining := l.remainingLocked()
	if remaining > 0 || l.autoFired || l.submitting {
		l.mu.Unlock()
		return remaining, nil, nil
	}
	l.autoFired = true
	l.mu.Unlock()

	result, err := l.Submit(ctx)
	if err != nil {
		return 0, nil, err
	}
	l.metrics.QuizAutoSubmitted()
	return 0, result, nil
}

// Submit grades the recorded answers. A second call after success fails with AlreadySubmitted;
// a failed submission leaves the session in progress.
func (l *LiveSession) Submit(ctx context.Context) (*dto.AttemptResult, error) {
	l.mu.Lock()
	if l.state != LiveInProgress || l.submitting {
		defer l.mu.Unlock()
		return nil, l.stateError()
	}
	l.submitting = true
	answers := make(map[string]string, len(l.answers))
	for k, v := range l.answers {
		answers[k] = v
	}
	l.mu.Unlock()

	result, err := l.submit(ctx, answers)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitting = false
	if err != nil {
		return nil, err
	}
	l.state = LiveSubmitted
	l.result = result
	return result, nil
}

// State returns the current state.
func (l *LiveSession) State() LiveState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Remaining returns the whole seconds left and whether a countdown is armed.
func (l *LiveSession) Remaining() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.limited {
		return 0, false
	}
	return l.remainingLocked(), true
}

// Result returns the graded attempt once submitted.
func (l *LiveSession) Result() *dto.AttemptResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result
}

func (l *LiveSession) remainingLocked() int {
	left := l.deadline.Sub(l.now()).Seconds()
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left))
}

func (l *LiveSession) stateError() error {
	switch {
	case l.state == LiveSubmitted || l.submitting:
		return appErrors.Clone(appErrors.ErrAlreadySubmitted, "")
	case l.state == LiveNotStarted:
		return appErrors.Clone(appErrors.ErrValidation, "quiz session not started")
	default:
		return appErrors.Clone(appErrors.ErrValidation, "quiz session already started")
	}
}
