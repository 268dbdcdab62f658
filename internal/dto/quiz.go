package dto

import (
	"time"

	"github.com/noah-isme/lms-progress-api/internal/models"
)

// QuizView is the client-facing quiz definition. It never carries correct answers.
type QuizView struct {
	ID                  string         `json:"id"`
	CourseID            string         `json:"course_id"`
	LessonID            string         `json:"lesson_id,omitempty"`
	Title               string         `json:"title"`
	TimeLimitMinutes    int            `json:"time_limit_minutes"`
	PassingScorePercent int            `json:"passing_score_percent"`
	TotalPoints         int            `json:"total_points"`
	Questions           []QuestionView `json:"questions"`
}

// QuestionView is a question stripped of its correct answer.
type QuestionView struct {
	ID      string              `json:"id"`
	Type    models.QuestionType `json:"type"`
	Text    string              `json:"text"`
	Points  int                 `json:"points"`
	Options []string            `json:"options,omitempty"`
}

// NewQuizView projects a quiz definition into its client view.
func NewQuizView(q models.Quiz) QuizView {
	view := QuizView{
		ID:                  q.ID,
		CourseID:            q.CourseID,
		LessonID:            q.LessonID,
		Title:               q.Title,
		TimeLimitMinutes:    q.TimeLimitMinutes,
		PassingScorePercent: q.PassingScorePercent,
		Questions:           make([]QuestionView, len(q.Questions)),
	}
	for i, question := range q.Questions {
		view.TotalPoints += question.Points
		view.Questions[i] = QuestionView{
			ID:      question.ID,
			Type:    question.Type,
			Text:    question.Text,
			Points:  question.Points,
			Options: append([]string(nil), question.Options...),
		}
	}
	return view
}

// StartSessionResponse describes a started or resumed quiz session.
type StartSessionResponse struct {
	Session    models.QuizSession `json:"session"`
	Quiz       QuizView           `json:"quiz"`
	ServerTime time.Time          `json:"server_time"`
	Resumed    bool               `json:"resumed"`
}

// AnswerInput is one submitted answer.
type AnswerInput struct {
	QuestionID string `json:"question_id" validate:"required"`
	Value      string `json:"value"`
}

// SubmitAttemptRequest defines payload for submitting a quiz attempt.
type SubmitAttemptRequest struct {
	SessionID          string        `json:"session_id"`
	ClientSubmissionID string        `json:"client_submission_id" validate:"omitempty,max=128"`
	Answers            []AnswerInput `json:"answers" validate:"dive"`
}

// AttemptResult is the graded outcome returned to the student.
type AttemptResult struct {
	AttemptID   string                  `json:"attempt_id"`
	QuizID      string                  `json:"quiz_id"`
	Score       int                     `json:"score"`
	Total       int                     `json:"total"`
	Percent     int                     `json:"percent"`
	Passed      bool                    `json:"passed"`
	SubmittedAt time.Time               `json:"submitted_at"`
	Results     []models.QuestionResult `json:"results"`
	Replayed    bool                    `json:"replayed"`
}

// NewAttemptResult projects a stored attempt.
func NewAttemptResult(a models.QuizAttempt, replayed bool) AttemptResult {
	return AttemptResult{
		AttemptID:   a.ID,
		QuizID:      a.QuizID,
		Score:       a.Score,
		Total:       a.Total,
		Percent:     a.Percent,
		Passed:      a.Passed,
		SubmittedAt: a.SubmittedAt,
		Results:     a.Results,
		Replayed:    replayed,
	}
}

// AttemptHistory lists a student's attempts for a quiz and the one that counts.
type AttemptHistory struct {
	Attempts []models.QuizAttempt `json:"attempts"`
	Best     *models.QuizAttempt  `json:"best,omitempty"`
}

// LiveClientMessage is sent by the browser over the live session socket.
type LiveClientMessage struct {
	Type       string `json:"type"`
	QuestionID string `json:"question_id,omitempty"`
	Value      string `json:"value,omitempty"`
}

// Live client message types.
const (
	LiveMessageAnswer = "answer"
	LiveMessageSubmit = "submit"
)

// LiveServerEvent is pushed to the browser over the live session socket.
type LiveServerEvent struct {
	Type             string         `json:"type"`
	State            string         `json:"state,omitempty"`
	RemainingSeconds *int           `json:"remaining_seconds,omitempty"`
	Result           *AttemptResult `json:"result,omitempty"`
	ErrorCode        string         `json:"error_code,omitempty"`
	Message          string         `json:"message,omitempty"`
}

// Live server event types.
const (
	LiveEventState     = "state"
	LiveEventTick      = "tick"
	LiveEventSubmitted = "submitted"
	LiveEventError     = "error"
)
