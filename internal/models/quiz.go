package models

import "time"

// QuestionType tags the answer format of a question.
type QuestionType string

// Supported question types.
const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionTrueFalse      QuestionType = "true-false"
	QuestionShortAnswer    QuestionType = "short-answer"
)

// Valid reports whether t is one of the supported question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionShortAnswer:
		return true
	}
	return false
}

// Question is one item of a quiz definition, including its correct answer.
type Question struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	Text          string       `json:"text"`
	Points        int          `json:"points"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer"`
}

// Quiz is the authoritative quiz definition bound to a course.
type Quiz struct {
	ID                  string     `json:"id"`
	CourseID            string     `json:"course_id"`
	LessonID            string     `json:"lesson_id,omitempty"`
	Title               string     `json:"title"`
	Questions           []Question `json:"questions"`
	TimeLimitMinutes    int        `json:"time_limit_minutes"`
	PassingScorePercent int        `json:"passing_score_percent"`
	IsActive            bool       `json:"is_active"`
}

// TimeLimit returns the allowed duration, zero meaning unlimited.
func (q Quiz) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitMinutes) * time.Minute
}

// Question looks a question up by id.
func (q Quiz) Question(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// QuizSessionStatus is the persisted state of a server-side quiz session.
type QuizSessionStatus string

// Quiz session statuses.
const (
	QuizSessionInProgress QuizSessionStatus = "IN_PROGRESS"
	QuizSessionSubmitted  QuizSessionStatus = "SUBMITTED"
	QuizSessionExpired    QuizSessionStatus = "EXPIRED"
)

// QuizSession anchors a timed attempt: the server owns started_at and expires_at.
type QuizSession struct {
	ID          string            `db:"id" json:"id"`
	StudentID   string            `db:"student_id" json:"student_id"`
	QuizID      string            `db:"quiz_id" json:"quiz_id"`
	Status      QuizSessionStatus `db:"status" json:"status"`
	StartedAt   time.Time         `db:"started_at" json:"started_at"`
	ExpiresAt   *time.Time        `db:"expires_at" json:"expires_at,omitempty"`
	SubmittedAt *time.Time        `db:"submitted_at" json:"submitted_at,omitempty"`
}

// Deadline returns the latest accepted submission time given grace, and false when unlimited.
func (s QuizSession) Deadline(grace time.Duration) (time.Time, bool) {
	if s.ExpiresAt == nil {
		return time.Time{}, false
	}
	return s.ExpiresAt.Add(grace), true
}

// QuestionResult is the graded outcome of one question.
type QuestionResult struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
	Answered   bool   `json:"answered"`
	Correct    bool   `json:"correct"`
	Points     int    `json:"points"`
	Awarded    int    `json:"awarded"`
}

// QuizAttempt is an immutable graded submission.
type QuizAttempt struct {
	ID                 string            `db:"id" json:"id"`
	StudentID          string            `db:"student_id" json:"student_id"`
	StudentName        string            `db:"student_name" json:"student_name"`
	QuizID             string            `db:"quiz_id" json:"quiz_id"`
	SessionID          *string           `db:"session_id" json:"session_id,omitempty"`
	ClientSubmissionID string            `db:"client_submission_id" json:"client_submission_id"`
	Answers            map[string]string `db:"-" json:"answers"`
	Results            []QuestionResult  `db:"-" json:"results"`
	Score              int               `db:"score" json:"score"`
	Total              int               `db:"total" json:"total"`
	Percent            int               `db:"percent" json:"percent"`
	Passed             bool              `db:"passed" json:"passed"`
	SubmittedAt        time.Time         `db:"submitted_at" json:"submitted_at"`
}

// BestAttempt returns the attempt with the highest percent, the earliest one on ties.
func BestAttempt(attempts []QuizAttempt) *QuizAttempt {
	var best *QuizAttempt
	for i := range attempts {
		a := &attempts[i]
		if best == nil || a.Percent > best.Percent ||
			(a.Percent == best.Percent && a.SubmittedAt.Before(best.SubmittedAt)) {
			best = a
		}
	}
	return best
}
