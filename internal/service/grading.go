package service

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/noah-isme/lms-progress-api/internal/models"
)

// answerMatcher reports whether a submitted answer satisfies a question.
type answerMatcher func(q models.Question, answer string) bool

var answerMatchers = map[models.QuestionType]answerMatcher{
	models.QuestionMultipleChoice: matchExact,
	models.QuestionTrueFalse:      matchExact,
	models.QuestionShortAnswer:    matchFolded,
}

func matchExact(q models.Question, answer string) bool {
	return answer == q.CorrectAnswer
}

func matchFolded(q models.Question, answer string) bool {
	return foldAnswer(answer) == foldAnswer(q.CorrectAnswer)
}

// foldAnswer trims, NFC-normalises and case-folds free text.
func foldAnswer(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

// Grade scores answers against the authoritative quiz definition. It is pure: the same
// inputs always yield the same attempt. Unanswered questions and questions of an unknown
// type score zero.
func Grade(quiz models.Quiz, answers map[string]string, submittedAt time.Time) models.QuizAttempt {
	attempt := models.QuizAttempt{
		QuizID:      quiz.ID,
		Answers:     make(map[string]string, len(answers)),
		Results:     make([]models.QuestionResult, 0, len(quiz.Questions)),
		SubmittedAt: submittedAt,
	}
	for id, value := range answers {
		attempt.Answers[id] = value
	}

	for _, q := range quiz.Questions {
		result := models.QuestionResult{QuestionID: q.ID, Points: q.Points}
		attempt.Total += q.Points

		answer, answered := answers[q.ID]
		result.Answer = answer
		result.Answered = answered
		if match, ok := answerMatchers[q.Type]; ok && answered && match(q, answer) {
			result.Correct = true
			result.Awarded = q.Points
			attempt.Score += q.Points
		}
		attempt.Results = append(attempt.Results, result)
	}

	attempt.Percent = roundPercent(attempt.Score, attempt.Total)
	attempt.Passed = attempt.Percent >= quiz.PassingScorePercent
	return attempt
}
