package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/lms-progress-api/internal/models"
)

//go:embed schema/course.schema.json
var courseSchemaJSON string

const defaultPassingScore = 70

var courseSchema = mustSchema(courseSchemaJSON)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile course schema: %v", err))
	}
	return schema
}

type courseDoc struct {
	ID      string      `yaml:"id"`
	Title   string      `yaml:"title"`
	Lessons []lessonDoc `yaml:"lessons"`
	Quizzes []quizDoc   `yaml:"quizzes"`
}

type lessonDoc struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Order *int   `yaml:"order"`
}

type quizDoc struct {
	ID                  string        `yaml:"id"`
	Title               string        `yaml:"title"`
	LessonID            string        `yaml:"lesson_id"`
	TimeLimitMinutes    int           `yaml:"time_limit_minutes"`
	PassingScorePercent *int          `yaml:"passing_score_percent"`
	IsActive            *bool         `yaml:"is_active"`
	Questions           []questionDoc `yaml:"questions"`
}

type questionDoc struct {
	ID            string   `yaml:"id"`
	Type          string   `yaml:"type"`
	Text          string   `yaml:"text"`
	Points        *int     `yaml:"points"`
	Options       []string `yaml:"options"`
	CorrectAnswer string   `yaml:"correct_answer"`
}

// Load reads every course document (*.yaml, *.yml) under dir. Any invalid document fails the load.
func Load(dir string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan catalog dir: %w", err)
	}
	sort.Strings(paths)

	var courses []models.Course
	var quizzes []models.Quiz
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		course, courseQuizzes, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		courses = append(courses, course)
		quizzes = append(quizzes, courseQuizzes...)
	}

	cat, err := New(courses, quizzes)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	logger.Info("catalog loaded", zap.String("dir", dir), zap.Int("courses", len(courses)), zap.Int("quizzes", len(quizzes)))
	return cat, nil
}

// Parse decodes and validates one course document.
func Parse(data []byte) (models.Course, []models.Quiz, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return models.Course{}, nil, fmt.Errorf("decode yaml: %w", err)
	}
	result, err := courseSchema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return models.Course{}, nil, fmt.Errorf("validate schema: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return models.Course{}, nil, fmt.Errorf("schema: %s", strings.Join(msgs, "; "))
	}

	var doc courseDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return models.Course{}, nil, fmt.Errorf("decode course: %w", err)
	}
	return doc.build()
}

func (d courseDoc) build() (models.Course, []models.Quiz, error) {
	var problems []string
	course := models.Course{ID: d.ID, Title: d.Title}

	lessons := make(map[string]struct{}, len(d.Lessons))
	for i, l := range d.Lessons {
		if _, dup := lessons[l.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate lesson id %q", l.ID))
			continue
		}
		lessons[l.ID] = struct{}{}
		order := i
		if l.Order != nil {
			order = *l.Order
		}
		course.Lessons = append(course.Lessons, models.Lesson{ID: l.ID, Title: l.Title, Order: order})
	}

	quizzes := make([]models.Quiz, 0, len(d.Quizzes))
	quizIDs := make(map[string]struct{}, len(d.Quizzes))
	for _, q := range d.Quizzes {
		if _, dup := quizIDs[q.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate quiz id %q", q.ID))
			continue
		}
		quizIDs[q.ID] = struct{}{}
		if q.LessonID != "" {
			if _, ok := lessons[q.LessonID]; !ok {
				problems = append(problems, fmt.Sprintf("quiz %q: lesson %q is not part of course", q.ID, q.LessonID))
			}
		}
		quiz, quizProblems := q.build(d.ID)
		problems = append(problems, quizProblems...)
		quizzes = append(quizzes, quiz)
	}

	if len(problems) > 0 {
		return models.Course{}, nil, fmt.Errorf("invalid course %q: %s", d.ID, strings.Join(problems, "; "))
	}
	return course, quizzes, nil
}

func (q quizDoc) build(courseID string) (models.Quiz, []string) {
	quiz := models.Quiz{
		ID:                  q.ID,
		CourseID:            courseID,
		LessonID:            q.LessonID,
		Title:               q.Title,
		TimeLimitMinutes:    q.TimeLimitMinutes,
		PassingScorePercent: defaultPassingScore,
		IsActive:            true,
	}
	if q.PassingScorePercent != nil {
		quiz.PassingScorePercent = *q.PassingScorePercent
	}
	if q.IsActive != nil {
		quiz.IsActive = *q.IsActive
	}

	var problems []string
	seen := make(map[string]struct{}, len(q.Questions))
	for _, qd := range q.Questions {
		if _, dup := seen[qd.ID]; dup {
			problems = append(problems, fmt.Sprintf("quiz %q: duplicate question id %q", q.ID, qd.ID))
			continue
		}
		seen[qd.ID] = struct{}{}

		question := models.Question{
			ID:            qd.ID,
			Type:          models.QuestionType(qd.Type),
			Text:          qd.Text,
			Points:        1,
			Options:       qd.Options,
			CorrectAnswer: qd.CorrectAnswer,
		}
		if qd.Points != nil {
			question.Points = *qd.Points
		}
		if question.Type == models.QuestionTrueFalse {
			question.CorrectAnswer = strings.ToLower(strings.TrimSpace(question.CorrectAnswer))
		}
		if err := ValidateQuestion(question); err != nil {
			problems = append(problems, fmt.Sprintf("quiz %q question %q: %v", q.ID, qd.ID, err))
			continue
		}
		quiz.Questions = append(quiz.Questions, question)
	}
	return quiz, problems
}

// ValidateQuestion checks the per-type invariants of a question definition.
func ValidateQuestion(q models.Question) error {
	if q.Points < 1 {
		return fmt.Errorf("points must be at least 1")
	}
	switch q.Type {
	case models.QuestionMultipleChoice:
		if len(q.Options) < 2 {
			return fmt.Errorf("multiple-choice needs at least two options")
		}
		found := false
		for _, opt := range q.Options {
			if strings.TrimSpace(opt) == "" {
				return fmt.Errorf("options must be non-empty")
			}
			if opt == q.CorrectAnswer {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("correct answer %q is not among the options", q.CorrectAnswer)
		}
	case models.QuestionTrueFalse:
		if q.CorrectAnswer != "true" && q.CorrectAnswer != "false" {
			return fmt.Errorf("true-false answer must be \"true\" or \"false\"")
		}
	case models.QuestionShortAnswer:
		if strings.TrimSpace(q.CorrectAnswer) == "" {
			return fmt.Errorf("short-answer needs a correct answer")
		}
	default:
		return fmt.Errorf("unknown question type %q", q.Type)
	}
	return nil
}
