package course

import (
	"strings"
	"time"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
)

// Course statuses
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// Course levels
const (
	LevelBeginner     = "beginner"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

// Question types
const (
	QuestionMultipleChoice = "multiple_choice"
	QuestionTrueFalse      = "true_false"
	QuestionShortAnswer    = "short_answer"
	QuestionFillBlank      = "fill_blank"
)

type Course struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Level       string    `json:"level"`
	Status      string    `json:"status"`
	TeacherID   string    `json:"teacher_id"`
	ForeReward  int       `json:"fore_reward"` // tokens granted on course completion
	CreatedAt   time.Time `json:"created_at"`  // UTC
	UpdatedAt   time.Time `json:"updated_at"`  // UTC
}

func (c *Course) Published() bool { return c.Status == StatusPublished }

type Lesson struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"course_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	VideoURL    string    `json:"video_url,omitempty"`
	Position    int       `json:"position"` // 1-based order within the course
	DurationMin int       `json:"duration_min"`
	ForeReward  int       `json:"fore_reward"` // tokens granted on lesson completion
	CreatedAt   time.Time `json:"created_at"`  // UTC
	UpdatedAt   time.Time `json:"updated_at"`  // UTC
}

type Quiz struct {
	ID           string     `json:"id"`
	LessonID     string     `json:"lesson_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	PassingScore int        `json:"passing_score"` // percentage, 0-100
	MaxAttempts  int        `json:"max_attempts"`  // 0 means unlimited
	TimeLimitMin int        `json:"time_limit_min,omitempty"`
	ForeReward   int        `json:"fore_reward"` // tokens granted on first pass
	Questions    []Question `json:"questions,omitempty"`
	CreatedAt    time.Time  `json:"created_at"` // UTC
	UpdatedAt    time.Time  `json:"updated_at"` // UTC
}

type Question struct {
	ID            string   `json:"id"`
	QuizID        string   `json:"quiz_id"`
	Text          string   `json:"text"`
	Type          string   `json:"type"`
	Options       []string `json:"options,omitempty"` // multiple_choice only
	CorrectAnswer string   `json:"-"`                 // comma-separated accepted answers
	Points        int      `json:"points"`
	Position      int      `json:"position"`
}

// CheckAnswer reports whether a submitted answer is correct.
// Matching is case-insensitive and ignores surrounding whitespace.
// CorrectAnswer may hold several accepted answers separated by commas;
// fill_blank questions accept any answer containing an accepted keyword.
func (q *Question) CheckAnswer(answer string) bool {
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "" {
		return false
	}

	switch q.Type {
	case QuestionMultipleChoice, QuestionTrueFalse:
		return answer == strings.ToLower(strings.TrimSpace(q.CorrectAnswer))
	case QuestionShortAnswer:
		for _, accepted := range strings.Split(q.CorrectAnswer, ",") {
			if answer == strings.ToLower(strings.TrimSpace(accepted)) {
				return true
			}
		}
	case QuestionFillBlank:
		for _, accepted := range strings.Split(q.CorrectAnswer, ",") {
			if keyword := strings.ToLower(strings.TrimSpace(accepted)); keyword != "" && strings.Contains(answer, keyword) {
				return true
			}
		}
	}
	return false
}

type Enrollment struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CourseID    string    `json:"course_id"`
	EnrolledAt  time.Time `json:"enrolled_at"` // UTC
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

func (e *Enrollment) Completed() bool { return !e.CompletedAt.IsZero() }

type LessonProgress struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	LessonID    string    `json:"lesson_id"`
	CourseID    string    `json:"course_id"`
	CompletedAt time.Time `json:"completed_at"` // UTC
}

type QuizAttempt struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	QuizID      string            `json:"quiz_id"`
	Number      int               `json:"number"` // 1-based per (user, quiz)
	Answers     map[string]string `json:"answers"`
	Score       int               `json:"score"` // percentage, 0-100
	Passed      bool              `json:"passed"`
	CompletedAt time.Time         `json:"completed_at"` // UTC
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Level       string `json:"level" validate:"required,oneof=beginner intermediate advanced"`
	Status      string `json:"status" validate:"omitempty,oneof=draft published archived"`
	TeacherID   string `json:"teacher_id" validate:"required"`
	ForeReward  int    `json:"fore_reward" validate:"gte=0"`
}

func (nc *NewCourse) Validate() error {
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	if nc.Status == "" {
		nc.Status = StatusDraft
	}
	return core.Validate.Struct(nc)
}

// UpdateCourse defines what information may be provided to modify an existing Course.
type UpdateCourse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Level       string `json:"level" validate:"omitempty,oneof=beginner intermediate advanced"`
	Status      string `json:"status" validate:"omitempty,oneof=draft published archived"`
	ForeReward  *int   `json:"fore_reward" validate:"omitempty,gte=0"`
}

func (uc *UpdateCourse) Validate(orig Course) error {
	title := core.CleanString(uc.Title)
	if title == "" {
		uc.Title = orig.Title
	} else {
		uc.Title = title
	}
	if uc.Description == "" {
		uc.Description = orig.Description
	}
	if uc.Level == "" {
		uc.Level = orig.Level
	}
	if uc.Status == "" {
		uc.Status = orig.Status
	}
	return core.Validate.Struct(uc)
}

// NewLesson contains information needed to create a new Lesson.
type NewLesson struct {
	CourseID    string `json:"course_id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Content     string `json:"content"`
	VideoURL    string `json:"video_url" validate:"omitempty,url"`
	Position    int    `json:"position" validate:"gte=0"`
	DurationMin int    `json:"duration_min" validate:"gte=0"`
	ForeReward  int    `json:"fore_reward" validate:"gte=0"`
}

func (nl *NewLesson) Validate() error {
	nl.Title = core.CleanString(nl.Title)
	return core.Validate.Struct(nl)
}

// NewQuiz contains information needed to create a new Quiz.
type NewQuiz struct {
	LessonID     string        `json:"lesson_id" validate:"required"`
	Title        string        `json:"title" validate:"required"`
	Description  string        `json:"description"`
	PassingScore int           `json:"passing_score" validate:"gte=0,lte=100"`
	MaxAttempts  int           `json:"max_attempts" validate:"gte=0"`
	TimeLimitMin int           `json:"time_limit_min" validate:"gte=0"`
	ForeReward   int           `json:"fore_reward" validate:"gte=0"`
	Questions    []NewQuestion `json:"questions" validate:"omitempty,dive"`
}

func (nq *NewQuiz) Validate() error {
	nq.Title = core.CleanString(nq.Title)
	if nq.PassingScore == 0 {
		nq.PassingScore = 70
	}
	return core.Validate.Struct(nq)
}

// NewQuestion contains information needed to create a new Question.
type NewQuestion struct {
	Text          string   `json:"text" validate:"required"`
	Type          string   `json:"type" validate:"required,oneof=multiple_choice true_false short_answer fill_blank"`
	Options       []string `json:"options" validate:"required_if=Type multiple_choice"`
	CorrectAnswer string   `json:"correct_answer" validate:"required"`
	Points        int      `json:"points" validate:"gte=0"`
	Position      int      `json:"position" validate:"gte=0"`
}

// QuizSubmission is a student's set of answers keyed by question ID.
type QuizSubmission struct {
	Answers map[string]string `json:"answers" validate:"required"`
}

func (qs QuizSubmission) Validate() error { return core.Validate.Struct(qs) }

// CourseProgress summarizes a student's standing in one course.
type CourseProgress struct {
	Course           Course    `json:"course"`
	EnrolledAt       time.Time `json:"enrolled_at"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
	LessonsTotal     int       `json:"lessons_total"`
	LessonsCompleted int       `json:"lessons_completed"`
	ProgressPercent  int       `json:"progress_percent"`
}

// QueryFilter narrows down course queries; fields combine with AND.
type QueryFilter struct {
	Search    string `query:"search"`
	Level     string `query:"level"`
	Status    string `query:"status"`
	TeacherID string `query:"teacher_id"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Level == "" && qf.Status == "" && qf.TeacherID == ""
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

