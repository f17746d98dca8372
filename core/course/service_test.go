package course_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/course"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/reward"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/storage/inmem"
)

func setup(t *testing.T) (course.ServiceInterface, reward.ServiceInterface) {
	t.Helper()
	rewardSvc := reward.NewService(inmem.NewRewardRepository(), nil)
	courseSvc := course.NewService(inmem.NewCourseRepository(), rewardSvc)
	rewardSvc.SetStatsSource(courseSvc)
	return courseSvc, rewardSvc
}

func createCourse(t *testing.T, svc course.ServiceInterface, tokens int, status string) course.Course {
	t.Helper()
	crs, err := svc.Create(context.Background(), course.NewCourse{
		Title:      "English Basics",
		Level:      course.LevelBeginner,
		Status:     status,
		TeacherID:  "tchr1",
		ForeReward: tokens,
	})
	require.NoError(t, err)
	return crs
}

func addLesson(t *testing.T, svc course.ServiceInterface, courseID string, tokens int) course.Lesson {
	t.Helper()
	les, err := svc.AddLesson(context.Background(), course.NewLesson{
		CourseID:   courseID,
		Title:      "Greetings",
		ForeReward: tokens,
	})
	require.NoError(t, err)
	return les
}

func balance(t *testing.T, svc reward.ServiceInterface, userID string) int {
	t.Helper()
	wlt, err := svc.Wallet(context.Background(), userID)
	require.NoError(t, err)
	return wlt.Balance
}

func TestQuestion_CheckAnswer(t *testing.T) {
	tests := []struct {
		name     string
		question course.Question
		answer   string
		want     bool
	}{
		{
			name:     "multiple choice exact",
			question: course.Question{Type: course.QuestionMultipleChoice, CorrectAnswer: "went"},
			answer:   "went",
			want:     true,
		},
		{
			name:     "multiple choice case insensitive",
			question: course.Question{Type: course.QuestionMultipleChoice, CorrectAnswer: "Went"},
			answer:   "  WENT ",
			want:     true,
		},
		{
			name:     "multiple choice wrong",
			question: course.Question{Type: course.QuestionMultipleChoice, CorrectAnswer: "went"},
			answer:   "goed",
			want:     false,
		},
		{
			name:     "true false",
			question: course.Question{Type: course.QuestionTrueFalse, CorrectAnswer: "true"},
			answer:   "True",
			want:     true,
		},
		{
			name:     "short answer accepts any listed variant",
			question: course.Question{Type: course.QuestionShortAnswer, CorrectAnswer: "do not, don't"},
			answer:   "don't",
			want:     true,
		},
		{
			name:     "short answer rejects partial match",
			question: course.Question{Type: course.QuestionShortAnswer, CorrectAnswer: "do not"},
			answer:   "do",
			want:     false,
		},
		{
			name:     "fill blank matches keyword within sentence",
			question: course.Question{Type: course.QuestionFillBlank, CorrectAnswer: "library"},
			answer:   "she went to the Library yesterday",
			want:     true,
		},
		{
			name:     "fill blank missing keyword",
			question: course.Question{Type: course.QuestionFillBlank, CorrectAnswer: "library"},
			answer:   "she went home",
			want:     false,
		},
		{
			name:     "empty answer never correct",
			question: course.Question{Type: course.QuestionTrueFalse, CorrectAnswer: "true"},
			answer:   "   ",
			want:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.question.CheckAnswer(tt.answer))
		})
	}
}

func Test_service_Enroll(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	draft := createCourse(t, svc, 0, course.StatusDraft)
	_, err := svc.Enroll(ctx, "usr1", draft.ID)
	assert.Equal(t, course.ErrEnrollmentClosed, err)

	crs := createCourse(t, svc, 0, course.StatusPublished)
	enr, err := svc.Enroll(ctx, "usr1", crs.ID)
	require.NoError(t, err)
	assert.Equal(t, crs.ID, enr.CourseID)
	assert.False(t, enr.Completed())

	_, err = svc.Enroll(ctx, "usr1", crs.ID)
	assert.Equal(t, course.ErrAlreadyEnrolled, err)

	_, err = svc.Enroll(ctx, "usr1", "nope")
	assert.Equal(t, course.ErrNotFound, err)
}

func Test_service_CompleteLesson(t *testing.T) {
	svc, rewardSvc := setup(t)
	ctx := context.Background()

	crs := createCourse(t, svc, 100, course.StatusPublished)
	les1 := addLesson(t, svc, crs.ID, 10)
	les2 := addLesson(t, svc, crs.ID, 10)

	// enrollment is required
	_, err := svc.CompleteLesson(ctx, "usr1", les1.ID)
	assert.Equal(t, course.ErrNotEnrolled, err)

	_, err = svc.Enroll(ctx, "usr1", crs.ID)
	require.NoError(t, err)

	prg, err := svc.CompleteLesson(ctx, "usr1", les1.ID)
	require.NoError(t, err)
	assert.Equal(t, les1.ID, prg.LessonID)
	assert.Equal(t, 10, balance(t, rewardSvc, "usr1"))

	// completing the same lesson again is a no-op and never credits twice
	again, err := svc.CompleteLesson(ctx, "usr1", les1.ID)
	require.NoError(t, err)
	assert.Equal(t, prg.ID, again.ID)
	assert.Equal(t, 10, balance(t, rewardSvc, "usr1"))

	// the last lesson completes the course and credits its reward
	_, err = svc.CompleteLesson(ctx, "usr1", les2.ID)
	require.NoError(t, err)
	assert.Equal(t, 120, balance(t, rewardSvc, "usr1")) // 10 + 10 + 100

	dash, err := svc.Dashboard(ctx, "usr1")
	require.NoError(t, err)
	require.Len(t, dash, 1)
	assert.Equal(t, 100, dash[0].ProgressPercent)
	assert.False(t, dash[0].CompletedAt.IsZero())
}

func addQuiz(t *testing.T, svc course.ServiceInterface, lessonID string, maxAttempts, tokens int) course.Quiz {
	t.Helper()
	qz, err := svc.AddQuiz(context.Background(), course.NewQuiz{
		LessonID:     lessonID,
		Title:        "Past Tense Check",
		PassingScore: 70,
		MaxAttempts:  maxAttempts,
		ForeReward:   tokens,
		Questions: []course.NewQuestion{
			{Text: "Past tense of go?", Type: course.QuestionShortAnswer, CorrectAnswer: "went", Points: 2},
			{Text: "'Goed' is a word.", Type: course.QuestionTrueFalse, CorrectAnswer: "false", Points: 1},
			{Text: "I ___ to school.", Type: course.QuestionFillBlank, CorrectAnswer: "go, walk", Points: 1},
		},
	})
	require.NoError(t, err)
	return qz
}

func Test_service_SubmitQuiz(t *testing.T) {
	svc, rewardSvc := setup(t)
	ctx := context.Background()

	crs := createCourse(t, svc, 0, course.StatusPublished)
	les := addLesson(t, svc, crs.ID, 0)
	qz := addQuiz(t, svc, les.ID, 0, 25)

	_, err := svc.SubmitQuiz(ctx, "usr1", qz.ID, course.QuizSubmission{Answers: map[string]string{}})
	assert.Equal(t, course.ErrNotEnrolled, err)

	_, err = svc.Enroll(ctx, "usr1", crs.ID)
	require.NoError(t, err)

	// 2 of 4 points: 50%, below the 70% passing score
	att, err := svc.SubmitQuiz(ctx, "usr1", qz.ID, course.QuizSubmission{Answers: map[string]string{
		qz.Questions[0].ID: "went",
		qz.Questions[1].ID: "true",
		qz.Questions[2].ID: "I ran to school",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, att.Number)
	assert.Equal(t, 50, att.Score)
	assert.False(t, att.Passed)
	assert.Equal(t, 0, balance(t, rewardSvc, "usr1"))

	// full marks pass and credit the reward
	answers := map[string]string{
		qz.Questions[0].ID: "went",
		qz.Questions[1].ID: "false",
		qz.Questions[2].ID: "I walk to school",
	}
	att, err = svc.SubmitQuiz(ctx, "usr1", qz.ID, course.QuizSubmission{Answers: answers})
	require.NoError(t, err)
	assert.Equal(t, 2, att.Number)
	assert.Equal(t, 100, att.Score)
	assert.True(t, att.Passed)
	assert.Equal(t, 25, balance(t, rewardSvc, "usr1"))

	// passing again never credits twice
	att, err = svc.SubmitQuiz(ctx, "usr1", qz.ID, course.QuizSubmission{Answers: answers})
	require.NoError(t, err)
	assert.True(t, att.Passed)
	assert.Equal(t, 25, balance(t, rewardSvc, "usr1"))

	atts, err := svc.QuizAttempts(ctx, "usr1", qz.ID)
	require.NoError(t, err)
	assert.Len(t, atts, 3)
}

func Test_service_SubmitQuiz_maxAttempts(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	crs := createCourse(t, svc, 0, course.StatusPublished)
	les := addLesson(t, svc, crs.ID, 0)
	qz := addQuiz(t, svc, les.ID, 2, 0)

	_, err := svc.Enroll(ctx, "usr1", crs.ID)
	require.NoError(t, err)

	sub := course.QuizSubmission{Answers: map[string]string{}}
	for i := 0; i < 2; i++ {
		_, err = svc.SubmitQuiz(ctx, "usr1", qz.ID, sub)
		require.NoError(t, err)
	}
	_, err = svc.SubmitQuiz(ctx, "usr1", qz.ID, sub)
	assert.Equal(t, course.ErrAttemptsExhausted, err)

	// another student gets their own attempt budget
	_, err = svc.Enroll(ctx, "usr2", crs.ID)
	require.NoError(t, err)
	_, err = svc.SubmitQuiz(ctx, "usr2", qz.ID, sub)
	assert.NoError(t, err)
}

func Test_service_CompletionCounts(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	crs := createCourse(t, svc, 0, course.StatusPublished)
	les := addLesson(t, svc, crs.ID, 0)
	qz := addQuiz(t, svc, les.ID, 0, 0)

	_, err := svc.Enroll(ctx, "usr1", crs.ID)
	require.NoError(t, err)
	_, err = svc.CompleteLesson(ctx, "usr1", les.ID)
	require.NoError(t, err)
	_, err = svc.SubmitQuiz(ctx, "usr1", qz.ID, course.QuizSubmission{Answers: map[string]string{
		qz.Questions[0].ID: "went",
		qz.Questions[1].ID: "false",
		qz.Questions[2].ID: "go",
	}})
	require.NoError(t, err)

	courses, lessons, quizzes, err := svc.CompletionCounts(ctx, "usr1")
	require.NoError(t, err)
	assert.Equal(t, 1, courses) // the single-lesson course completed with the lesson
	assert.Equal(t, 1, lessons)
	assert.Equal(t, 1, quizzes)

	streak, err := svc.StreakDays(ctx, "usr1")
	require.NoError(t, err)
	assert.Equal(t, 1, streak)

	counts, err := svc.ActivityCounts(ctx, "lessons_completed", crs.CreatedAt)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"usr1": 1}, counts)
}

func Test_service_AddLesson_position(t *testing.T) {
	svc, _ := setup(t)

	crs := createCourse(t, svc, 0, course.StatusPublished)
	les1 := addLesson(t, svc, crs.ID, 0)
	les2 := addLesson(t, svc, crs.ID, 0)
	assert.Equal(t, 1, les1.Position)
	assert.Equal(t, 2, les2.Position)

	lessons, err := svc.Lessons(context.Background(), crs.ID)
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	assert.Equal(t, les1.ID, lessons[0].ID)
}
