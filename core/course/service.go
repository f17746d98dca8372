package course

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
)

var (
	// errors
	ErrNotFound          = errors.New("not found")
	ErrAlreadyEnrolled   = errors.New("already enrolled in this course")
	ErrNotEnrolled       = errors.New("not enrolled in this course")
	ErrEnrollmentClosed  = errors.New("course is not open for enrollment")
	ErrAttemptsExhausted = errors.New("maximum quiz attempts reached")
	ErrProgressExists    = errors.New("lesson already completed")
)

type (
	Repository interface {
		CreateCourse(ctx context.Context, crs Course) (Course, error)
		GetCourse(ctx context.Context, id string) (Course, error)
		// QueryCourses applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on Course.Title or Course.Description.
		QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error)
		UpdateCourse(ctx context.Context, crs Course) (Course, error)
		DeleteCoursesByID(ctx context.Context, ids ...string) (int, error)

		CreateLesson(ctx context.Context, les Lesson) (Lesson, error)
		GetLesson(ctx context.Context, id string) (Lesson, error)
		QueryLessonsByCourse(ctx context.Context, courseID string) ([]Lesson, error)
		CountLessonsByCourse(ctx context.Context, courseID string) (int, error)

		CreateQuiz(ctx context.Context, qz Quiz) (Quiz, error)
		// GetQuiz returns the quiz with its questions, ordered by position.
		GetQuiz(ctx context.Context, id string) (Quiz, error)
		GetQuizByLesson(ctx context.Context, lessonID string) (Quiz, error)

		CreateEnrollment(ctx context.Context, enr Enrollment) (Enrollment, error)
		GetEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error)
		QueryEnrollmentsByUser(ctx context.Context, userID string) ([]Enrollment, error)
		CompleteEnrollment(ctx context.Context, id string, completedAt time.Time) error

		// CreateLessonProgress returns ErrProgressExists when the (user, lesson)
		// pair has already been recorded.
		CreateLessonProgress(ctx context.Context, prg LessonProgress) (LessonProgress, error)
		CountLessonProgressByCourse(ctx context.Context, userID, courseID string) (int, error)
		QueryLessonProgressByUser(ctx context.Context, userID string) ([]LessonProgress, error)

		CreateQuizAttempt(ctx context.Context, att QuizAttempt) (QuizAttempt, error)
		QueryQuizAttempts(ctx context.Context, userID, quizID string) ([]QuizAttempt, error)

		CountCompletedCourses(ctx context.Context, userID string) (int, error)
		CountCompletedLessons(ctx context.Context, userID string) (int, error)
		CountPassedQuizzes(ctx context.Context, userID string) (int, error)
		// ActivityCounts aggregates per-user counts of the given activity
		// ("courses_completed", "lessons_completed" or "quizzes_passed")
		// recorded at or after since. A zero since means all time.
		ActivityCounts(ctx context.Context, activity string, since time.Time) (map[string]int, error)
	}

	// Rewarder credits FORE tokens for learning milestones. Implementations
	// must be idempotent per (user, reference) pair.
	Rewarder interface {
		LessonCompleted(ctx context.Context, userID, lessonID string, tokens int) error
		QuizPassed(ctx context.Context, userID, quizID string, tokens int) error
		CourseCompleted(ctx context.Context, userID, courseID string, tokens int) error
	}

	ServiceInterface interface {
		Create(ctx context.Context, nc NewCourse) (Course, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error)
		GetByID(ctx context.Context, id string) (Course, error)
		Update(ctx context.Context, id string, uc UpdateCourse) (Course, error)
		Delete(ctx context.Context, ids ...string) error

		AddLesson(ctx context.Context, nl NewLesson) (Lesson, error)
		Lessons(ctx context.Context, courseID string) ([]Lesson, error)
		AddQuiz(ctx context.Context, nq NewQuiz) (Quiz, error)
		GetQuiz(ctx context.Context, id string) (Quiz, error)
		GetLessonQuiz(ctx context.Context, lessonID string) (Quiz, error)

		Enroll(ctx context.Context, userID, courseID string) (Enrollment, error)
		CompleteLesson(ctx context.Context, userID, lessonID string) (LessonProgress, error)
		SubmitQuiz(ctx context.Context, userID, quizID string, sub QuizSubmission) (QuizAttempt, error)
		QuizAttempts(ctx context.Context, userID, quizID string) ([]QuizAttempt, error)
		Dashboard(ctx context.Context, userID string) ([]CourseProgress, error)

		// reward.StatsSource
		CompletionCounts(ctx context.Context, userID string) (courses, lessons, quizzes int, err error)
		StreakDays(ctx context.Context, userID string) (int, error)
		ActivityCounts(ctx context.Context, activity string, since time.Time) (map[string]int, error)
	}

	service struct {
		repo     Repository
		rewarder Rewarder
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, rewarder Rewarder) *service {
	return &service{
		repo:     repo,
		rewarder: rewarder,
	}
}

func (svc *service) Create(ctx context.Context, nc NewCourse) (Course, error) {
	now := time.Now().UTC()
	return svc.repo.CreateCourse(ctx, Course{
		Title:       nc.Title,
		Description: nc.Description,
		Level:       nc.Level,
		Status:      nc.Status,
		TeacherID:   nc.TeacherID,
		ForeReward:  nc.ForeReward,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error) {
	return svc.repo.QueryCourses(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

func (svc *service) Update(ctx context.Context, id string, uc UpdateCourse) (Course, error) {
	crs, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	crs.Title = uc.Title
	crs.Description = uc.Description
	crs.Level = uc.Level
	crs.Status = uc.Status
	if uc.ForeReward != nil {
		crs.ForeReward = *uc.ForeReward
	}
	crs.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateCourse(ctx, crs)
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	_, err := svc.repo.DeleteCoursesByID(ctx, ids...)
	return err
}

func (svc *service) AddLesson(ctx context.Context, nl NewLesson) (Lesson, error) {
	if _, err := svc.repo.GetCourse(ctx, nl.CourseID); err != nil {
		return Lesson{}, err
	}
	pos := nl.Position
	if pos == 0 {
		count, err := svc.repo.CountLessonsByCourse(ctx, nl.CourseID)
		if err != nil {
			return Lesson{}, err
		}
		pos = count + 1
	}
	now := time.Now().UTC()
	return svc.repo.CreateLesson(ctx, Lesson{
		CourseID:    nl.CourseID,
		Title:       nl.Title,
		Content:     nl.Content,
		VideoURL:    nl.VideoURL,
		Position:    pos,
		DurationMin: nl.DurationMin,
		ForeReward:  nl.ForeReward,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (svc *service) Lessons(ctx context.Context, courseID string) ([]Lesson, error) {
	return svc.repo.QueryLessonsByCourse(ctx, courseID)
}

func (svc *service) AddQuiz(ctx context.Context, nq NewQuiz) (Quiz, error) {
	if _, err := svc.repo.GetLesson(ctx, nq.LessonID); err != nil {
		return Quiz{}, err
	}
	now := time.Now().UTC()
	qz := Quiz{
		LessonID:     nq.LessonID,
		Title:        nq.Title,
		Description:  nq.Description,
		PassingScore: nq.PassingScore,
		MaxAttempts:  nq.MaxAttempts,
		TimeLimitMin: nq.TimeLimitMin,
		ForeReward:   nq.ForeReward,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for i, q := range nq.Questions {
		pos := q.Position
		if pos == 0 {
			pos = i + 1
		}
		points := q.Points
		if points == 0 {
			points = 1
		}
		qz.Questions = append(qz.Questions, Question{
			Text:          core.CleanString(q.Text),
			Type:          q.Type,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Points:        points,
			Position:      pos,
		})
	}
	return svc.repo.CreateQuiz(ctx, qz)
}

func (svc *service) GetQuiz(ctx context.Context, id string) (Quiz, error) {
	return svc.repo.GetQuiz(ctx, id)
}

func (svc *service) GetLessonQuiz(ctx context.Context, lessonID string) (Quiz, error) {
	return svc.repo.GetQuizByLesson(ctx, lessonID)
}

func (svc *service) Enroll(ctx context.Context, userID, courseID string) (Enrollment, error) {
	crs, err := svc.repo.GetCourse(ctx, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	if !crs.Published() {
		return Enrollment{}, ErrEnrollmentClosed
	}
	if _, err = svc.repo.GetEnrollment(ctx, userID, courseID); err == nil {
		return Enrollment{}, ErrAlreadyEnrolled
	} else if errors.Cause(err) != ErrNotFound {
		return Enrollment{}, err
	}
	return svc.repo.CreateEnrollment(ctx, Enrollment{
		UserID:     userID,
		CourseID:   courseID,
		EnrolledAt: time.Now().UTC(),
	})
}

// CompleteLesson records a lesson completion and credits its FORE reward.
// Completing the same lesson twice is a no-op and never credits twice.
// Completing the last remaining lesson of a course also completes the
// enrollment and credits the course reward.
func (svc *service) CompleteLesson(ctx context.Context, userID, lessonID string) (LessonProgress, error) {
	les, err := svc.repo.GetLesson(ctx, lessonID)
	if err != nil {
		return LessonProgress{}, err
	}
	enr, err := svc.repo.GetEnrollment(ctx, userID, les.CourseID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return LessonProgress{}, ErrNotEnrolled
		}
		return LessonProgress{}, err
	}

	prg, err := svc.repo.CreateLessonProgress(ctx, LessonProgress{
		UserID:      userID,
		LessonID:    lessonID,
		CourseID:    les.CourseID,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		if errors.Cause(err) == ErrProgressExists {
			return prg, nil
		}
		return LessonProgress{}, err
	}

	if svc.rewarder != nil && les.ForeReward > 0 {
		if err = svc.rewarder.LessonCompleted(ctx, userID, lessonID, les.ForeReward); err != nil {
			return LessonProgress{}, errors.Wrap(err, "crediting lesson reward")
		}
	}

	if !enr.Completed() {
		if err = svc.maybeCompleteCourse(ctx, userID, enr); err != nil {
			return LessonProgress{}, err
		}
	}
	return prg, nil
}

func (svc *service) maybeCompleteCourse(ctx context.Context, userID string, enr Enrollment) error {
	total, err := svc.repo.CountLessonsByCourse(ctx, enr.CourseID)
	if err != nil {
		return err
	}
	done, err := svc.repo.CountLessonProgressByCourse(ctx, userID, enr.CourseID)
	if err != nil {
		return err
	}
	if total == 0 || done < total {
		return nil
	}

	if err = svc.repo.CompleteEnrollment(ctx, enr.ID, time.Now().UTC()); err != nil {
		return err
	}
	crs, err := svc.repo.GetCourse(ctx, enr.CourseID)
	if err != nil {
		return err
	}
	if svc.rewarder != nil && crs.ForeReward > 0 {
		if err = svc.rewarder.CourseCompleted(ctx, userID, crs.ID, crs.ForeReward); err != nil {
			return errors.Wrap(err, "crediting course reward")
		}
	}
	return nil
}

// SubmitQuiz grades a submission against the quiz questions. The score is
// the percentage of points earned; an attempt passes when it reaches the
// quiz passing score. Only the first passing attempt credits the quiz reward.
func (svc *service) SubmitQuiz(ctx context.Context, userID, quizID string, sub QuizSubmission) (QuizAttempt, error) {
	qz, err := svc.repo.GetQuiz(ctx, quizID)
	if err != nil {
		return QuizAttempt{}, err
	}
	les, err := svc.repo.GetLesson(ctx, qz.LessonID)
	if err != nil {
		return QuizAttempt{}, err
	}
	if _, err = svc.repo.GetEnrollment(ctx, userID, les.CourseID); err != nil {
		if errors.Cause(err) == ErrNotFound {
			return QuizAttempt{}, ErrNotEnrolled
		}
		return QuizAttempt{}, err
	}

	prev, err := svc.repo.QueryQuizAttempts(ctx, userID, quizID)
	if err != nil {
		return QuizAttempt{}, err
	}
	if qz.MaxAttempts > 0 && len(prev) >= qz.MaxAttempts {
		return QuizAttempt{}, ErrAttemptsExhausted
	}

	var earned, total int
	for _, q := range qz.Questions {
		points := q.Points
		if points == 0 {
			points = 1
		}
		total += points
		if q.CheckAnswer(sub.Answers[q.ID]) {
			earned += points
		}
	}
	var score int
	if total > 0 {
		score = earned * 100 / total
	}

	att, err := svc.repo.CreateQuizAttempt(ctx, QuizAttempt{
		UserID:      userID,
		QuizID:      quizID,
		Number:      len(prev) + 1,
		Answers:     sub.Answers,
		Score:       score,
		Passed:      score >= qz.PassingScore,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return QuizAttempt{}, err
	}

	if att.Passed && svc.rewarder != nil && qz.ForeReward > 0 {
		if !anyPassed(prev) {
			if err = svc.rewarder.QuizPassed(ctx, userID, quizID, qz.ForeReward); err != nil {
				return QuizAttempt{}, errors.Wrap(err, "crediting quiz reward")
			}
		}
	}
	return att, nil
}

func anyPassed(attempts []QuizAttempt) bool {
	for _, att := range attempts {
		if att.Passed {
			return true
		}
	}
	return false
}

func (svc *service) QuizAttempts(ctx context.Context, userID, quizID string) ([]QuizAttempt, error) {
	return svc.repo.QueryQuizAttempts(ctx, userID, quizID)
}

func (svc *service) Dashboard(ctx context.Context, userID string) ([]CourseProgress, error) {
	enrs, err := svc.repo.QueryEnrollmentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	progress := make([]CourseProgress, 0, len(enrs))
	for _, enr := range enrs {
		crs, err := svc.repo.GetCourse(ctx, enr.CourseID)
		if err != nil {
			return nil, err
		}
		total, err := svc.repo.CountLessonsByCourse(ctx, enr.CourseID)
		if err != nil {
			return nil, err
		}
		done, err := svc.repo.CountLessonProgressByCourse(ctx, userID, enr.CourseID)
		if err != nil {
			return nil, err
		}
		var pct int
		if total > 0 {
			pct = done * 100 / total
		}
		progress = append(progress, CourseProgress{
			Course:           crs,
			EnrolledAt:       enr.EnrolledAt,
			CompletedAt:      enr.CompletedAt,
			LessonsTotal:     total,
			LessonsCompleted: done,
			ProgressPercent:  pct,
		})
	}
	return progress, nil
}

func (svc *service) CompletionCounts(ctx context.Context, userID string) (courses, lessons, quizzes int, err error) {
	if courses, err = svc.repo.CountCompletedCourses(ctx, userID); err != nil {
		return 0, 0, 0, err
	}
	if lessons, err = svc.repo.CountCompletedLessons(ctx, userID); err != nil {
		return 0, 0, 0, err
	}
	if quizzes, err = svc.repo.CountPassedQuizzes(ctx, userID); err != nil {
		return 0, 0, 0, err
	}
	return courses, lessons, quizzes, nil
}

// StreakDays returns the number of consecutive days (UTC) with at least one
// lesson completion, counting back from today or yesterday.
func (svc *service) StreakDays(ctx context.Context, userID string) (int, error) {
	prgs, err := svc.repo.QueryLessonProgressByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(prgs) == 0 {
		return 0, nil
	}

	days := make(map[string]bool, len(prgs))
	for _, prg := range prgs {
		days[prg.CompletedAt.UTC().Format("2006-01-02")] = true
	}

	day := time.Now().UTC().Truncate(24 * time.Hour)
	if !days[day.Format("2006-01-02")] {
		day = day.AddDate(0, 0, -1) // streak not broken until yesterday goes stale
	}

	var streak int
	for days[day.Format("2006-01-02")] {
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak, nil
}

func (svc *service) ActivityCounts(ctx context.Context, activity string, since time.Time) (map[string]int, error) {
	return svc.repo.ActivityCounts(ctx, activity, since)
}
