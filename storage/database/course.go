package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/course"
)

type CourseRepository struct {
	db *sqlx.DB
}

var _ course.Repository = (*CourseRepository)(nil)

func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

type courseRow struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Level       string    `db:"level"`
	Status      string    `db:"status"`
	TeacherID   string    `db:"teacher_id"`
	ForeReward  int       `db:"fore_reward"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (row courseRow) toCourse() course.Course {
	return course.Course(row)
}

type lessonRow struct {
	ID          string      `db:"id"`
	CourseID    string      `db:"course_id"`
	Title       string      `db:"title"`
	Content     string      `db:"content"`
	VideoURL    null.String `db:"video_url"`
	Position    int         `db:"position"`
	DurationMin int         `db:"duration_min"`
	ForeReward  int         `db:"fore_reward"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func (row lessonRow) toLesson() course.Lesson {
	return course.Lesson{
		ID:          row.ID,
		CourseID:    row.CourseID,
		Title:       row.Title,
		Content:     row.Content,
		VideoURL:    row.VideoURL.String,
		Position:    row.Position,
		DurationMin: row.DurationMin,
		ForeReward:  row.ForeReward,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

const courseColumns = `id, title, description, level, status, teacher_id, fore_reward, created_at, updated_at`
const lessonColumns = `id, course_id, title, content, video_url, position, duration_min, fore_reward, created_at, updated_at`

func (repo *CourseRepository) CreateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	const query = `
	INSERT INTO courses (title, description, level, status, teacher_id, fore_reward, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id`

	err := repo.db.QueryRowContext(ctx, query,
		crs.Title, crs.Description, crs.Level, crs.Status, crs.TeacherID, crs.ForeReward, crs.CreatedAt, crs.UpdatedAt,
	).Scan(&crs.ID)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	return crs, nil
}

func (repo *CourseRepository) GetCourse(ctx context.Context, id string) (course.Course, error) {
	var row courseRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return course.Course{}, course.ErrNotFound
		}
		return course.Course{}, errors.Wrap(err, "selecting course")
	}
	return row.toCourse(), nil
}

func (repo *CourseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter, ordering []core.DBOrdering) ([]course.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses`
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.Search != "" {
			p := arg("%" + filter.Search + "%")
			conds = append(conds, fmt.Sprintf("(title ILIKE %s OR description ILIKE %s)", p, p))
		}
		if filter.Level != "" {
			conds = append(conds, fmt.Sprintf("level = %s", arg(filter.Level)))
		}
		if filter.Status != "" {
			conds = append(conds, fmt.Sprintf("status = %s", arg(filter.Status)))
		}
		if filter.TeacherID != "" {
			conds = append(conds, fmt.Sprintf("teacher_id = %s", arg(filter.TeacherID)))
		}
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += orderBy(ordering, map[string]bool{"title": true, "level": true, "created_at": true}, "created_at ASC")

	var rows []courseRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting courses")
	}
	courses := make([]course.Course, len(rows))
	for i, row := range rows {
		courses[i] = row.toCourse()
	}
	return courses, nil
}

func (repo *CourseRepository) UpdateCourse(ctx context.Context, crs course.Course) (course.Course, error) {
	const query = `
	UPDATE courses SET title = $2, description = $3, level = $4, status = $5, fore_reward = $6, updated_at = $7
	WHERE id = $1`

	res, err := repo.db.ExecContext(ctx, query,
		crs.ID, crs.Title, crs.Description, crs.Level, crs.Status, crs.ForeReward, crs.UpdatedAt)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Course{}, course.ErrNotFound
	}
	return crs, nil
}

func (repo *CourseRepository) DeleteCoursesByID(ctx context.Context, ids ...string) (int, error) {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM courses WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting courses")
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (repo *CourseRepository) CreateLesson(ctx context.Context, les course.Lesson) (course.Lesson, error) {
	const query = `
	INSERT INTO lessons (course_id, title, content, video_url, position, duration_min, fore_reward, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id`

	err := repo.db.QueryRowContext(ctx, query,
		les.CourseID, les.Title, les.Content, null.NewString(les.VideoURL, les.VideoURL != ""),
		les.Position, les.DurationMin, les.ForeReward, les.CreatedAt, les.UpdatedAt,
	).Scan(&les.ID)
	if err != nil {
		return course.Lesson{}, errors.Wrap(err, "inserting lesson")
	}
	return les, nil
}

func (repo *CourseRepository) GetLesson(ctx context.Context, id string) (course.Lesson, error) {
	var row lessonRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return course.Lesson{}, course.ErrNotFound
		}
		return course.Lesson{}, errors.Wrap(err, "selecting lesson")
	}
	return row.toLesson(), nil
}

func (repo *CourseRepository) QueryLessonsByCourse(ctx context.Context, courseID string) ([]course.Lesson, error) {
	var rows []lessonRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT `+lessonColumns+` FROM lessons WHERE course_id = $1 ORDER BY position ASC`, courseID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting lessons")
	}
	lessons := make([]course.Lesson, len(rows))
	for i, row := range rows {
		lessons[i] = row.toLesson()
	}
	return lessons, nil
}

func (repo *CourseRepository) CountLessonsByCourse(ctx context.Context, courseID string) (int, error) {
	var n int
	err := repo.db.QueryRowContext(ctx, `SELECT count(*) FROM lessons WHERE course_id = $1`, courseID).Scan(&n)
	return n, errors.Wrap(err, "counting lessons")
}

func (repo *CourseRepository) CreateQuiz(ctx context.Context, qz course.Quiz) (course.Quiz, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return course.Quiz{}, errors.Wrap(err, "beginning transaction")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer tx.Rollback()

	const quizQuery = `
	INSERT INTO quizzes (lesson_id, title, description, passing_score, max_attempts, time_limit_min, fore_reward, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id`

	err = tx.QueryRowContext(ctx, quizQuery,
		qz.LessonID, qz.Title, qz.Description, qz.PassingScore, qz.MaxAttempts, qz.TimeLimitMin,
		qz.ForeReward, qz.CreatedAt, qz.UpdatedAt,
	).Scan(&qz.ID)
	if err != nil {
		return course.Quiz{}, errors.Wrap(err, "inserting quiz")
	}

	const questionQuery = `
	INSERT INTO questions (quiz_id, text, type, options, correct_answer, points, position)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`

	for i := range qz.Questions {
		q := &qz.Questions[i]
		q.QuizID = qz.ID
		err = tx.QueryRowContext(ctx, questionQuery,
			qz.ID, q.Text, q.Type, pq.Array(q.Options), q.CorrectAnswer, q.Points, q.Position,
		).Scan(&q.ID)
		if err != nil {
			return course.Quiz{}, errors.Wrap(err, "inserting question")
		}
	}
	if err = tx.Commit(); err != nil {
		return course.Quiz{}, errors.Wrap(err, "committing quiz")
	}
	return qz, nil
}

type quizRow struct {
	ID           string    `db:"id"`
	LessonID     string    `db:"lesson_id"`
	Title        string    `db:"title"`
	Description  string    `db:"description"`
	PassingScore int       `db:"passing_score"`
	MaxAttempts  int       `db:"max_attempts"`
	TimeLimitMin int       `db:"time_limit_min"`
	ForeReward   int       `db:"fore_reward"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type questionRow struct {
	ID            string         `db:"id"`
	QuizID        string         `db:"quiz_id"`
	Text          string         `db:"text"`
	Type          string         `db:"type"`
	Options       pq.StringArray `db:"options"`
	CorrectAnswer string         `db:"correct_answer"`
	Points        int            `db:"points"`
	Position      int            `db:"position"`
}

const quizColumns = `id, lesson_id, title, description, passing_score, max_attempts, time_limit_min, fore_reward, created_at, updated_at`

func (repo *CourseRepository) getQuiz(ctx context.Context, where string, arg interface{}) (course.Quiz, error) {
	var row quizRow
	if err := repo.db.GetContext(ctx, &row, `SELECT `+quizColumns+` FROM quizzes WHERE `+where, arg); err != nil {
		if err == sql.ErrNoRows {
			return course.Quiz{}, course.ErrNotFound
		}
		return course.Quiz{}, errors.Wrap(err, "selecting quiz")
	}
	qz := course.Quiz{
		ID:           row.ID,
		LessonID:     row.LessonID,
		Title:        row.Title,
		Description:  row.Description,
		PassingScore: row.PassingScore,
		MaxAttempts:  row.MaxAttempts,
		TimeLimitMin: row.TimeLimitMin,
		ForeReward:   row.ForeReward,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}

	var qRows []questionRow
	err := repo.db.SelectContext(ctx, &qRows, `
	SELECT id, quiz_id, text, type, options, correct_answer, points, position
	FROM questions WHERE quiz_id = $1 ORDER BY position ASC`, qz.ID)
	if err != nil {
		return course.Quiz{}, errors.Wrap(err, "selecting questions")
	}
	for _, qr := range qRows {
		qz.Questions = append(qz.Questions, course.Question{
			ID:            qr.ID,
			QuizID:        qr.QuizID,
			Text:          qr.Text,
			Type:          qr.Type,
			Options:       qr.Options,
			CorrectAnswer: qr.CorrectAnswer,
			Points:        qr.Points,
			Position:      qr.Position,
		})
	}
	return qz, nil
}

func (repo *CourseRepository) GetQuiz(ctx context.Context, id string) (course.Quiz, error) {
	return repo.getQuiz(ctx, "id = $1", id)
}

func (repo *CourseRepository) GetQuizByLesson(ctx context.Context, lessonID string) (course.Quiz, error) {
	return repo.getQuiz(ctx, "lesson_id = $1", lessonID)
}

func (repo *CourseRepository) CreateEnrollment(ctx context.Context, enr course.Enrollment) (course.Enrollment, error) {
	const query = `
	INSERT INTO enrollments (user_id, course_id, enrolled_at) VALUES ($1, $2, $3)
	RETURNING id`

	err := repo.db.QueryRowContext(ctx, query, enr.UserID, enr.CourseID, enr.EnrolledAt).Scan(&enr.ID)
	if err != nil {
		return course.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return enr, nil
}

type enrollmentRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	CourseID    string    `db:"course_id"`
	EnrolledAt  time.Time `db:"enrolled_at"`
	CompletedAt null.Time `db:"completed_at"`
}

func (row enrollmentRow) toEnrollment() course.Enrollment {
	return course.Enrollment{
		ID:          row.ID,
		UserID:      row.UserID,
		CourseID:    row.CourseID,
		EnrolledAt:  row.EnrolledAt,
		CompletedAt: row.CompletedAt.Time,
	}
}

func (repo *CourseRepository) GetEnrollment(ctx context.Context, userID, courseID string) (course.Enrollment, error) {
	var row enrollmentRow
	err := repo.db.GetContext(ctx, &row, `
	SELECT id, user_id, course_id, enrolled_at, completed_at
	FROM enrollments WHERE user_id = $1 AND course_id = $2`, userID, courseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return course.Enrollment{}, course.ErrNotFound
		}
		return course.Enrollment{}, errors.Wrap(err, "selecting enrollment")
	}
	return row.toEnrollment(), nil
}

func (repo *CourseRepository) QueryEnrollmentsByUser(ctx context.Context, userID string) ([]course.Enrollment, error) {
	var rows []enrollmentRow
	err := repo.db.SelectContext(ctx, &rows, `
	SELECT id, user_id, course_id, enrolled_at, completed_at
	FROM enrollments WHERE user_id = $1 ORDER BY enrolled_at ASC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting enrollments")
	}
	enrs := make([]course.Enrollment, len(rows))
	for i, row := range rows {
		enrs[i] = row.toEnrollment()
	}
	return enrs, nil
}

func (repo *CourseRepository) CompleteEnrollment(ctx context.Context, id string, completedAt time.Time) error {
	res, err := repo.db.ExecContext(ctx,
		`UPDATE enrollments SET completed_at = $2 WHERE id = $1 AND completed_at IS NULL`, id, completedAt)
	if err != nil {
		return errors.Wrap(err, "completing enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.ErrNotFound
	}
	return nil
}

func (repo *CourseRepository) CreateLessonProgress(ctx context.Context, prg course.LessonProgress) (course.LessonProgress, error) {
	const query = `
	INSERT INTO lesson_progress (user_id, lesson_id, course_id, completed_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id, lesson_id) DO NOTHING
	RETURNING id`

	err := repo.db.QueryRowContext(ctx, query, prg.UserID, prg.LessonID, prg.CourseID, prg.CompletedAt).Scan(&prg.ID)
	if err == sql.ErrNoRows {
		// conflict: fetch the existing row
		var row struct {
			ID          string    `db:"id"`
			CompletedAt time.Time `db:"completed_at"`
		}
		err = repo.db.GetContext(ctx, &row, `
		SELECT id, completed_at FROM lesson_progress WHERE user_id = $1 AND lesson_id = $2`,
			prg.UserID, prg.LessonID)
		if err != nil {
			return course.LessonProgress{}, errors.Wrap(err, "selecting lesson progress")
		}
		prg.ID = row.ID
		prg.CompletedAt = row.CompletedAt
		return prg, course.ErrProgressExists
	}
	if err != nil {
		return course.LessonProgress{}, errors.Wrap(err, "inserting lesson progress")
	}
	return prg, nil
}

func (repo *CourseRepository) CountLessonProgressByCourse(ctx context.Context, userID, courseID string) (int, error) {
	var n int
	err := repo.db.QueryRowContext(ctx,
		`SELECT count(*) FROM lesson_progress WHERE user_id = $1 AND course_id = $2`, userID, courseID).Scan(&n)
	return n, errors.Wrap(err, "counting lesson progress")
}

func (repo *CourseRepository) QueryLessonProgressByUser(ctx context.Context, userID string) ([]course.LessonProgress, error) {
	type progressRow struct {
		ID          string    `db:"id"`
		UserID      string    `db:"user_id"`
		LessonID    string    `db:"lesson_id"`
		CourseID    string    `db:"course_id"`
		CompletedAt time.Time `db:"completed_at"`
	}
	var rows []progressRow
	err := repo.db.SelectContext(ctx, &rows, `
	SELECT id, user_id, lesson_id, course_id, completed_at
	FROM lesson_progress WHERE user_id = $1 ORDER BY completed_at ASC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting lesson progress")
	}
	prgs := make([]course.LessonProgress, len(rows))
	for i, row := range rows {
		prgs[i] = course.LessonProgress(row)
	}
	return prgs, nil
}

func (repo *CourseRepository) CreateQuizAttempt(ctx context.Context, att course.QuizAttempt) (course.QuizAttempt, error) {
	answers, err := json.Marshal(att.Answers)
	if err != nil {
		return course.QuizAttempt{}, errors.Wrap(err, "encoding answers")
	}

	const query = `
	INSERT INTO quiz_attempts (user_id, quiz_id, number, answers, score, passed, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`

	err = repo.db.QueryRowContext(ctx, query,
		att.UserID, att.QuizID, att.Number, answers, att.Score, att.Passed, att.CompletedAt).Scan(&att.ID)
	if err != nil {
		return course.QuizAttempt{}, errors.Wrap(err, "inserting quiz attempt")
	}
	return att, nil
}

func (repo *CourseRepository) QueryQuizAttempts(ctx context.Context, userID, quizID string) ([]course.QuizAttempt, error) {
	type attemptRow struct {
		ID          string    `db:"id"`
		UserID      string    `db:"user_id"`
		QuizID      string    `db:"quiz_id"`
		Number      int       `db:"number"`
		Answers     []byte    `db:"answers"`
		Score       int       `db:"score"`
		Passed      bool      `db:"passed"`
		CompletedAt time.Time `db:"completed_at"`
	}
	var rows []attemptRow
	err := repo.db.SelectContext(ctx, &rows, `
	SELECT id, user_id, quiz_id, number, answers, score, passed, completed_at
	FROM quiz_attempts WHERE user_id = $1 AND quiz_id = $2 ORDER BY number ASC`, userID, quizID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting quiz attempts")
	}

	atts := make([]course.QuizAttempt, len(rows))
	for i, row := range rows {
		att := course.QuizAttempt{
			ID:          row.ID,
			UserID:      row.UserID,
			QuizID:      row.QuizID,
			Number:      row.Number,
			Score:       row.Score,
			Passed:      row.Passed,
			CompletedAt: row.CompletedAt,
		}
		if err = json.Unmarshal(row.Answers, &att.Answers); err != nil {
			return nil, errors.Wrap(err, "decoding answers")
		}
		atts[i] = att
	}
	return atts, nil
}

func (repo *CourseRepository) CountCompletedCourses(ctx context.Context, userID string) (int, error) {
	var n int
	err := repo.db.QueryRowContext(ctx,
		`SELECT count(*) FROM enrollments WHERE user_id = $1 AND completed_at IS NOT NULL`, userID).Scan(&n)
	return n, errors.Wrap(err, "counting completed courses")
}

func (repo *CourseRepository) CountCompletedLessons(ctx context.Context, userID string) (int, error) {
	var n int
	err := repo.db.QueryRowContext(ctx,
		`SELECT count(*) FROM lesson_progress WHERE user_id = $1`, userID).Scan(&n)
	return n, errors.Wrap(err, "counting completed lessons")
}

func (repo *CourseRepository) CountPassedQuizzes(ctx context.Context, userID string) (int, error) {
	var n int
	err := repo.db.QueryRowContext(ctx,
		`SELECT count(DISTINCT quiz_id) FROM quiz_attempts WHERE user_id = $1 AND passed`, userID).Scan(&n)
	return n, errors.Wrap(err, "counting passed quizzes")
}

func (repo *CourseRepository) ActivityCounts(ctx context.Context, activity string, since time.Time) (map[string]int, error) {
	var query string
	switch activity {
	case "courses_completed":
		query = `SELECT user_id, count(*) FROM enrollments WHERE completed_at >= $1 GROUP BY user_id`
	case "lessons_completed":
		query = `SELECT user_id, count(*) FROM lesson_progress WHERE completed_at >= $1 GROUP BY user_id`
	case "quizzes_passed":
		query = `SELECT user_id, count(DISTINCT quiz_id) FROM quiz_attempts WHERE passed AND completed_at >= $1 GROUP BY user_id`
	default:
		return map[string]int{}, nil
	}

	rows, err := repo.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, errors.Wrap(err, "counting activity")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			userID string
			n      int
		)
		if err = rows.Scan(&userID, &n); err != nil {
			return nil, errors.Wrap(err, "scanning activity counts")
		}
		counts[userID] = n
	}
	return counts, rows.Err()
}
