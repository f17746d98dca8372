package inmem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/course"
)

type CourseRepository struct {
	mu          sync.RWMutex
	courses     map[string]course.Course
	lessons     map[string]course.Lesson
	quizzes     map[string]course.Quiz
	enrollments map[string]course.Enrollment     // keyed by userID|courseID
	progress    map[string]course.LessonProgress // keyed by userID|lessonID
	attempts    map[string][]course.QuizAttempt  // keyed by userID|quizID
}

var _ course.Repository = (*CourseRepository)(nil)

func NewCourseRepository() *CourseRepository {
	return &CourseRepository{
		courses:     make(map[string]course.Course),
		lessons:     make(map[string]course.Lesson),
		quizzes:     make(map[string]course.Quiz),
		enrollments: make(map[string]course.Enrollment),
		progress:    make(map[string]course.LessonProgress),
		attempts:    make(map[string][]course.QuizAttempt),
	}
}

func key(a, b string) string { return a + "|" + b }

func (repo *CourseRepository) CreateCourse(_ context.Context, crs course.Course) (course.Course, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if crs.ID == "" {
		crs.ID = newID()
	}
	repo.courses[crs.ID] = crs
	return crs, nil
}

func (repo *CourseRepository) GetCourse(_ context.Context, id string) (course.Course, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	crs, ok := repo.courses[id]
	if !ok {
		return course.Course{}, course.ErrNotFound
	}
	return crs, nil
}

func (repo *CourseRepository) QueryCourses(_ context.Context, filter *course.QueryFilter, ordering []core.DBOrdering) ([]course.Course, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	courses := make([]course.Course, 0, len(repo.courses))
	for _, crs := range repo.courses {
		if filter != nil && !matchCourse(crs, filter) {
			continue
		}
		courses = append(courses, crs)
	}
	orderCourses(courses, ordering)
	return courses, nil
}

func matchCourse(crs course.Course, filter *course.QueryFilter) bool {
	if filter.Search != "" {
		s := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(crs.Title), s) &&
			!strings.Contains(strings.ToLower(crs.Description), s) {
			return false
		}
	}
	if filter.Level != "" && crs.Level != filter.Level {
		return false
	}
	if filter.Status != "" && crs.Status != filter.Status {
		return false
	}
	if filter.TeacherID != "" && crs.TeacherID != filter.TeacherID {
		return false
	}
	return true
}

func orderCourses(courses []course.Course, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
	}
	ord := ordering[0]
	sort.SliceStable(courses, func(i, j int) bool {
		var less bool
		switch ord.Field {
		case "title":
			less = courses[i].Title < courses[j].Title
		case "level":
			less = courses[i].Level < courses[j].Level
		default:
			less = courses[i].CreatedAt.Before(courses[j].CreatedAt)
		}
		if ord.Ascending {
			return less
		}
		return !less
	})
}

func (repo *CourseRepository) UpdateCourse(_ context.Context, crs course.Course) (course.Course, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.courses[crs.ID]; !ok {
		return course.Course{}, course.ErrNotFound
	}
	repo.courses[crs.ID] = crs
	return crs, nil
}

func (repo *CourseRepository) DeleteCoursesByID(_ context.Context, ids ...string) (int, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	var n int
	for _, id := range ids {
		if _, ok := repo.courses[id]; ok {
			delete(repo.courses, id)
			n++
		}
	}
	return n, nil
}

func (repo *CourseRepository) CreateLesson(_ context.Context, les course.Lesson) (course.Lesson, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if les.ID == "" {
		les.ID = newID()
	}
	repo.lessons[les.ID] = les
	return les, nil
}

func (repo *CourseRepository) GetLesson(_ context.Context, id string) (course.Lesson, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	les, ok := repo.lessons[id]
	if !ok {
		return course.Lesson{}, course.ErrNotFound
	}
	return les, nil
}

func (repo *CourseRepository) QueryLessonsByCourse(_ context.Context, courseID string) ([]course.Lesson, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var lessons []course.Lesson
	for _, les := range repo.lessons {
		if les.CourseID == courseID {
			lessons = append(lessons, les)
		}
	}
	sort.SliceStable(lessons, func(i, j int) bool { return lessons[i].Position < lessons[j].Position })
	return lessons, nil
}

func (repo *CourseRepository) CountLessonsByCourse(_ context.Context, courseID string) (int, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var n int
	for _, les := range repo.lessons {
		if les.CourseID == courseID {
			n++
		}
	}
	return n, nil
}

func (repo *CourseRepository) CreateQuiz(_ context.Context, qz course.Quiz) (course.Quiz, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if qz.ID == "" {
		qz.ID = newID()
	}
	for i := range qz.Questions {
		if qz.Questions[i].ID == "" {
			qz.Questions[i].ID = newID()
		}
		qz.Questions[i].QuizID = qz.ID
	}
	repo.quizzes[qz.ID] = qz
	return qz, nil
}

func (repo *CourseRepository) GetQuiz(_ context.Context, id string) (course.Quiz, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	qz, ok := repo.quizzes[id]
	if !ok {
		return course.Quiz{}, course.ErrNotFound
	}
	return qz, nil
}

func (repo *CourseRepository) GetQuizByLesson(_ context.Context, lessonID string) (course.Quiz, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	for _, qz := range repo.quizzes {
		if qz.LessonID == lessonID {
			return qz, nil
		}
	}
	return course.Quiz{}, course.ErrNotFound
}

func (repo *CourseRepository) CreateEnrollment(_ context.Context, enr course.Enrollment) (course.Enrollment, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if enr.ID == "" {
		enr.ID = newID()
	}
	repo.enrollments[key(enr.UserID, enr.CourseID)] = enr
	return enr, nil
}

func (repo *CourseRepository) GetEnrollment(_ context.Context, userID, courseID string) (course.Enrollment, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	enr, ok := repo.enrollments[key(userID, courseID)]
	if !ok {
		return course.Enrollment{}, course.ErrNotFound
	}
	return enr, nil
}

func (repo *CourseRepository) QueryEnrollmentsByUser(_ context.Context, userID string) ([]course.Enrollment, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var enrs []course.Enrollment
	for _, enr := range repo.enrollments {
		if enr.UserID == userID {
			enrs = append(enrs, enr)
		}
	}
	sort.SliceStable(enrs, func(i, j int) bool { return enrs[i].EnrolledAt.Before(enrs[j].EnrolledAt) })
	return enrs, nil
}

func (repo *CourseRepository) CompleteEnrollment(_ context.Context, id string, completedAt time.Time) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for k, enr := range repo.enrollments {
		if enr.ID == id {
			enr.CompletedAt = completedAt
			repo.enrollments[k] = enr
			return nil
		}
	}
	return course.ErrNotFound
}

func (repo *CourseRepository) CreateLessonProgress(_ context.Context, prg course.LessonProgress) (course.LessonProgress, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	k := key(prg.UserID, prg.LessonID)
	if existing, ok := repo.progress[k]; ok {
		return existing, course.ErrProgressExists
	}
	if prg.ID == "" {
		prg.ID = newID()
	}
	repo.progress[k] = prg
	return prg, nil
}

func (repo *CourseRepository) CountLessonProgressByCourse(_ context.Context, userID, courseID string) (int, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var n int
	for _, prg := range repo.progress {
		if prg.UserID == userID && prg.CourseID == courseID {
			n++
		}
	}
	return n, nil
}

func (repo *CourseRepository) QueryLessonProgressByUser(_ context.Context, userID string) ([]course.LessonProgress, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var prgs []course.LessonProgress
	for _, prg := range repo.progress {
		if prg.UserID == userID {
			prgs = append(prgs, prg)
		}
	}
	sort.SliceStable(prgs, func(i, j int) bool { return prgs[i].CompletedAt.Before(prgs[j].CompletedAt) })
	return prgs, nil
}

func (repo *CourseRepository) CreateQuizAttempt(_ context.Context, att course.QuizAttempt) (course.QuizAttempt, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if att.ID == "" {
		att.ID = newID()
	}
	k := key(att.UserID, att.QuizID)
	repo.attempts[k] = append(repo.attempts[k], att)
	return att, nil
}

func (repo *CourseRepository) QueryQuizAttempts(_ context.Context, userID, quizID string) ([]course.QuizAttempt, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	atts := repo.attempts[key(userID, quizID)]
	out := make([]course.QuizAttempt, len(atts))
	copy(out, atts)
	return out, nil
}

func (repo *CourseRepository) CountCompletedCourses(_ context.Context, userID string) (int, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var n int
	for _, enr := range repo.enrollments {
		if enr.UserID == userID && enr.Completed() {
			n++
		}
	}
	return n, nil
}

func (repo *CourseRepository) CountCompletedLessons(_ context.Context, userID string) (int, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	var n int
	for _, prg := range repo.progress {
		if prg.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (repo *CourseRepository) CountPassedQuizzes(_ context.Context, userID string) (int, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	passed := make(map[string]bool)
	for k, atts := range repo.attempts {
		if !strings.HasPrefix(k, userID+"|") {
			continue
		}
		for _, att := range atts {
			if att.Passed {
				passed[att.QuizID] = true
			}
		}
	}
	return len(passed), nil
}

func (repo *CourseRepository) ActivityCounts(_ context.Context, activity string, since time.Time) (map[string]int, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	counts := make(map[string]int)
	switch activity {
	case "courses_completed":
		for _, enr := range repo.enrollments {
			if enr.Completed() && !enr.CompletedAt.Before(since) {
				counts[enr.UserID]++
			}
		}
	case "lessons_completed":
		for _, prg := range repo.progress {
			if !prg.CompletedAt.Before(since) {
				counts[prg.UserID]++
			}
		}
	case "quizzes_passed":
		for _, atts := range repo.attempts {
			for _, att := range atts {
				if att.Passed && !att.CompletedAt.Before(since) {
					counts[att.UserID]++
					break // one pass per quiz
				}
			}
		}
	}
	return counts, nil
}
