package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/course"
)

type courseAPI struct {
	svc course.ServiceInterface
}

func registerCourseAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc course.ServiceInterface) {
	api := courseAPI{svc: svc}

	cg := g.Group("/courses", jwt)
	cg.GET("", api.query)
	cg.POST("", api.create, teacherMiddleware())
	cg.GET("/dashboard", api.dashboard, studentMiddleware())
	cg.GET("/:id", api.get)
	cg.PATCH("/:id", api.update, teacherMiddleware())
	cg.DELETE("/:id", api.delete, adminMiddleware())
	cg.POST("/:id/enroll", api.enroll, studentMiddleware())
	cg.GET("/:id/lessons", api.lessons)

	lg := g.Group("/lessons", jwt)
	lg.POST("", api.addLesson, teacherMiddleware())
	lg.POST("/:id/complete", api.completeLesson, studentMiddleware())
	lg.GET("/:id/quiz", api.lessonQuiz)

	qg := g.Group("/quizzes", jwt)
	qg.POST("", api.addQuiz, teacherMiddleware())
	qg.GET("/:id", api.getQuiz)
	qg.POST("/:id/submit", api.submitQuiz, studentMiddleware())
	qg.GET("/:id/attempts", api.quizAttempts, studentMiddleware())
}

func (api *courseAPI) query(c echo.Context) error {
	var filter course.QueryFilter
	if err := c.Bind(&filter); err != nil {
		return err
	}
	filter.Clean()

	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	// students only see published courses
	if !claims.isAdmin() && !claims.isTeacher() {
		filter.Status = course.StatusPublished
	}

	courses, err := api.svc.Query(c.Request().Context(), &filter, bindOrdering(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, courses)
}

func (api *courseAPI) create(c echo.Context) error {
	var nc course.NewCourse
	if err := c.Bind(&nc); err != nil {
		return err
	}
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	if nc.TeacherID == "" || !claims.isAdmin() {
		nc.TeacherID = claims.Subject
	}
	if err = nc.Validate(); err != nil {
		return err
	}

	crs, err := api.svc.Create(c.Request().Context(), nc)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, crs)
}

func (api *courseAPI) get(c echo.Context) error {
	crs, err := api.svc.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, crs)
}

func (api *courseAPI) update(c echo.Context) error {
	var uc course.UpdateCourse
	if err := c.Bind(&uc); err != nil {
		return err
	}

	ctx := c.Request().Context()
	orig, err := api.svc.GetByID(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	// teachers may only edit their own courses
	if !claims.isAdmin() && orig.TeacherID != claims.Subject {
		return errPermissionDenied
	}
	if err = uc.Validate(orig); err != nil {
		return err
	}

	crs, err := api.svc.Update(ctx, orig.ID, uc)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, crs)
}

func (api *courseAPI) delete(c echo.Context) error {
	if err := api.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (api *courseAPI) enroll(c echo.Context) error {
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	enr, err := api.svc.Enroll(c.Request().Context(), claims.Subject, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, enr)
}

func (api *courseAPI) lessons(c echo.Context) error {
	lessons, err := api.svc.Lessons(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lessons)
}

func (api *courseAPI) dashboard(c echo.Context) error {
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	progress, err := api.svc.Dashboard(c.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, progress)
}

func (api *courseAPI) addLesson(c echo.Context) error {
	var nl course.NewLesson
	if err := c.Bind(&nl); err != nil {
		return err
	}
	if err := nl.Validate(); err != nil {
		return err
	}

	les, err := api.svc.AddLesson(c.Request().Context(), nl)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, les)
}

func (api *courseAPI) completeLesson(c echo.Context) error {
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	prg, err := api.svc.CompleteLesson(c.Request().Context(), claims.Subject, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, prg)
}

func (api *courseAPI) lessonQuiz(c echo.Context) error {
	qz, err := api.svc.GetLessonQuiz(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, qz)
}

func (api *courseAPI) addQuiz(c echo.Context) error {
	var nq course.NewQuiz
	if err := c.Bind(&nq); err != nil {
		return err
	}
	if err := nq.Validate(); err != nil {
		return err
	}

	qz, err := api.svc.AddQuiz(c.Request().Context(), nq)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, qz)
}

func (api *courseAPI) getQuiz(c echo.Context) error {
	qz, err := api.svc.GetQuiz(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, qz)
}

func (api *courseAPI) submitQuiz(c echo.Context) error {
	var sub course.QuizSubmission
	if err := c.Bind(&sub); err != nil {
		return err
	}
	if err := sub.Validate(); err != nil {
		return err
	}
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}

	att, err := api.svc.SubmitQuiz(c.Request().Context(), claims.Subject, c.Param("id"), sub)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, att)
}

func (api *courseAPI) quizAttempts(c echo.Context) error {
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	atts, err := api.svc.QuizAttempts(c.Request().Context(), claims.Subject, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, atts)
}
