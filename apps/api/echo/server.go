// Package echoapi exposes the REST API.
package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/course"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/reward"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/user"
)

type Options struct {
	Addr      string
	Logger    core.Logger
	UserSvc   user.ServiceInterface
	CourseSvc course.ServiceInterface
	RewardSvc reward.ServiceInterface

	// SignalShutdown requests a graceful stop of the process when a handler
	// surfaces an unrecoverable error. Optional.
	SignalShutdown func()
}

type Server struct {
	echo *echo.Echo
	opts Options
}

func NewServer(opts Options) *Server {
	signalShutdown := opts.SignalShutdown
	if signalShutdown == nil {
		signalShutdown = func() {}
	}

	e := echo.New()
	e.HideBanner = true
	e.Debug = core.Conf.Debug
	e.HTTPErrorHandler = newAppHTTPErrorHandler(opts.Logger, signalShutdown)

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(
		middleware.Recover(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.CORS(),
		middleware.Secure(),
	)

	srv := &Server{echo: e, opts: opts}
	srv.appendRoutes()
	return srv
}

func (s *Server) appendRoutes() {
	v1 := s.echo.Group("/v1")
	jwt := jwtMiddleware(s.opts.UserSvc)

	registerAuthAPI(v1, jwt, s.opts.UserSvc)
	registerUserAPI(v1, jwt, s.opts.UserSvc)
	registerCourseAPI(v1, jwt, s.opts.CourseSvc)
	registerRewardAPI(v1, jwt, s.opts.RewardSvc)

	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status": "ok",
			"app":    core.Conf.AppName,
			"build":  core.Conf.Build,
		})
	})
}

func (s *Server) Start() error {
	err := s.echo.Start(s.opts.Addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP makes the server usable with httptest in handler tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
