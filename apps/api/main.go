package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	echoapi "github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/apps/api/echo"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/course"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/reward"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/user"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/services/email"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/services/logger"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/storage/database"
)

func main() {
	var log core.Logger
	if core.Conf.Debug || core.Conf.RollbarToken == "" {
		log = logger.NewStdLogger("api")
	} else {
		log = logger.NewRollbarLogger("api")
	}

	if err := run(log); err != nil {
		log.Fatal("api: startup failed", "error", err)
	}
}

func run(log core.Logger) error {
	db, err := database.Open(core.Conf.Database)
	if err != nil {
		return err
	}
	//goland:noinspection GoUnhandledErrorResult
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err = database.StatusCheck(ctx, db); err != nil {
		return err
	}
	if err = database.Migrate(db.DB); err != nil {
		return err
	}

	var mailSvc core.EmailService
	if core.Conf.Debug || core.Conf.SendgridApiKey == "" {
		mailSvc = email.NewConsoleService()
	} else {
		mailSvc = email.NewSendgridService(log)
	}

	userSvc := user.NewService(database.NewUserRepository(db), mailSvc)
	rewardSvc := reward.NewService(database.NewRewardRepository(db), nil)
	courseSvc := course.NewService(database.NewCourseRepository(db), rewardSvc)
	rewardSvc.SetStatsSource(courseSvc)

	// periodic leaderboard recomputation
	scheduler := gocron.NewScheduler(time.UTC)
	_, err = scheduler.Every(core.Conf.Server.RankingsRecomputeEvery).Do(func() {
		jobCtx, jobCancel := context.WithTimeout(context.Background(), time.Minute)
		defer jobCancel()
		if err := rewardSvc.UpdateAllRankings(jobCtx); err != nil {
			log.Error("api: updating rankings", "error", err)
		}
	})
	if err != nil {
		return err
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	srv := echoapi.NewServer(echoapi.Options{
		Addr:      core.Conf.Server.Addr,
		Logger:    log,
		UserSvc:   userSvc,
		CourseSvc: courseSvc,
		RewardSvc: rewardSvc,
		SignalShutdown: func() {
			select {
			case quit <- syscall.SIGTERM:
			default:
			}
		},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	log.Info("api: listening", "addr", core.Conf.Server.Addr, "env", core.Conf.Env)

	select {
	case err = <-errCh:
		return err
	case sig := <-quit:
		log.Info("api: shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
