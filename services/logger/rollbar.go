package logger

import (
	"os"

	"github.com/rollbar/rollbar-go"
	rollbarErrors "github.com/rollbar/rollbar-go/errors"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
)

type rollbarLogger struct {
	enabled  bool
	fallback *stdLogger
}

var _ core.Logger = (*rollbarLogger)(nil)

// NewRollbarLogger reports warnings and errors to Rollbar and mirrors
// everything to stderr.
func NewRollbarLogger(prefix string) *rollbarLogger {
	rollbar.SetToken(core.Conf.RollbarToken)
	rollbar.SetEnvironment(core.Conf.Env)
	rollbar.SetCodeVersion(core.Conf.Build)
	if host, err := os.Hostname(); err == nil {
		rollbar.SetServerHost(host)
	}
	// unwrap pkg/errors chains into Rollbar traces
	rollbar.SetStackTracer(rollbarErrors.StackTracer)

	return &rollbarLogger{enabled: true, fallback: NewStdLogger(prefix)}
}

func (l *rollbarLogger) Enable(enabled bool) {
	l.enabled = enabled
	l.fallback.Enable(enabled)
}

func (l *rollbarLogger) Debug(msg string, args ...interface{}) {
	l.fallback.Debug(msg, args...)
}

func (l *rollbarLogger) Info(msg string, args ...interface{}) {
	l.fallback.Info(msg, args...)
}

func (l *rollbarLogger) Warn(msg string, args ...interface{}) {
	l.fallback.Warn(msg, args...)
	if l.enabled {
		rollbar.Warning(format(msg, args...))
	}
}

func (l *rollbarLogger) Error(msg string, args ...interface{}) {
	l.fallback.Error(msg, args...)
	if l.enabled {
		if err := firstError(args); err != nil {
			rollbar.Error(err, format(msg, args...))
		} else {
			rollbar.Error(format(msg, args...))
		}
	}
}

func (l *rollbarLogger) Fatal(msg string, args ...interface{}) {
	if l.enabled {
		rollbar.Critical(format(msg, args...))
		rollbar.Wait()
	}
	l.fallback.Fatal(msg, args...)
}

func firstError(args []interface{}) error {
	for _, arg := range args {
		if err, ok := arg.(error); ok {
			return err
		}
	}
	return nil
}
