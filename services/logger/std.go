// Package logger provides core.Logger implementations.
package logger

import (
	"fmt"
	"os"

	"github.com/labstack/gommon/log"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
)

type stdLogger struct {
	enabled bool
	log     *log.Logger
}

var _ core.Logger = (*stdLogger)(nil)

// NewStdLogger logs structured key/value pairs to stderr.
func NewStdLogger(prefix string) *stdLogger {
	l := log.New(prefix)
	l.SetOutput(os.Stderr)
	l.SetHeader(`${time_rfc3339} ${level} ${prefix}`)
	return &stdLogger{enabled: true, log: l}
}

func (l *stdLogger) Enable(enabled bool) { l.enabled = enabled }

func format(msg string, args ...interface{}) string {
	if len(args) == 0 {
		return msg
	}
	out := msg
	for i := 0; i+1 < len(args); i += 2 {
		out += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	if len(args)%2 != 0 {
		out += fmt.Sprintf(" %v", args[len(args)-1])
	}
	return out
}

func (l *stdLogger) Debug(msg string, args ...interface{}) {
	if l.enabled {
		l.log.Debug(format(msg, args...))
	}
}

func (l *stdLogger) Info(msg string, args ...interface{}) {
	if l.enabled {
		l.log.Info(format(msg, args...))
	}
}

func (l *stdLogger) Warn(msg string, args ...interface{}) {
	if l.enabled {
		l.log.Warn(format(msg, args...))
	}
}

func (l *stdLogger) Error(msg string, args ...interface{}) {
	if l.enabled {
		l.log.Error(format(msg, args...))
	}
}

func (l *stdLogger) Fatal(msg string, args ...interface{}) {
	l.log.Fatal(format(msg, args...))
}
