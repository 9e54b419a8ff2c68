package util

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// CronLogger adapts slog to the cron package's logger.
type CronLogger struct {
	inner *slog.Logger
}

func (l CronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Debug(msg, keysAndValues...)
}

func (l CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.inner.Error(msg, append(keysAndValues, "err", err)...)
}

// NewCron returns a scheduler which recovers from panicking jobs and skips a
// run while the previous one is still going.
func NewCron(logger *slog.Logger) *cron.Cron {
	if logger == nil {
		logger = slog.Default()
	}
	cl := CronLogger{inner: logger}
	return cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}
