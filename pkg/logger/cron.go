package logger

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// CronLogger adapts a slog logger to the cron.Logger interface. Info messages
// from cron are noisy (every schedule tick) so they are emitted at debug.
func CronLogger(l *slog.Logger) cron.Logger {
	if l == nil {
		l = Named("cron")
	}
	return cronLogger{l: l}
}

type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
