package logger

import "log/slog"

// CronLogger adapts Logger to the robfig/cron Logger interface.
type CronLogger struct {
	log *Logger
}

// NewCronLogger returns a cron logger that writes through l.
func NewCronLogger(l *Logger) *CronLogger {
	return &CronLogger{log: l.WithComponent("cron")}
}

// Info logs routine scheduler messages at debug level; cron is noisy.
func (c *CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, keysAndValues...)
}

// Error logs scheduler errors, including recovered job panics.
func (c *CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{slog.String("error", err.Error())}, keysAndValues...)
	c.log.Error(msg, args...)
}
