package logger

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
)

type cronLogger struct {
	l *slog.Logger
}

// CronLogger adapts the global logger to cron.Logger.
func CronLogger() cron.Logger {
	return cronLogger{l: Get().With("component", "cron")}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

type asynqLogger struct {
	l *slog.Logger
}

// AsynqLogger adapts the global logger to asynq.Logger.
func AsynqLogger() asynq.Logger {
	return asynqLogger{l: Get().With("component", "asynq")}
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error(fmt.Sprint(args...)) }

func (a asynqLogger) Fatal(args ...interface{}) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
