package log

import (
	"fmt"
	"strings"
)

// CronLogger satisfies robfig/cron's Logger interface so scheduler
// diagnostics end up in the same stream as everything else.
type CronLogger struct{}

func (CronLogger) Info(msg string, keysAndValues ...interface{}) {
	Debug("cron: "+msg, keysAndValues...)
}

func (CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	Error("cron: "+msg, err, keysAndValues...)
}

// GooseLogger satisfies goose.Logger for migration output.
type GooseLogger struct{}

func (GooseLogger) Printf(format string, v ...interface{}) {
	Info("migrate: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (GooseLogger) Fatalf(format string, v ...interface{}) {
	// goose calls Fatalf on unrecoverable migration errors; the error is also
	// returned to the caller, so we log instead of exiting.
	Error("migrate: fatal", fmt.Errorf(format, v...))
}
