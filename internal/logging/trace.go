package logging

import (
	"fmt"
	"time"
)

var traceNow = time.Now

type trace struct {
	logger    *Logger
	operation string
	started   time.Time
}

func (t trace) end(err error) {
	elapsed := traceNow().Sub(t.started).Round(time.Millisecond)
	if err != nil {
		t.logger.Debug("%s: failed after %s: %v", t.operation, elapsed, err)
		return
	}
	t.logger.Debug("%s: done in %s", t.operation, elapsed)
}

// DebugStart logs the start of operation at debug level and returns the
// function that logs its end. Pass the operation's error, or nil.
//
//	done := logging.DebugStart(logger, "snapshot capture", "dir=%s", dir)
//	defer func() { done(err) }()
func DebugStart(logger *Logger, operation string, format string, args ...interface{}) func(error) {
	if logger == nil {
		return func(error) {}
	}
	DebugStep(logger, operation, "begin "+format, args...)
	return trace{logger: logger, operation: operation, started: traceNow()}.end
}

// DebugStep logs one progress line of operation at debug level.
func DebugStep(logger *Logger, operation string, format string, args ...interface{}) {
	if logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if operation != "" {
		msg = operation + ": " + msg
	}
	logger.Debug("%s", msg)
}
