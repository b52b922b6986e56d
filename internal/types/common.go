package types

import (
	"strconv"
	"strings"
)

// LogLevel orders log verbosity; a logger set to a level prints that level
// and every lower one.
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelCritical
	LogLevelError
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
)

var logLevelNames = [...]string{"NONE", "CRITICAL", "ERROR", "WARNING", "INFO", "DEBUG"}

func (l LogLevel) String() string {
	if l < LogLevelNone || l > LogLevelDebug {
		return "UNKNOWN"
	}
	return logLevelNames[l]
}

// ParseLogLevel accepts a level name in any case, "warn", or the numeric
// form 0-5 as written in router.conf. Anything else is INFO.
func ParseLogLevel(s string) LogLevel {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARN" {
		return LogLevelWarning
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n >= int(LogLevelNone) && n <= int(LogLevelDebug) {
			return LogLevel(n)
		}
		return LogLevelInfo
	}
	for i, name := range logLevelNames {
		if name == s {
			return LogLevel(i)
		}
	}
	return LogLevelInfo
}
