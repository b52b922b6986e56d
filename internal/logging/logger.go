// Package logging is routeguard's levelled console logger with an optional
// plain-text log file mirror.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tis24dev/routeguard/internal/types"
)

const (
	ansiReset   = "\033[0m"
	ansiCyan    = "\033[36m"
	ansiGreen   = "\033[32m"
	ansiYellow  = "\033[33m"
	ansiRed     = "\033[31m"
	ansiBoldRed = "\033[1;31m"
	ansiBlue    = "\033[34m"
	ansiMagenta = "\033[35m"

	timeLayout = "2006-01-02 15:04:05"
)

// tag is the column printed after the timestamp.
type tag struct {
	text  string
	color string
}

var levelTags = map[types.LogLevel]tag{
	types.LogLevelDebug:    {"DEBUG", ansiCyan},
	types.LogLevelInfo:     {"INFO", ansiGreen},
	types.LogLevelWarning:  {"WARNING", ansiYellow},
	types.LogLevelError:    {"ERROR", ansiRed},
	types.LogLevelCritical: {"CRITICAL", ansiBoldRed},
}

// Pipeline labels. They log at info level.
var (
	tagPhase = tag{"PHASE", ansiBlue}
	tagStep  = tag{"STEP", ansiBlue}
	tagSkip  = tag{"SKIP", ansiMagenta}
	tagProbe = tag{"PROBE", ansiCyan}
)

// Logger writes levelled, timestamped lines to the console and, once
// OpenLogFile succeeded, the same lines without colour to a file.
type Logger struct {
	mu      sync.Mutex
	level   types.LogLevel
	color   bool
	console io.Writer
	file    *os.File
	now     func() time.Time
	exit    func(int)

	warnings atomic.Int64
	errors   atomic.Int64
}

// New creates a logger writing to stdout.
func New(level types.LogLevel, useColor bool) *Logger {
	return &Logger{
		level:   level,
		color:   useColor,
		console: os.Stdout,
		now:     time.Now,
		exit:    os.Exit,
	}
}

// SetOutput sets the console writer; nil means stdout.
func (l *Logger) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	l.mu.Lock()
	l.console = w
	l.mu.Unlock()
}

func (l *Logger) SetLevel(level types.LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) GetLevel() types.LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetExitFunc replaces os.Exit for Fatal; nil restores it.
func (l *Logger) SetExitFunc(fn func(int)) {
	if fn == nil {
		fn = os.Exit
	}
	l.mu.Lock()
	l.exit = fn
	l.mu.Unlock()
}

// OpenLogFile mirrors every following line to path. Writes are synchronous
// so the file keeps the run even when the SSH session drops mid-upgrade.
func (l *Logger) OpenLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0o600)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}
	l.mu.Lock()
	prev := l.file
	l.file = f
	l.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return nil
}

// CloseLogFile stops mirroring.
func (l *Logger) CloseLogFile() error {
	l.mu.Lock()
	f := l.file
	l.file = nil
	l.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func (l *Logger) emit(level types.LogLevel, t tag, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level {
		return
	}
	switch level {
	case types.LogLevelWarning:
		l.warnings.Add(1)
	case types.LogLevelError, types.LogLevelCritical:
		l.errors.Add(1)
	}

	stamp := l.now().Format(timeLayout)
	msg := fmt.Sprintf(format, args...)
	column := fmt.Sprintf("%-8s", t.text)
	if l.color && t.color != "" {
		fmt.Fprintf(l.console, "[%s] %s%s%s %s\n", stamp, t.color, column, ansiReset, msg)
	} else {
		fmt.Fprintf(l.console, "[%s] %s %s\n", stamp, column, msg)
	}
	if l.file != nil {
		fmt.Fprintf(l.file, "[%s] %s %s\n", stamp, column, msg)
	}
}

func (l *Logger) leveled(level types.LogLevel, format string, args ...interface{}) {
	l.emit(level, levelTags[level], format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.leveled(types.LogLevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.leveled(types.LogLevelInfo, format, args...)
}

// Phase marks a pipeline phase transition (snapshot, run, rollback).
func (l *Logger) Phase(format string, args ...interface{}) {
	l.emit(types.LogLevelInfo, tagPhase, format, args...)
}

// Step marks the start of a pipeline step.
func (l *Logger) Step(format string, args ...interface{}) {
	l.emit(types.LogLevelInfo, tagStep, format, args...)
}

// Skip marks something deliberately left alone.
func (l *Logger) Skip(format string, args ...interface{}) {
	l.emit(types.LogLevelInfo, tagSkip, format, args...)
}

// Probe reports a connectivity gate decision.
func (l *Logger) Probe(format string, args ...interface{}) {
	l.emit(types.LogLevelInfo, tagProbe, format, args...)
}

func (l *Logger) Warning(format string, args ...interface{}) {
	l.leveled(types.LogLevelWarning, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.leveled(types.LogLevelError, format, args...)
}

func (l *Logger) Critical(format string, args ...interface{}) {
	l.leveled(types.LogLevelCritical, format, args...)
}

// Fatal logs at critical level and exits with code.
func (l *Logger) Fatal(code types.ExitCode, format string, args ...interface{}) {
	l.Critical(format, args...)
	l.mu.Lock()
	exit := l.exit
	l.mu.Unlock()
	exit(code.Int())
}

// AppendRaw writes message to the log file only.
func (l *Logger) AppendRaw(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		fmt.Fprintf(l.file, "[%s] %-8s %s\n", l.now().Format(timeLayout), "INFO", message)
	}
}

// record writes a line to the log file only, counting it like emit does.
func (l *Logger) record(level types.LogLevel, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch level {
	case types.LogLevelWarning:
		l.warnings.Add(1)
	case types.LogLevelError, types.LogLevelCritical:
		l.errors.Add(1)
	}
	if l.file != nil {
		fmt.Fprintf(l.file, "[%s] %-8s %s\n", l.now().Format(timeLayout), levelTags[level].text, text)
	}
}

// WarningCount is the number of warnings logged so far.
func (l *Logger) WarningCount() int64 {
	if l == nil {
		return 0
	}
	return l.warnings.Load()
}

// ErrorCount is the number of error and critical lines logged so far.
func (l *Logger) ErrorCount() int64 {
	if l == nil {
		return 0
	}
	return l.errors.Load()
}

func (l *Logger) HasWarnings() bool { return l.WarningCount() > 0 }
func (l *Logger) HasErrors() bool   { return l.ErrorCount() > 0 }

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(types.LogLevelInfo, true)
)

// SetDefaultLogger replaces the package-level logger; nil is ignored.
func SetDefaultLogger(logger *Logger) {
	if logger == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
}

// GetDefaultLogger returns the package-level logger.
func GetDefaultLogger() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	l := New(types.LogLevelNone, false)
	l.console = io.Discard
	return l
}
