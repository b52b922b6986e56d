package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/tis24dev/routeguard/internal/types"
)

type early struct {
	level types.LogLevel
	text  string
	// banner lines go to the log file only on replay
	banner bool
}

// BootstrapLogger is used before the settings document is read. It prints
// what the operator must see at once and keeps everything so Flush can
// replay it into the configured Logger.
type BootstrapLogger struct {
	mu      sync.Mutex
	out     io.Writer
	errOut  io.Writer
	pending []early
	done    bool
	replay  types.LogLevel
}

// NewBootstrapLogger returns a BootstrapLogger that replays info and above.
func NewBootstrapLogger() *BootstrapLogger {
	return &BootstrapLogger{out: os.Stdout, errOut: os.Stderr, replay: types.LogLevelInfo}
}

// SetLevel sets the most verbose level Flush replays.
func (b *BootstrapLogger) SetLevel(level types.LogLevel) {
	b.mu.Lock()
	b.replay = level
	b.mu.Unlock()
}

func (b *BootstrapLogger) keep(e early, w io.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w != nil {
		fmt.Fprintln(w, e.text)
	}
	if !b.done {
		b.pending = append(b.pending, e)
	}
}

// Println prints a banner line.
func (b *BootstrapLogger) Println(message string) {
	b.keep(early{level: types.LogLevelInfo, text: message, banner: true}, b.out)
}

// Debug keeps message for replay without printing it.
func (b *BootstrapLogger) Debug(format string, args ...interface{}) {
	b.keep(early{level: types.LogLevelDebug, text: fmt.Sprintf(format, args...)}, nil)
}

func (b *BootstrapLogger) Info(format string, args ...interface{}) {
	b.keep(early{level: types.LogLevelInfo, text: fmt.Sprintf(format, args...)}, b.out)
}

// Warning prints to stderr.
func (b *BootstrapLogger) Warning(format string, args ...interface{}) {
	b.keep(early{level: types.LogLevelWarning, text: strings.TrimRight(fmt.Sprintf(format, args...), "\n")}, b.errOut)
}

// Error prints to stderr.
func (b *BootstrapLogger) Error(format string, args ...interface{}) {
	b.keep(early{level: types.LogLevelError, text: strings.TrimRight(fmt.Sprintf(format, args...), "\n")}, b.errOut)
}

// Flush replays kept lines into logger. Lines already shown on the console
// are written to the log file only, so the operator does not see them
// twice. Only the first call with a non-nil logger has an effect.
func (b *BootstrapLogger) Flush(logger *Logger) {
	if logger == nil {
		return
	}
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	pending, replay := b.pending, b.replay
	b.pending, b.done = nil, true
	b.mu.Unlock()

	for _, e := range pending {
		switch {
		case e.banner:
			logger.AppendRaw(e.text)
		case e.level > replay:
		case e.level == types.LogLevelDebug:
			logger.Debug("%s", e.text)
		default:
			logger.record(e.level, e.text)
		}
	}
}
