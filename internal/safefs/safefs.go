// Package safefs bounds filesystem calls that can hang on a wedged mount,
// so a snapshot or diagnose run never blocks forever on one path.
package safefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"time"
)

// DefaultTimeout bounds a single call when callers have no better value.
const DefaultTimeout = 5 * time.Second

// Replaced in tests.
var (
	osStat        = os.Stat
	osReadDir     = os.ReadDir
	syscallStatfs = syscall.Statfs
)

// ErrTimeout classifies calls that did not return in time.
var ErrTimeout = errors.New("filesystem operation timed out")

// TimeoutError names the call that was abandoned. The underlying syscall
// keeps running in its goroutine until the kernel returns.
type TimeoutError struct {
	Op      string
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: no answer within %s", e.Op, e.Path, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

type outcome[T any] struct {
	val T
	err error
}

// within waits for call at most timeout, or until ctx ends. A timeout of
// zero or less calls straight through.
func within[T any](ctx context.Context, timeout time.Duration, te *TimeoutError, call func() (T, error)) (T, error) {
	var none T
	if err := ctx.Err(); err != nil {
		return none, err
	}
	if timeout <= 0 {
		return call()
	}

	te.Timeout = timeout
	waitCtx, cancel := context.WithTimeoutCause(ctx, timeout, te)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := call()
		done <- outcome[T]{v, err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return none, err
		}
		return none, context.Cause(waitCtx)
	}
}

// Stat is os.Stat bounded by timeout.
func Stat(ctx context.Context, path string, timeout time.Duration) (fs.FileInfo, error) {
	return within(ctx, timeout, &TimeoutError{Op: "stat", Path: path}, func() (fs.FileInfo, error) {
		return osStat(path)
	})
}

// ReadDir is os.ReadDir bounded by timeout.
func ReadDir(ctx context.Context, path string, timeout time.Duration) ([]os.DirEntry, error) {
	return within(ctx, timeout, &TimeoutError{Op: "readdir", Path: path}, func() ([]os.DirEntry, error) {
		return osReadDir(path)
	})
}

// FreeBytes returns the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(ctx context.Context, path string, timeout time.Duration) (uint64, error) {
	return within(ctx, timeout, &TimeoutError{Op: "statfs", Path: path}, func() (uint64, error) {
		var st syscall.Statfs_t
		if err := syscallStatfs(path, &st); err != nil {
			return 0, err
		}
		return st.Bavail * uint64(st.Bsize), nil
	})
}
