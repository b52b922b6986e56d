// Package input reads operator answers from a terminal without blocking
// past context cancellation.
package input

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrInputAborted means the operator interrupted the prompt (Ctrl+C) or
// stdin was closed.
var ErrInputAborted = errors.New("input aborted")

// Messages of read errors seen once main closes stdin on a signal.
var closedMarkers = []string{"use of closed file", "bad file descriptor", "file already closed"}

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
		return ErrInputAborted
	}
	msg := strings.ToLower(err.Error())
	for _, m := range closedMarkers {
		if strings.Contains(msg, m) {
			return ErrInputAborted
		}
	}
	return err
}

type lineRead struct {
	text string
	err  error
}

// ReadLine returns the next line from r, newline included. A final line
// without newline is returned as is. When ctx ends first the result is
// ErrInputAborted, or context.DeadlineExceeded for an expired deadline; the
// pending read is abandoned.
func ReadLine(ctx context.Context, r *bufio.Reader) (string, error) {
	got := make(chan lineRead, 1)
	go func() {
		text, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) && text != "" {
			err = nil
		}
		got <- lineRead{text, classify(err)}
	}()

	select {
	case lr := <-got:
		return lr.text, lr.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", ctx.Err()
		}
		return "", ErrInputAborted
	}
}

var answers = map[string]bool{"y": true, "yes": true, "n": false, "no": false}

// ParseYesNo interprets answer. Empty answers take defaultYes; ok is false
// for anything that is not a recognised yes or no.
func ParseYesNo(answer string, defaultYes bool) (yes, ok bool) {
	a := strings.ToLower(strings.TrimSpace(answer))
	if a == "" {
		return defaultYes, true
	}
	yes, ok = answers[a]
	return yes, ok
}

// Confirm asks question on out until an answer in r parses.
func Confirm(ctx context.Context, r *bufio.Reader, out io.Writer, question string, defaultYes bool) (bool, error) {
	if question = strings.TrimSpace(question); question == "" {
		question = "Proceed?"
	}
	prompt := question + " [y/N] "
	if defaultYes {
		prompt = question + " [Y/n] "
	}
	for {
		io.WriteString(out, prompt)
		line, err := ReadLine(ctx, r)
		if err != nil {
			fmt.Fprintln(out)
			return false, err
		}
		if yes, ok := ParseYesNo(line, defaultYes); ok {
			return yes, nil
		}
		fmt.Fprintln(out, "Please answer yes or no.")
	}
}
