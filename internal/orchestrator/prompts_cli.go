package orchestrator

import (
	"bufio"
	"context"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/tis24dev/routeguard/internal/input"
)

type consolePrompter struct {
	reader *bufio.Reader
	out    io.Writer
	isTTY  func() bool
}

func newConsolePrompter(in *os.File, out io.Writer) *consolePrompter {
	return &consolePrompter{
		reader: bufio.NewReader(in),
		out:    out,
		isTTY:  func() bool { return term.IsTerminal(int(in.Fd())) },
	}
}

// Confirm asks question on the console.
// Without a terminal on stdin it refuses with ErrConfirmationRequired.
func (p *consolePrompter) Confirm(ctx context.Context, question string, defaultYes bool) (bool, error) {
	if p.isTTY != nil && !p.isTTY() {
		return false, ErrConfirmationRequired
	}
	return input.Confirm(ctx, p.reader, p.out, question, defaultYes)
}
