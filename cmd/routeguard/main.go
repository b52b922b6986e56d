package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/tis24dev/routeguard"
	"github.com/tis24dev/routeguard/internal/cli"
	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/tui"
	"github.com/tis24dev/routeguard/internal/types"
	"github.com/tis24dev/routeguard/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	bootstrap := logging.NewBootstrapLogger()

	defer func() {
		if r := recover(); r != nil {
			bootstrap.Error("PANIC: %v", r)
			fmt.Fprintf(os.Stderr, "panic: %v\n%s\n", r, debug.Stack())
			os.Exit(types.ExitPanic.Int())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	release := context.AfterFunc(ctx, func() {
		// a second signal kills the process
		stop()
		bootstrap.Warning("\nInterrupted, stopping after the current step...")
		// unblocks a pending confirmation prompt
		os.Stdin.Close()
	})
	defer release()
	tui.SetAbortContext(ctx)

	env := &cli.Env{
		Version:   version.Full(),
		Guide:     routeguard.RecoveryGuide(),
		Bootstrap: bootstrap,
	}
	return cli.Execute(ctx, env, os.Args[1:]).Int()
}
