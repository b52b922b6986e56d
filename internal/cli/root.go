// Package cli maps routeguard's command line onto orchestrator entry
// points: one verb per invocation, exit 0 on success and 1 otherwise.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/orchestrator"
	"github.com/tis24dev/routeguard/internal/system"
	"github.com/tis24dev/routeguard/internal/tui/wizard"
	"github.com/tis24dev/routeguard/internal/types"
)

// Options are the parsed flags.
type Options struct {
	ConfigPath     string
	InterfacesPath string
	LogLevel       string
	Yes            bool
	Target         string
	Timeout        int
	Retries        int

	Restore  bool
	Rollback bool
	Status   bool
	Test     bool
	Wizard   bool
	Diagnose bool
}

func (o *Options) flagVerbs() []string {
	var verbs []string
	for _, v := range []struct {
		set  bool
		name string
	}{
		{o.Restore, "--restore"},
		{o.Rollback, "--rollback"},
		{o.Status, "--status"},
		{o.Test, "--test"},
		{o.Wizard, "--wizard"},
		{o.Diagnose, "--diagnose"},
	} {
		if v.set {
			verbs = append(verbs, v.name)
		}
	}
	return verbs
}

// Env carries what the command line cannot: build info, the process
// streams and, in tests, replacements for host access.
type Env struct {
	Version   string
	Guide     string
	Stdout    io.Writer
	Bootstrap *logging.BootstrapLogger

	// Root prefixes every host path; "" means "/".
	Root     string
	Gateway  system.Gateway
	Prompter orchestrator.Prompter
	// Color forces styled output on or off; nil detects a terminal.
	Color    *bool
	LookPath func(string) (string, error)
	Wizard   func(ctx context.Context, state wizard.HostState, version string) (wizard.Result, error)
	// Fast drops settle and retry pauses.
	Fast bool
}

func (e *Env) withDefaults() *Env {
	out := *e
	if out.Stdout == nil {
		out.Stdout = os.Stdout
	}
	if out.Bootstrap == nil {
		out.Bootstrap = logging.NewBootstrapLogger()
	}
	if out.Wizard == nil {
		out.Wizard = wizard.Run
	}
	if out.Version == "" {
		out.Version = "dev"
	}
	return &out
}

func (e *Env) color() bool {
	if e.Color != nil {
		return *e.Color
	}
	if f, ok := e.Stdout.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

var errNoVerb = errors.New("no verb given")

// NewRootCommand builds the routeguard command tree.
func NewRootCommand(ctx context.Context, env *Env) *cobra.Command {
	env = env.withDefaults()
	opts := &Options{}

	root := &cobra.Command{
		Use:   "routeguard [install|upgrade] [--restore|--rollback|--status|--test|--wizard|--diagnose]",
		Short: "Guarded install and upgrade of the router services",
		Long: "routeguard installs or upgrades the routing, watchdog and web services one step at a time.\n" +
			"A snapshot is taken first and every risky step is followed by a connectivity check;\n" +
			"the first failed check rolls the host back to the snapshot.\n\n" +
			"Exit codes:\n" +
			"  0    success (connectivity confirmed where a verb checks it)\n" +
			"  1    any failure, including a declined confirmation or a rollback\n" +
			"  2    internal error (panic)\n" +
			"  130  interrupted by SIGINT/SIGTERM; the run is left as is, no rollback.\n" +
			"       Run `routeguard --rollback` to return to the snapshot.",
		Version:       env.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbs := opts.flagVerbs()
			switch len(verbs) {
			case 0:
				_ = cmd.Help()
				return errNoVerb
			case 1:
			default:
				return fmt.Errorf("one verb per invocation, got %s", strings.Join(verbs, " "))
			}
			rt, err := setup(ctx, env, opts)
			if err != nil {
				return err
			}
			defer rt.close()
			switch {
			case opts.Restore:
				return rt.restore(ctx)
			case opts.Rollback:
				return rt.rollback(ctx)
			case opts.Status:
				return rt.status(ctx)
			case opts.Test:
				return rt.test(ctx)
			case opts.Wizard:
				return rt.wizard(ctx)
			default:
				return rt.diagnose(ctx)
			}
		},
	}
	root.SetOut(env.Stdout)
	root.SetErr(env.Stdout)
	root.SetVersionTemplate("routeguard {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "settings document (default "+defaultConfigPath+")")
	pf.StringVar(&opts.InterfacesPath, "interfaces", "", "interface-definition document (default <project_root>/config/interfaces.json)")
	pf.StringVarP(&opts.LogLevel, "log-level", "l", "", "debug|info|warning|error|critical (default from settings)")
	pf.BoolVarP(&opts.Yes, "yes", "y", false, "skip the confirmation of install and upgrade")
	pf.StringVar(&opts.Target, "target", "", "connectivity check target (overrides health_check.target_host)")
	pf.IntVar(&opts.Timeout, "timeout", 0, "seconds per connectivity attempt (overrides health_check.timeout_seconds)")
	pf.IntVar(&opts.Retries, "retries", 0, "connectivity attempts per check (overrides health_check.retry_count)")

	f := root.Flags()
	f.BoolVar(&opts.Restore, "restore", false, "reapply the latest snapshot and check connectivity")
	f.BoolVar(&opts.Rollback, "rollback", false, "stop and disable the service chain and return to the latest snapshot")
	f.BoolVar(&opts.Status, "status", false, "show services, routes, the last run and snapshots")
	f.BoolVar(&opts.Test, "test", false, "run the connectivity check and probe each WAN")
	f.BoolVar(&opts.Wizard, "wizard", false, "interactive menu")
	f.BoolVar(&opts.Diagnose, "diagnose", false, "check commands, directories, configuration and unit files")

	for _, verb := range []struct{ name, short string }{
		{orchestrator.VerbInstall, "Fresh install of the service chain"},
		{orchestrator.VerbUpgrade, "Replace safe mode with the service chain"},
	} {
		verb := verb
		root.AddCommand(&cobra.Command{
			Use:           verb.name,
			Short:         verb.short,
			Args:          cobra.NoArgs,
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				rt, err := setup(ctx, env, opts)
				if err != nil {
					return err
				}
				defer rt.close()
				return rt.pipeline(ctx, verb.name, opts.Yes)
			},
		})
	}
	return root
}

// Execute runs the command line args and returns the process exit code.
func Execute(ctx context.Context, env *Env, args []string) types.ExitCode {
	env = env.withDefaults()
	cmd := NewRootCommand(ctx, env)
	cmd.SetArgs(args)
	err := cmd.Execute()
	switch {
	case err == nil:
		return types.ExitSuccess
	case ctx.Err() != nil || errors.Is(err, orchestrator.ErrInterrupted):
		fmt.Fprintf(env.Stdout, "Interrupted: %v\nRun `routeguard --status` to inspect the host.\n", err)
		return types.ExitInterrupted
	default:
		if !errors.Is(err, errNoVerb) {
			fmt.Fprintf(env.Stdout, "Error: %v\n", err)
		}
		return types.ExitFailure
	}
}
