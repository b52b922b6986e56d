package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/tis24dev/routeguard/internal/checks"
	"github.com/tis24dev/routeguard/internal/orchestrator"
	"github.com/tis24dev/routeguard/internal/tui/wizard"
)

func (rt *runtime) pipeline(ctx context.Context, verb string, assumeYes bool) error {
	o := rt.orchestrator(assumeYes)
	var (
		run *orchestrator.PipelineRun
		err error
	)
	switch verb {
	case orchestrator.VerbInstall:
		run, err = o.Install(ctx)
	case orchestrator.VerbUpgrade:
		run, err = o.Upgrade(ctx)
	default:
		return fmt.Errorf("unknown verb %q", verb)
	}
	switch {
	case errors.Is(err, orchestrator.ErrDeclined):
		fmt.Fprintf(rt.env.Stdout, "%s cancelled; nothing was changed.\n", verb)
		return err
	case errors.Is(err, orchestrator.ErrConfirmationRequired):
		return fmt.Errorf("%w: rerun with --yes or set orchestrator.non_interactive", err)
	}
	rt.printer.Run(run)
	return err
}

func (rt *runtime) restore(ctx context.Context) error {
	res, err := rt.orchestrator(true).Restore(ctx)
	if res != nil {
		state := "reachable"
		if !res.Reachable {
			state = "UNREACHABLE"
		}
		fmt.Fprintf(rt.env.Stdout, "Snapshot %s reapplied; %s %s after %d attempt(s).\n", res.Snapshot.Name(), rt.cfg.HealthCheck.TargetHost, state, len(res.Attempts))
		if res.RestoreErr != nil {
			fmt.Fprintf(rt.env.Stdout, "  restore incomplete: %v\n", res.RestoreErr)
		}
	}
	return err
}

func (rt *runtime) rollback(ctx context.Context) error {
	report, err := rt.orchestrator(true).Rollback(ctx)
	if err == nil && report == nil {
		fmt.Fprintln(rt.env.Stdout, "No backup found; nothing to roll back.")
		return nil
	}
	if report != nil {
		fmt.Fprintf(rt.env.Stdout, "Rollback to %s: %s\n", report.Snapshot, report.Outcome)
		for _, f := range report.RestoreFailures() {
			fmt.Fprintf(rt.env.Stdout, "  not restored: %s\n", f)
		}
		rt.printer.Rollback(report)
	}
	return err
}

func (rt *runtime) status(ctx context.Context) error {
	report, err := rt.orchestrator(true).Status(ctx)
	if err != nil {
		return err
	}
	rt.printer.Status(report)
	return nil
}

func (rt *runtime) test(ctx context.Context) error {
	report, err := rt.orchestrator(true).Test(ctx)
	if report != nil {
		rt.printer.Test(report)
	}
	return err
}

func (rt *runtime) diagnose(ctx context.Context) error {
	checker := checks.NewChecker(rt.logger, &checks.CheckerConfig{
		Config:         rt.cfg,
		InterfacesPath: rt.opts.InterfacesPath,
		Root:           rt.env.Root,
	})
	if rt.env.LookPath != nil {
		checker.SetLookPath(rt.env.LookPath)
	}
	results, err := checker.RunAllChecks(ctx)
	for _, r := range results {
		mark := "ok"
		if !r.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(rt.env.Stdout, "%-4s %-14s %s\n", mark, r.Name, r.Message)
		if !r.Passed {
			for _, d := range r.Details {
				fmt.Fprintf(rt.env.Stdout, "       %s\n", d)
			}
		}
	}
	return err
}

// hostState summarises a status report for the wizard.
func hostState(r *orchestrator.StatusReport) wizard.HostState {
	s := wizard.HostState{
		SafeModeActive: r.SafeMode.Active,
		ChainTotal:     len(r.Services),
		HasSnapshot:    len(r.Snapshots) > 0,
		Interrupted:    len(r.Interrupted) > 0,
	}
	for _, u := range r.Services {
		if u.Active {
			s.ChainActive++
		}
	}
	return s
}

func (rt *runtime) wizard(ctx context.Context) error {
	report, err := rt.orchestrator(true).Status(ctx)
	if err != nil {
		return err
	}
	res, err := rt.env.Wizard(ctx, hostState(report), rt.env.Version)
	if err != nil {
		return err
	}
	rt.logger.Debug("Wizard chose %q (confirmed=%t)", res.Action, res.Confirmed)
	switch res.Action {
	case wizard.ActionNone:
		return nil
	case wizard.ActionInstall:
		return rt.pipeline(ctx, orchestrator.VerbInstall, res.Confirmed || rt.opts.Yes)
	case wizard.ActionUpgrade:
		return rt.pipeline(ctx, orchestrator.VerbUpgrade, res.Confirmed || rt.opts.Yes)
	case wizard.ActionRestore:
		return rt.restore(ctx)
	case wizard.ActionRollback:
		return rt.rollback(ctx)
	case wizard.ActionStatus:
		rt.printer.Status(report)
		return nil
	case wizard.ActionTest:
		return rt.test(ctx)
	case wizard.ActionDiagnose:
		return rt.diagnose(ctx)
	}
	return fmt.Errorf("wizard returned unknown action %q", res.Action)
}
