// Package orchestrator drives the guarded install and upgrade of the router
// services: snapshot, step, probe, and rollback when a probe fails.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tis24dev/routeguard/internal/config"
	"github.com/tis24dev/routeguard/internal/journal"
	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/metrics"
	"github.com/tis24dev/routeguard/internal/probe"
	"github.com/tis24dev/routeguard/internal/services"
	"github.com/tis24dev/routeguard/internal/snapshot"
	"github.com/tis24dev/routeguard/internal/system"
	"github.com/tis24dev/routeguard/internal/types"
)

// Orchestrator implements every operator verb.
type Orchestrator struct {
	cfg            *config.Config
	logger         *logging.Logger
	gw             system.Gateway
	prober         *probe.Prober
	snapshots      *snapshot.Manager
	services       *services.Controller
	catalog        *Catalog
	rollback       *RollbackController
	executor       *Executor
	store          RunStore
	metrics        MetricsExporter
	version        string
	prompter       Prompter
	out            io.Writer
	gate           probe.Spec
	interfacesPath string
	assumeYes      bool
}

// New wires an Orchestrator from deps.
func New(deps Deps) *Orchestrator {
	d := deps.withDefaults()
	cfg := d.Config
	logger := d.Logger

	prober := probe.New(d.Gateway, logger)
	if d.ProbeInterval != nil {
		prober = prober.WithInterval(*d.ProbeInterval)
	}
	gate := probe.Spec{
		Target:  cfg.HealthCheck.TargetHost,
		Timeout: cfg.ProbeTimeout(),
		Retries: cfg.HealthCheck.RetryCount,
	}

	ctrl := services.NewController(d.Gateway, logger, cfg.SettleInterval())
	if d.Sleep != nil {
		ctrl.SetSleep(d.Sleep)
	}
	chain := services.Chain(cfg)

	snapshotDir := hostPath(d.Root, cfg.Orchestrator.SnapshotDir)
	snaps := snapshot.NewManager(d.Gateway, logger, snapshot.Options{
		Dir:             snapshotDir,
		Root:            d.Root,
		Services:        services.Names(chain),
		SafeModeService: cfg.Orchestrator.SafeModeService,
	})

	rollback := NewRollbackController(RollbackOptions{
		Services:        ctrl,
		Snapshots:       snaps,
		Prober:          prober,
		Probe:           gate,
		SafeModeService: cfg.Orchestrator.SafeModeService,
		Guide:           d.Guide,
		Logger:          logger,
	})

	interfacesPath := d.InterfacesPath
	if interfacesPath == "" {
		interfacesPath = cfg.ProjectPath("config", "interfaces.json")
	}
	catalog := NewCatalog(CatalogOptions{
		Config:         cfg,
		Gateway:        d.Gateway,
		Installer:      d.Installer,
		Services:       ctrl,
		Gate:           gate,
		InterfacesPath: interfacesPath,
		Root:           d.Root,
		Logger:         logger,
	})

	execOpts := ExecutorOptions{
		Snapshots:  snaps,
		Prober:     prober,
		Rollback:   rollback,
		FinalProbe: gate,
		Metrics:    d.Metrics,
		Logger:     logger,
		Version:    d.Version,
	}
	if d.Store != nil {
		execOpts.Recorder = d.Store
	}

	return &Orchestrator{
		cfg:            cfg,
		logger:         logger,
		gw:             d.Gateway,
		prober:         prober,
		snapshots:      snaps,
		services:       ctrl,
		catalog:        catalog,
		rollback:       rollback,
		executor:       NewExecutor(execOpts),
		store:          d.Store,
		metrics:        d.Metrics,
		version:        d.Version,
		prompter:       d.Prompter,
		out:            d.Out,
		gate:           gate,
		interfacesPath: hostPath(d.Root, interfacesPath),
		assumeYes:      d.AssumeYes || cfg.Orchestrator.NonInteractive,
	}
}

func hostPath(root, p string) string {
	if root == "" {
		return p
	}
	return filepath.Join(root, p)
}

// Snapshots exposes the snapshot manager.
func (o *Orchestrator) Snapshots() *snapshot.Manager { return o.snapshots }

// Gate returns the connectivity check every gate uses.
func (o *Orchestrator) Gate() probe.Spec { return o.gate }

// Install runs the install pipeline on a host without the router services.
func (o *Orchestrator) Install(ctx context.Context) (*PipelineRun, error) {
	return o.runVerb(ctx, VerbInstall)
}

// Upgrade moves a host from safe mode to the full service chain.
func (o *Orchestrator) Upgrade(ctx context.Context) (*PipelineRun, error) {
	return o.runVerb(ctx, VerbUpgrade)
}

func (o *Orchestrator) runVerb(ctx context.Context, verb string) (*PipelineRun, error) {
	steps, err := o.catalog.Pipeline(verb)
	if err != nil {
		return nil, err
	}
	if err := o.confirm(ctx, verb, steps); err != nil {
		return nil, err
	}
	return o.executor.Run(ctx, verb, steps)
}

func (o *Orchestrator) confirm(ctx context.Context, verb string, steps []Step) error {
	if o.assumeYes {
		logging.DebugStep(o.logger, "confirm", "%s confirmed by --yes/non_interactive", verb)
		return nil
	}
	if o.prompter == nil {
		return ErrConfirmationRequired
	}
	fmt.Fprintf(o.out, "routeguard %s will run %d steps:\n", verb, len(steps))
	for i, s := range steps {
		fmt.Fprintf(o.out, "  %2d. %s\n", i+1, s.Name)
	}
	fmt.Fprintf(o.out, "A snapshot is taken first; any failed connectivity check rolls the host back to it.\n")
	ok, err := o.prompter.Confirm(ctx, fmt.Sprintf("Proceed with %s?", verb), false)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeclined
	}
	return nil
}

// RestoreResult is the outcome of an operator-initiated restore.
type RestoreResult struct {
	Snapshot   *snapshot.Snapshot
	RestoreErr error
	Reachable  bool
	Attempts   []system.ProbeResult
}

// Restore reapplies the latest snapshot as-is and checks connectivity. It
// does not stop or disable anything first.
func (o *Orchestrator) Restore(ctx context.Context) (*RestoreResult, error) {
	snap, err := o.snapshots.Latest(ctx)
	if err != nil {
		return nil, err
	}
	o.logger.Phase("Restoring snapshot %s", snap.Name())
	res := &RestoreResult{Snapshot: snap}
	if err := o.snapshots.Restore(ctx, snap); err != nil {
		res.RestoreErr = err
		o.logger.Warning("Restore incomplete: %v", err)
	}
	ok, results := o.prober.Check(ctx, o.gate)
	res.Reachable = ok
	res.Attempts = results
	if !ok {
		return res, &ProbeError{Step: "restore", Target: o.gate.Target, Attempts: len(results), Reason: lastReason(results)}
	}
	if res.RestoreErr != nil {
		return res, res.RestoreErr
	}
	o.logger.Info("Snapshot %s restored; %s reachable", snap.Name(), o.gate.Target)
	return res, nil
}

// Rollback returns the host to the latest snapshot: every chain unit is
// stopped and disabled, the snapshot reapplied and safe mode started if it
// was running. With no snapshot on disk it warns and does nothing.
func (o *Orchestrator) Rollback(ctx context.Context) (*RollbackReport, error) {
	snap, err := o.snapshots.Latest(ctx)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		o.logger.Warning("%v in %s; nothing to roll back", snapshot.ErrNoSnapshot, o.snapshots.Dir())
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	runID := ""
	if o.store != nil {
		if runs, ierr := o.store.Interrupted(ctx); ierr == nil && len(runs) > 0 {
			runID = runs[0].ID
			for _, r := range runs {
				if merr := o.store.MarkAbandoned(ctx, r.ID, "rolled back by operator"); merr != nil {
					o.logger.Warning("Journal: %v", merr)
				}
			}
		}
	}

	names := services.Names(o.catalog.Chain())
	report := o.rollback.Recover(ctx, RollbackTarget{
		RunID:    runID,
		Snapshot: snap,
		Stop:     names,
		Disable:  names,
	})
	o.exportRollback(report)
	if !report.Recovered() {
		return report, fmt.Errorf("rollback to %s: %w", snap.Name(), &ProbeError{Step: "rollback", Target: o.gate.Target, Attempts: report.ProbeAttempts})
	}
	return report, nil
}

func (o *Orchestrator) exportRollback(r *RollbackReport) {
	if o.metrics == nil {
		return
	}
	m := &metrics.RunMetrics{
		Version:       o.version,
		Verb:          "rollback",
		StartTime:     r.StartedAt,
		EndTime:       r.EndedAt,
		Duration:      r.EndedAt.Sub(r.StartedAt),
		Status:        types.RunRolledBack,
		Outcome:       r.Outcome,
		ExitCode:      types.ExitSuccess.Int(),
		FailedStep:    -1,
		ProbeAttempts: r.ProbeAttempts,
		RestoreErrors: len(r.RestoreFailures()),
		WarningCount:  int(o.logger.WarningCount()),
		ErrorCount:    int(o.logger.ErrorCount()),
	}
	if !r.Recovered() {
		m.ExitCode = types.ExitFailure.Int()
		m.ProbeFailures = r.ProbeAttempts
	}
	if host, err := os.Hostname(); err == nil {
		m.Hostname = host
	}
	if err := o.metrics.Export(m); err != nil {
		o.logger.Warning("Metrics: %v", err)
	}
}

// TestReport is the result of the --test verb.
type TestReport struct {
	Target    string
	Reachable bool
	Attempts  []system.ProbeResult
	WANs      []WANProbe
}

// WANProbe is the informational check of one WAN interface.
type WANProbe struct {
	Interface string
	Target    string
	Reachable bool
	Latency   time.Duration
	Reason    string
}

// Test runs the configured gate and, informationally, one check per
// enabled WAN with health checks. Only the gate decides the result.
func (o *Orchestrator) Test(ctx context.Context) (*TestReport, error) {
	o.logger.Phase("Testing connectivity to %s", o.gate.Target)
	ok, results := o.prober.Check(ctx, o.gate)
	report := &TestReport{Target: o.gate.Target, Reachable: ok, Attempts: results}

	ifaces, err := config.LoadInterfaces(o.interfacesPath)
	if err != nil {
		o.logger.Skip("Per-WAN checks skipped: %v", err)
	} else {
		for _, wan := range ifaces.EnabledWANs() {
			hc := wan.HealthCheck
			if !hc.Enabled {
				continue
			}
			spec := probe.Spec{Target: hc.Target, Interface: wan.Name, Timeout: hc.TimeoutDuration(), Retries: hc.Retries}
			wok, wres := o.prober.Check(ctx, spec)
			wp := WANProbe{Interface: wan.Name, Target: spec.Normalize().Target, Reachable: wok}
			if n := len(wres); n > 0 {
				wp.Latency = wres[n-1].Latency
				wp.Reason = wres[n-1].Reason
			}
			report.WANs = append(report.WANs, wp)
		}
	}

	if !ok {
		return report, &ProbeError{Target: o.gate.Target, Attempts: len(results), Reason: lastReason(results)}
	}
	return report, nil
}

// StatusReport is the result of the --status verb.
type StatusReport struct {
	Services      []UnitStatus
	SafeMode      UnitStatus
	Interfaces    []system.InterfaceAddr
	DefaultRoutes []string
	LastRun       *journal.RunRecord
	LastRunSteps  []journal.StepRecord
	Interrupted   []journal.RunRecord
	Snapshots     []*snapshot.Snapshot
	Problems      []string
}

// UnitStatus is the systemd state of one unit.
type UnitStatus struct {
	Name    string
	Active  bool
	Enabled bool
	Err     error
}

// Status gathers service, network, journal and snapshot state. Query
// failures are collected into Problems rather than returned.
func (o *Orchestrator) Status(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{}
	for _, name := range services.Names(o.catalog.Chain()) {
		report.Services = append(report.Services, o.unitStatus(ctx, name))
	}
	report.SafeMode = o.unitStatus(ctx, o.cfg.Orchestrator.SafeModeService)

	if ifaces, err := o.gw.Interfaces(ctx); err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("interfaces: %v", err))
	} else {
		report.Interfaces = ifaces
	}
	if routes, err := o.gw.Routes(ctx); err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("routes: %v", err))
	} else {
		report.DefaultRoutes = system.DefaultRoutes(routes)
	}

	if o.store != nil {
		if last, err := o.store.LatestRun(ctx); err == nil {
			report.LastRun = &last
			if steps, serr := o.store.Steps(ctx, last.ID); serr == nil {
				report.LastRunSteps = steps
			}
		} else if !errors.Is(err, journal.ErrNotFound) {
			report.Problems = append(report.Problems, fmt.Sprintf("journal: %v", err))
		}
		if runs, err := o.store.Interrupted(ctx); err == nil {
			report.Interrupted = runs
		}
	}

	snaps, err := o.snapshots.List(ctx)
	if err != nil {
		report.Problems = append(report.Problems, fmt.Sprintf("snapshots: %v", err))
	}
	report.Snapshots = snaps
	return report, nil
}

func (o *Orchestrator) unitStatus(ctx context.Context, name string) UnitStatus {
	st := UnitStatus{Name: name}
	active, err := o.gw.ServiceActive(ctx, name)
	if err != nil {
		st.Err = err
		return st
	}
	enabled, err := o.gw.ServiceEnabled(ctx, name)
	if err != nil {
		st.Err = err
	}
	st.Active = active
	st.Enabled = enabled
	return st
}

// Summary is a one-line description of how run ended.
func Summary(run *PipelineRun) string {
	if run == nil {
		return "no run"
	}
	switch {
	case run.Succeeded():
		return fmt.Sprintf("%s succeeded: %d step(s), connectivity confirmed", run.Verb, len(run.Steps))
	case run.Rollback != nil:
		var b strings.Builder
		fmt.Fprintf(&b, "%s failed at step %d (%s); rollback %s", run.Verb, run.FailedStep+1, run.FailedName, run.Rollback.Outcome)
		if failed := run.Rollback.RestoreFailures(); len(failed) > 0 {
			fmt.Fprintf(&b, ", not restored: %s", strings.Join(failed, ", "))
		}
		return b.String()
	default:
		return fmt.Sprintf("%s stopped in phase %s: %v", run.Verb, run.Phase, run.Err)
	}
}
