package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/probe"
	"github.com/tis24dev/routeguard/internal/services"
	"github.com/tis24dev/routeguard/internal/snapshot"
	"github.com/tis24dev/routeguard/internal/types"
)

// RollbackTarget is what a rollback undoes and what it restores to.
type RollbackTarget struct {
	RunID    string
	Snapshot *snapshot.Snapshot
	// Stop lists units in start order; they are stopped in reverse.
	Stop []string
	// Disable lists units to disable before the snapshot is reapplied.
	Disable []string
}

// RollbackReport describes a finished rollback.
type RollbackReport struct {
	RunID    string
	Snapshot string

	Stopped  []string
	Disabled []string

	StopErr    error
	DisableErr error
	RestoreErr error

	SafeModeService string
	SafeModeStarted bool
	SafeModeErr     error

	ProbeAttempts int
	Outcome       types.RollbackOutcome
	// Guidance is markdown for the operator, set when unrecovered.
	Guidance string

	StartedAt time.Time
	EndedAt   time.Time
}

// Recovered reports whether the closing probe succeeded.
func (r *RollbackReport) Recovered() bool {
	return r != nil && r.Outcome == types.OutcomeRecovered
}

// Errors returns every non-fatal failure collected during the rollback.
func (r *RollbackReport) Errors() []error {
	if r == nil {
		return nil
	}
	var out []error
	for _, err := range []error{r.StopErr, r.DisableErr, r.RestoreErr, r.SafeModeErr} {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// RestoreFailures names the snapshot artifacts that could not be reapplied.
func (r *RollbackReport) RestoreFailures() []string {
	if r == nil || r.RestoreErr == nil {
		return nil
	}
	var re *snapshot.RestoreError
	if errors.As(r.RestoreErr, &re) {
		return re.Artifacts()
	}
	return []string{r.RestoreErr.Error()}
}

// RollbackOptions wires a RollbackController.
type RollbackOptions struct {
	Services  *services.Controller
	Snapshots Snapshotter
	Prober    *probe.Prober
	// Probe is the connectivity check that classifies the outcome.
	Probe           probe.Spec
	SafeModeService string
	// Guide is the static recovery document appended to the guidance.
	Guide  string
	Logger *logging.Logger
}

// RollbackController returns a host to its snapshot after a failed step.
type RollbackController struct {
	opts RollbackOptions
	now  func() time.Time
}

// NewRollbackController returns a RollbackController.
func NewRollbackController(opts RollbackOptions) *RollbackController {
	return &RollbackController{opts: opts, now: time.Now}
}

// Rollback undoes run: the units it started are stopped and disabled along
// with the units it enabled, then the run's snapshot is reapplied.
func (rc *RollbackController) Rollback(ctx context.Context, run *PipelineRun) *RollbackReport {
	disable := append([]string(nil), run.Started...)
	for _, u := range run.Enabled {
		if !containsString(disable, u) {
			disable = append(disable, u)
		}
	}
	return rc.Recover(ctx, RollbackTarget{
		RunID:    run.ID,
		Snapshot: run.Snapshot,
		Stop:     run.Started,
		Disable:  disable,
	})
}

// Recover runs the rollback sequence for t. Every stage runs even when an
// earlier one failed; the outcome is decided by the closing probe alone.
// The sequence ignores cancellation of ctx.
func (rc *RollbackController) Recover(ctx context.Context, t RollbackTarget) *RollbackReport {
	ctx = context.WithoutCancel(ctx)
	logger := rc.opts.Logger
	report := &RollbackReport{
		RunID:           t.RunID,
		SafeModeService: rc.opts.SafeModeService,
		StartedAt:       rc.now(),
	}
	if t.Snapshot != nil {
		report.Snapshot = t.Snapshot.Name()
	}
	logger.Phase("Rollback: returning host to snapshot %s", report.Snapshot)

	if len(t.Stop) > 0 {
		report.StopErr = rc.opts.Services.StopAll(ctx, t.Stop)
		for i := len(t.Stop) - 1; i >= 0; i-- {
			report.Stopped = append(report.Stopped, t.Stop[i])
		}
	}
	if len(t.Disable) > 0 {
		report.DisableErr = rc.opts.Services.DisableAll(ctx, t.Disable)
		for i := len(t.Disable) - 1; i >= 0; i-- {
			report.Disabled = append(report.Disabled, t.Disable[i])
		}
	}

	if t.Snapshot == nil {
		report.RestoreErr = snapshot.ErrNoSnapshot
		logger.Warning("Rollback: %v, only services were stopped", snapshot.ErrNoSnapshot)
	} else if err := rc.opts.Snapshots.Restore(ctx, t.Snapshot); err != nil {
		report.RestoreErr = err
		logger.Warning("Rollback: restore incomplete: %v", err)
	}

	safe := rc.opts.SafeModeService
	switch {
	case safe == "":
	case t.Snapshot != nil && t.Snapshot.SafeModeWasActive():
		if err := rc.opts.Services.Start(ctx, services.Descriptor{Name: safe}); err != nil {
			report.SafeModeErr = err
			logger.Error("Rollback: safe mode %s did not start: %v", safe, err)
		} else {
			report.SafeModeStarted = true
		}
	default:
		logger.Skip("Safe mode %s was not active in the snapshot; leaving it stopped", safe)
	}

	ok, results := rc.opts.Prober.Check(ctx, rc.opts.Probe)
	report.ProbeAttempts = len(results)
	report.EndedAt = rc.now()
	if ok {
		report.Outcome = types.OutcomeRecovered
		logger.Info("Rollback recovered connectivity (%d problem(s) noted)", len(report.Errors()))
		return report
	}

	report.Outcome = types.OutcomeUnrecovered
	report.Guidance = EmergencyGuidance(report, rc.opts.Probe.Normalize(), rc.opts.Guide)
	logger.Critical("Rollback finished but connectivity is still down; manual recovery required")
	return report
}
