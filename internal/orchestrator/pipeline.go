package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tis24dev/routeguard/internal/journal"
	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/metrics"
	"github.com/tis24dev/routeguard/internal/probe"
	"github.com/tis24dev/routeguard/internal/snapshot"
	"github.com/tis24dev/routeguard/internal/system"
	"github.com/tis24dev/routeguard/internal/types"
)

// Phase is the pipeline state machine position.
type Phase string

const (
	PhaseInit          Phase = "init"
	PhaseSnapshotTaken Phase = "snapshot_taken"
	PhaseRunning       Phase = "running"
	PhaseFailed        Phase = "failed"
	PhaseSucceeded     Phase = "succeeded"
	PhaseRolledBack    Phase = "rolled_back"
)

// SUCCEEDED and ROLLED_BACK are terminal.
var phaseTransitions = map[Phase][]Phase{
	PhaseInit:          {PhaseSnapshotTaken},
	PhaseSnapshotTaken: {PhaseRunning, PhaseSucceeded, PhaseFailed},
	PhaseRunning:       {PhaseRunning, PhaseSucceeded, PhaseFailed},
	PhaseFailed:        {PhaseRolledBack},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Phase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FinalCheckName is the step name reported when the closing connectivity
// check fails.
const FinalCheckName = "final connectivity check"

// Step is one named action of a pipeline with an optional post-condition
// probe.
type Step struct {
	Name   string
	Action func(ctx context.Context, run *PipelineRun) error
	Probe  *probe.Spec
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	Index    int
	Name     string
	OK       bool
	Err      error
	Attempts int
	Duration time.Duration
}

// PipelineRun is one execution of a pipeline.
type PipelineRun struct {
	ID       string
	Verb     string
	Steps    []Step
	Cursor   int
	Phase    Phase
	Status   types.RunStatus
	Snapshot *snapshot.Snapshot

	// Started lists units the run attempted to start, in attempt order.
	Started []string
	// Enabled lists units the run enabled.
	Enabled []string

	FailedStep int
	FailedName string
	Err        error
	Rollback   *RollbackReport
	Results    []StepResult
	Warnings   []string

	ProbeAttempts int
	ProbeFailures int

	StartedAt time.Time
	EndedAt   time.Time
}

func (r *PipelineRun) transition(to Phase) error {
	if !CanTransition(r.Phase, to) {
		return &TransitionError{From: r.Phase, To: to}
	}
	r.Phase = to
	return nil
}

// MarkStarted records that unit is about to be started by this run.
func (r *PipelineRun) MarkStarted(unit string) {
	if !containsString(r.Started, unit) {
		r.Started = append(r.Started, unit)
	}
}

// MarkEnabled records that units were enabled by this run.
func (r *PipelineRun) MarkEnabled(units ...string) {
	for _, u := range units {
		if !containsString(r.Enabled, u) {
			r.Enabled = append(r.Enabled, u)
		}
	}
}

// Warn records a non-fatal problem shown in the run summary.
func (r *PipelineRun) Warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Succeeded reports whether the run ended with a passing final check.
func (r *PipelineRun) Succeeded() bool { return r.Phase == PhaseSucceeded }

// Duration is the elapsed run time, up to now for an unfinished run.
func (r *PipelineRun) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Snapshotter captures and reapplies host state.
type Snapshotter interface {
	Capture(ctx context.Context) (*snapshot.Snapshot, error)
	Restore(ctx context.Context, snap *snapshot.Snapshot) error
}

// Recorder persists run progress. *journal.Journal implements it.
type Recorder interface {
	BeginRun(ctx context.Context, rec journal.RunRecord) error
	UpdateRun(ctx context.Context, rec journal.RunRecord) error
	RecordStep(ctx context.Context, runID string, step journal.StepRecord) error
}

// MetricsExporter publishes the summary of a finished run.
type MetricsExporter interface {
	Export(m *metrics.RunMetrics) error
}

// ExecutorOptions wires an Executor.
type ExecutorOptions struct {
	Snapshots Snapshotter
	Prober    *probe.Prober
	Rollback  *RollbackController
	// FinalProbe is the closing connectivity check after the last step.
	FinalProbe probe.Spec
	Recorder   Recorder
	Metrics    MetricsExporter
	Logger     *logging.Logger
	Version    string
}

// Executor runs pipelines: snapshot, steps with their gates, final check,
// and rollback on the first failure.
type Executor struct {
	opts  ExecutorOptions
	now   func() time.Time
	newID func() string
}

// NewExecutor returns an Executor. Recorder and Metrics are optional.
func NewExecutor(opts ExecutorOptions) *Executor {
	return &Executor{opts: opts, now: time.Now, newID: uuid.NewString}
}

// SetClock replaces the time source.
func (e *Executor) SetClock(now func() time.Time) { e.now = now }

// Run executes steps in order under verb. A snapshot failure aborts before
// any step runs and returns no run. On a step or final-check failure the
// rollback controller runs exactly once and the returned error is the
// failure that triggered it.
func (e *Executor) Run(ctx context.Context, verb string, steps []Step) (*PipelineRun, error) {
	logger := e.opts.Logger
	run := &PipelineRun{
		ID:         e.newID(),
		Verb:       verb,
		Steps:      steps,
		Cursor:     -1,
		Phase:      PhaseInit,
		Status:     types.RunRunning,
		FailedStep: -1,
		StartedAt:  e.now(),
	}

	logger.Phase("%s: capturing snapshot before any change", verb)
	snap, err := e.opts.Snapshots.Capture(ctx)
	if err != nil {
		logger.Error("Snapshot failed, nothing was changed: %v", err)
		return nil, err
	}
	run.Snapshot = snap
	if err := run.transition(PhaseSnapshotTaken); err != nil {
		return run, err
	}
	logger.Info("Snapshot %s stored in %s", snap.Name(), snap.Dir)
	for _, w := range snap.Warnings {
		run.Warn("snapshot: %s", w)
	}
	e.begin(ctx, run)

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			run.Cursor = i
			return run, e.interrupted(run, err)
		}
		if err := run.transition(PhaseRunning); err != nil {
			return run, err
		}
		run.Cursor = i
		res := e.runStep(ctx, run, i, step)
		e.recordStep(ctx, run, res)
		if res.OK {
			continue
		}
		if ctx.Err() != nil {
			return run, e.interrupted(run, res.Err)
		}
		return run, e.fail(ctx, run, i, step.Name, res.Err)
	}

	run.Cursor = len(steps)
	if err := ctx.Err(); err != nil {
		return run, e.interrupted(run, err)
	}
	logger.Phase("%s: verifying connectivity", verb)
	ok, results := e.opts.Prober.Check(ctx, e.opts.FinalProbe)
	e.countProbe(run, ok, results)
	if !ok {
		if ctx.Err() != nil {
			return run, e.interrupted(run, ctx.Err())
		}
		spec := e.opts.FinalProbe.Normalize()
		perr := &ProbeError{Step: FinalCheckName, Target: spec.Target, Interface: spec.Interface, Attempts: len(results), Reason: lastReason(results)}
		return run, e.fail(ctx, run, len(steps), FinalCheckName, fmt.Errorf("%w: %w", ErrVerification, perr))
	}

	if err := run.transition(PhaseSucceeded); err != nil {
		return run, err
	}
	run.Status = types.RunSucceeded
	run.EndedAt = e.now()
	logger.Info("%s completed in %s", verb, run.Duration().Round(time.Second))
	e.finish(ctx, run)
	return run, nil
}

func (e *Executor) runStep(ctx context.Context, run *PipelineRun, i int, step Step) StepResult {
	logger := e.opts.Logger
	start := e.now()
	res := StepResult{Index: i, Name: step.Name}

	logger.Step("[%d/%d] %s", i+1, len(run.Steps), step.Name)
	if step.Action != nil {
		if err := step.Action(ctx, run); err != nil {
			res.Err = err
		}
	}
	if res.Err == nil && step.Probe != nil {
		spec := step.Probe.Normalize()
		ok, results := e.opts.Prober.Check(ctx, spec)
		e.countProbe(run, ok, results)
		res.Attempts = len(results)
		if !ok {
			res.Err = &ProbeError{Step: step.Name, Target: spec.Target, Interface: spec.Interface, Attempts: len(results), Reason: lastReason(results)}
		} else {
			logger.Probe("%s reachable after %q", spec.Target, step.Name)
		}
	}
	res.OK = res.Err == nil
	res.Duration = e.now().Sub(start)
	run.Results = append(run.Results, res)
	return res
}

func (e *Executor) countProbe(run *PipelineRun, ok bool, results []system.ProbeResult) {
	run.ProbeAttempts += len(results)
	failures := len(results)
	if ok {
		failures--
	}
	run.ProbeFailures += failures
}

func (e *Executor) fail(ctx context.Context, run *PipelineRun, index int, name string, cause error) error {
	logger := e.opts.Logger
	run.FailedStep = index
	run.FailedName = name
	run.Err = cause
	if err := run.transition(PhaseFailed); err != nil {
		return err
	}
	run.Status = types.RunFailed
	logger.Error("Step %q failed: %v", name, cause)
	e.update(ctx, run)

	if e.opts.Rollback == nil {
		return errors.Join(cause, errors.New("no rollback controller configured"))
	}
	run.Rollback = e.opts.Rollback.Rollback(ctx, run)
	if err := run.transition(PhaseRolledBack); err != nil {
		return err
	}
	run.Status = types.RunRolledBack
	run.EndedAt = e.now()
	e.finish(ctx, run)
	return cause
}

// interrupted leaves the run in its current phase and marked running in the
// journal; no rollback is attempted on a cancelled context.
func (e *Executor) interrupted(run *PipelineRun, cause error) error {
	run.Err = fmt.Errorf("%w during %q: %w", ErrInterrupted, run.currentName(), cause)
	e.opts.Logger.Warning("%v; run `routeguard --rollback` to restore snapshot %s", run.Err, run.Snapshot.Name())
	return run.Err
}

func (r *PipelineRun) currentName() string {
	if r.Cursor >= 0 && r.Cursor < len(r.Steps) {
		return r.Steps[r.Cursor].Name
	}
	return FinalCheckName
}

func (e *Executor) record(run *PipelineRun) journal.RunRecord {
	rec := journal.RunRecord{
		ID:         run.ID,
		Verb:       run.Verb,
		Status:     string(run.Status),
		Cursor:     run.Cursor,
		FailedStep: run.FailedStep,
		FailedName: run.FailedName,
		StartedAt:  run.StartedAt,
		EndedAt:    run.EndedAt,
	}
	if run.Snapshot != nil {
		rec.Snapshot = run.Snapshot.Name()
	}
	if run.Rollback != nil {
		rec.Outcome = string(run.Rollback.Outcome)
	}
	if run.Err != nil {
		rec.Error = run.Err.Error()
	}
	return rec
}

// Journal failures never change the run outcome; they are logged.
func (e *Executor) begin(ctx context.Context, run *PipelineRun) {
	if e.opts.Recorder == nil {
		return
	}
	if err := e.opts.Recorder.BeginRun(ctx, e.record(run)); err != nil {
		e.opts.Logger.Warning("Journal: %v", err)
	}
}

func (e *Executor) update(ctx context.Context, run *PipelineRun) {
	if e.opts.Recorder == nil {
		return
	}
	if err := e.opts.Recorder.UpdateRun(ctx, e.record(run)); err != nil {
		e.opts.Logger.Warning("Journal: %v", err)
	}
}

func (e *Executor) recordStep(ctx context.Context, run *PipelineRun, res StepResult) {
	if e.opts.Recorder == nil {
		return
	}
	rec := journal.StepRecord{Index: res.Index, Name: res.Name, OK: res.OK, Attempts: res.Attempts, Duration: res.Duration}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := e.opts.Recorder.RecordStep(ctx, run.ID, rec); err != nil {
		e.opts.Logger.Warning("Journal: %v", err)
	}
	e.update(ctx, run)
}

func (e *Executor) finish(ctx context.Context, run *PipelineRun) {
	e.update(ctx, run)
	if e.opts.Metrics == nil {
		return
	}
	if err := e.opts.Metrics.Export(e.runMetrics(run)); err != nil {
		e.opts.Logger.Warning("Metrics: %v", err)
	}
}

func (e *Executor) runMetrics(run *PipelineRun) *metrics.RunMetrics {
	completed := 0
	for _, r := range run.Results {
		if r.OK {
			completed++
		}
	}
	m := &metrics.RunMetrics{
		Version:        e.opts.Version,
		Verb:           run.Verb,
		StartTime:      run.StartedAt,
		EndTime:        run.EndedAt,
		Duration:       run.Duration(),
		Status:         run.Status,
		ExitCode:       types.ExitSuccess.Int(),
		StepsTotal:     len(run.Steps),
		StepsCompleted: completed,
		FailedStep:     run.FailedStep,
		ProbeAttempts:  run.ProbeAttempts,
		ProbeFailures:  run.ProbeFailures,
		WarningCount:   int(e.opts.Logger.WarningCount()),
		ErrorCount:     int(e.opts.Logger.ErrorCount()),
	}
	if host, err := os.Hostname(); err == nil {
		m.Hostname = host
	}
	if !run.Succeeded() {
		m.ExitCode = types.ExitFailure.Int()
	}
	if rb := run.Rollback; rb != nil {
		m.Outcome = rb.Outcome
		m.ProbeAttempts += rb.ProbeAttempts
		if rerr := rb.RestoreErr; rerr != nil {
			var re *snapshot.RestoreError
			if errors.As(rerr, &re) {
				m.RestoreErrors = len(re.Failures)
			} else {
				m.RestoreErrors = 1
			}
		}
	}
	return m
}

func lastReason(results []system.ProbeResult) string {
	if len(results) == 0 {
		return ""
	}
	return results[len(results)-1].Reason
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
