package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/routeguard/internal/config"
	"github.com/tis24dev/routeguard/internal/services"
	"github.com/tis24dev/routeguard/internal/snapshot"
	"github.com/tis24dev/routeguard/internal/types"
)

func TestInstallBringsUpChainInOrder(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(true)

	run, err := o.Install(context.Background())
	require.NoError(t, err)
	require.True(t, run.Succeeded())

	assert.Equal(t, []string{
		"start " + services.RoutingUnit,
		"start " + services.WatchdogUnit,
		"start " + services.WebUnit,
	}, f.gw.CallsWithPrefix("start"))
	for _, unit := range f.chainUnits() {
		assert.True(t, f.gw.Active(unit), unit)
		assert.True(t, f.gw.Enabled(unit), unit)
	}
	assert.Equal(t, f.chainUnits(), run.Started)

	last := f.gw.Calls[len(f.gw.Calls)-1]
	assert.Equal(t, "ping 8.8.8.8", last, "success is declared only after a final probe")

	_, err = os.Stat(filepath.Join(f.root, "etc/systemd/system", services.WebUnit+".service"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.root, config.DefaultInterfacesPath))
	assert.NoError(t, err)
	assert.Contains(t, f.gw.Installed, "pip:flask")
}

func TestUpgradeWatchdogProbeFailureRollsBackToSafeMode(t *testing.T) {
	f := newFixture(t).safeModeHost()
	f.gw.BreaksNetwork[services.WatchdogUnit] = true
	o := f.orchestrator(true)

	run, err := o.Upgrade(context.Background())
	require.ErrorIs(t, err, ErrProbe)

	names, _ := PipelineNames(VerbUpgrade)
	require.Equal(t, StepStartWatchdog, names[run.FailedStep])
	assert.Equal(t, StepStartWatchdog, run.FailedName)
	assert.Equal(t, PhaseRolledBack, run.Phase)
	assert.Equal(t, types.OutcomeRecovered, run.Rollback.Outcome)

	assert.Equal(t, []string{
		"stop " + safeUnit,
		"stop " + services.WatchdogUnit,
		"stop " + services.RoutingUnit,
	}, f.gw.CallsWithPrefix("stop"), "rollback stops in reverse start order")
	assert.Equal(t, []string{services.WatchdogUnit, services.RoutingUnit}, run.Rollback.Stopped)

	assert.Equal(t, []string{safeUnit}, f.gw.ActiveUnits(), "only safe mode is left running")
	for _, unit := range f.chainUnits() {
		assert.False(t, f.gw.Enabled(unit), unit)
	}
	assert.True(t, f.gw.Enabled(safeUnit))
	assert.False(t, f.gw.Active(services.WebUnit), "web is never attempted")
}

func TestUpgradeSucceedsAndRetiresSafeMode(t *testing.T) {
	f := newFixture(t).safeModeHost()
	o := f.orchestrator(true)

	run, err := o.Upgrade(context.Background())
	require.NoError(t, err)
	assert.True(t, run.Succeeded())
	assert.False(t, f.gw.Active(safeUnit))
	assert.False(t, f.gw.Enabled(safeUnit))
	assert.Equal(t, f.chainUnits(), f.gw.ActiveUnits())

	rec, err := f.store.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "succeeded", rec.Status)
	require.Len(t, f.metrics.exported, 1)
	assert.Equal(t, types.RunSucceeded, f.metrics.exported[0].Status)
}

func TestEssentialPackageFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.gw.InstallErr["apt:iproute2"] = errors.New("E: Unable to locate package")
	o := f.orchestrator(true)

	run, err := o.Install(context.Background())
	require.ErrorIs(t, err, ErrPackageInstall)
	var perr *PackageError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.Essential)
	assert.Equal(t, StepInstallPackages, run.FailedName)
	assert.Len(t, f.gw.CallsWithPrefix("install apt:iproute2"), 2, "one retry per package")
	assert.Empty(t, f.gw.CallsWithPrefix("start"))
}

func TestOptionalPackageFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	f.gw.InstallErr["pip:netifaces"] = errors.New("build failed")
	o := f.orchestrator(true)

	run, err := o.Install(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Warnings, 1)
	assert.Contains(t, run.Warnings[0], "netifaces")
	assert.False(t, errors.Is(&PackageError{Package: "netifaces", Err: errors.New("x")}, ErrPackageInstall))
}

func TestOptionalPackageLosingNetworkFailsThatStep(t *testing.T) {
	f := newFixture(t).safeModeHost()
	f.gw.InstallBreaksNetwork = map[string]bool{"apt:nftables": true}
	o := f.orchestrator(true)

	run, err := o.Upgrade(context.Background())
	require.ErrorIs(t, err, ErrProbe)
	assert.Equal(t, StepInstallPackages, run.FailedName)
	assert.True(t, f.gw.Active(safeUnit), "safe mode is never stopped")
	assert.Empty(t, f.gw.CallsWithPrefix("stop"))
	assert.Empty(t, f.gw.CallsWithPrefix("start "+services.RoutingUnit))
	require.NotNil(t, run.Rollback)
	assert.Equal(t, types.OutcomeUnrecovered, run.Rollback.Outcome)
}

func TestDeployConfigurationKeepsExistingDocuments(t *testing.T) {
	f := newFixture(t)
	settings := filepath.Join(f.root, config.DefaultSettingsPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(settings), 0o755))
	require.NoError(t, os.WriteFile(settings, []byte("{\"system\": {\"log_level\": \"debug\"}}\n"), 0o644))

	o := f.orchestrator(true)
	step, err := o.catalog.Step(StepDeployConfig)
	require.NoError(t, err)
	require.NoError(t, step.Action(context.Background(), &PipelineRun{}))

	data, err := os.ReadFile(settings)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug", "existing settings untouched")

	ifaces, err := config.LoadInterfaces(filepath.Join(f.root, config.DefaultInterfacesPath))
	require.NoError(t, err)
	assert.Len(t, ifaces.EnabledWANs(), 1)
	for _, dir := range config.ProjectDirs {
		info, err := os.Stat(filepath.Join(f.root, config.DefaultProjectRoot, dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}

func TestConfirmationGate(t *testing.T) {
	f := newFixture(t)
	f.prompt.answer = false
	o := f.orchestrator(false)

	run, err := o.Upgrade(context.Background())
	assert.Nil(t, run)
	assert.ErrorIs(t, err, ErrDeclined)
	assert.Len(t, f.prompt.questions, 1)
	snaps, err := o.Snapshots().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snaps, "nothing happens before confirmation")

	f.prompt.err = ErrConfirmationRequired
	_, err = o.Install(context.Background())
	assert.ErrorIs(t, err, ErrConfirmationRequired)

	f.cfg.Orchestrator.NonInteractive = true
	f.prompt.questions = nil
	_, err = f.orchestrator(false).Install(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.prompt.questions)
}

func TestRollbackWithoutSnapshotIsNoop(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(true)

	report, err := o.Rollback(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, report)
	assert.Empty(t, f.gw.CallsWithPrefix("stop"))
	assert.Zero(t, f.gw.PingCount)
}

func TestRollbackVerbReturnsToSafeMode(t *testing.T) {
	f := newFixture(t).safeModeHost()
	o := f.orchestrator(true)

	run, err := o.Upgrade(context.Background())
	require.NoError(t, err)
	require.True(t, run.Succeeded())

	report, err := o.Rollback(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.True(t, report.Recovered())
	assert.True(t, report.SafeModeStarted)
	assert.Equal(t, []string{safeUnit}, f.gw.ActiveUnits())
	for _, unit := range f.chainUnits() {
		assert.False(t, f.gw.Enabled(unit), unit)
	}
	assert.True(t, f.gw.Enabled(safeUnit))

	require.Len(t, f.metrics.exported, 2)
	rb := f.metrics.exported[1]
	assert.Equal(t, "rollback", rb.Verb)
	assert.Equal(t, types.OutcomeRecovered, rb.Outcome)
	assert.Equal(t, 0, rb.ExitCode)
}

func TestRollbackVerbUnrecovered(t *testing.T) {
	f := newFixture(t).safeModeHost()
	o := f.orchestrator(true)
	_, err := o.Install(context.Background())
	require.NoError(t, err)

	f.gw.NetworkDown = true
	report, err := o.Rollback(context.Background())
	require.ErrorIs(t, err, ErrProbe)
	assert.Equal(t, types.OutcomeUnrecovered, report.Outcome)
	assert.Contains(t, report.Guidance, "Recovery guide")
	assert.Contains(t, report.Guidance, "systemctl status "+safeUnit)
}

func TestRestoreReappliesLatestSnapshot(t *testing.T) {
	f := newFixture(t).safeModeHost()
	o := f.orchestrator(true)

	_, err := o.Restore(context.Background())
	assert.ErrorIs(t, err, snapshot.ErrNoSnapshot)

	_, err = o.Snapshots().Capture(context.Background())
	require.NoError(t, err)
	f.gw.SetUnit(safeUnit, false, false)

	res, err := o.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Reachable)
	assert.True(t, f.gw.Active(safeUnit))
	assert.True(t, f.gw.Enabled(safeUnit))
}

func TestTestVerbProbesEachWAN(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.root, "etc/routeguard/interfaces.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	doc := `interfaces:
  wan1: {type: wan, weight: 1, enabled: true, health_check: {enabled: true, target: 1.1.1.1, timeout: 1, retries: 2}}
  wan2: {type: wan, weight: 1, enabled: true, health_check: {enabled: false}}
  lan0: {type: lan, enabled: true, health_check: {enabled: true, target: 10.0.0.1, timeout: 1, retries: 1}}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	deps := f.deps(true)
	deps.InterfacesPath = "/etc/routeguard/interfaces.yaml"
	o := New(deps)

	report, err := o.Test(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Reachable)
	require.Len(t, report.WANs, 1)
	assert.Equal(t, "wan1", report.WANs[0].Interface)
	assert.Contains(t, f.gw.Calls, "ping 1.1.1.1 via wan1")

	f.gw.NetworkDown = true
	report, err = o.Test(context.Background())
	assert.ErrorIs(t, err, ErrProbe)
	assert.False(t, report.Reachable)
	assert.Len(t, report.Attempts, f.cfg.HealthCheck.RetryCount)
}

func TestStatusRendering(t *testing.T) {
	f := newFixture(t).safeModeHost()
	o := f.orchestrator(true)
	_, err := o.Install(context.Background())
	require.NoError(t, err)

	report, err := o.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.LastRun)
	assert.Equal(t, "install", report.LastRun.Verb)
	assert.Len(t, report.Snapshots, 1)
	assert.Equal(t, []string{"default via 192.168.1.1 dev eth0"}, report.DefaultRoutes)
	assert.True(t, report.SafeMode.Active)

	var out strings.Builder
	NewPrinter(&out, false).Status(report)
	text := out.String()
	assert.Contains(t, text, services.WatchdogUnit)
	assert.Contains(t, text, "Succeeded")
	assert.Contains(t, text, report.Snapshots[0].Name())
	assert.NotContains(t, text, "Interrupted")
}
