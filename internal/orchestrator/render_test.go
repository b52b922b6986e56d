package orchestrator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tis24dev/routeguard/internal/probe"
	"github.com/tis24dev/routeguard/internal/snapshot"
	"github.com/tis24dev/routeguard/internal/types"
)

func TestLabel(t *testing.T) {
	assert.Equal(t, "Rolled Back", label("rolled_back"))
	assert.Equal(t, "Succeeded", label("succeeded"))
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "no run", Summary(nil))

	ok := &PipelineRun{Verb: "install", Steps: make([]Step, 8), Phase: PhaseSucceeded, Status: types.RunSucceeded}
	assert.Equal(t, "install succeeded: 8 step(s), connectivity confirmed", Summary(ok))

	failed := &PipelineRun{
		Verb:       "upgrade",
		Phase:      PhaseRolledBack,
		FailedStep: 6,
		FailedName: StepStartWatchdog,
		Rollback: &RollbackReport{
			Outcome:    types.OutcomeRecovered,
			RestoreErr: &snapshot.RestoreError{Failures: []snapshot.ArtifactFailure{{Artifact: "/etc/hosts", Err: errors.New("denied")}}},
		},
	}
	assert.Equal(t, "upgrade failed at step 7 (start watchdog service); rollback recovered, not restored: /etc/hosts", Summary(failed))
}

func TestEmergencyGuidance(t *testing.T) {
	r := &RollbackReport{
		Snapshot:        "snapshot_20260501_120000_01234567",
		Stopped:         []string{"routeros-web", "routeros-routing"},
		Disabled:        []string{"routeros-routing"},
		SafeModeService: safeUnit,
		SafeModeErr:     errors.New("unit failed"),
		ProbeAttempts:   3,
	}
	text := EmergencyGuidance(r, probe.Spec{Target: "1.1.1.1"}, "  ## Site notes\nCall the NOC.  ")

	assert.True(t, strings.HasPrefix(text, "# Connectivity was not restored"))
	assert.Contains(t, text, "`1.1.1.1` is still unreachable after 3 attempt(s)")
	assert.Contains(t, text, "- stopped: routeros-web, routeros-routing")
	assert.Contains(t, text, "failed to start**: unit failed")
	assert.Contains(t, text, "ping -c 3 1.1.1.1")
	assert.True(t, strings.HasSuffix(text, "## Site notes\nCall the NOC.\n"))
}

func TestPrinterRunShowsGuidanceOnlyWhenUnrecovered(t *testing.T) {
	run := &PipelineRun{
		ID:         "abcdef0123456789",
		Verb:       "upgrade",
		Status:     types.RunRolledBack,
		FailedStep: 0,
		FailedName: StepCheckConnectivity,
		Results:    []StepResult{{Index: 0, Name: StepCheckConnectivity, Attempts: 3}},
		Warnings:   []string{"pip netifaces: build failed"},
		Rollback:   &RollbackReport{Outcome: types.OutcomeRecovered, Guidance: "# Connectivity was not restored"},
	}

	var out strings.Builder
	NewPrinter(&out, false).Run(run)
	text := out.String()
	assert.Contains(t, text, "Upgrade abcdef01")
	assert.Contains(t, text, "1. check connectivity")
	assert.Contains(t, text, "FAIL")
	assert.Contains(t, text, "! pip netifaces: build failed")
	assert.Contains(t, text, "Rolled Back (Recovered)")
	assert.NotContains(t, text, "Connectivity was not restored")

	run.Rollback.Outcome = types.OutcomeUnrecovered
	out.Reset()
	NewPrinter(&out, false).Run(run)
	assert.Contains(t, out.String(), "# Connectivity was not restored")
}

func TestPrinterTest(t *testing.T) {
	var out strings.Builder
	NewPrinter(&out, false).Test(&TestReport{
		Target:    "8.8.8.8",
		Reachable: false,
		WANs:      []WANProbe{{Interface: "eth1", Target: "1.1.1.1", Reason: "no reply"}},
	})
	assert.Contains(t, out.String(), "UNREACHABLE")
	assert.Contains(t, out.String(), "via eth1")
	assert.Contains(t, out.String(), "no reply")
}
