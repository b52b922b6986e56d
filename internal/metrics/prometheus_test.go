package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/types"
)

func TestPrometheusExporterExport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "textfile")
	exporter := NewPrometheusExporter(dir+"/", logging.Discard())

	m := &RunMetrics{
		Hostname:       "edge-1",
		Version:        "1.0.0",
		Verb:           "upgrade",
		StartTime:      time.Unix(1000, 0),
		EndTime:        time.Unix(1100, 0),
		Duration:       100 * time.Second,
		Status:         types.RunRolledBack,
		Outcome:        types.OutcomeRecovered,
		ExitCode:       1,
		StepsTotal:     10,
		StepsCompleted: 6,
		FailedStep:     6,
		ProbeAttempts:  9,
		ProbeFailures:  3,
		WarningCount:   2,
	}
	require.NoError(t, exporter.Export(m))

	data, err := os.ReadFile(filepath.Join(dir, TextfileName))
	require.NoError(t, err)
	content := string(data)
	for _, expected := range []string{
		"routeguard_run_start_time_seconds 1000",
		"routeguard_run_end_time_seconds 1100",
		"routeguard_run_duration_seconds 100",
		"routeguard_run_exit_code 1",
		"routeguard_run_failed_step 6",
		"routeguard_probe_failures_total 3",
		`routeguard_run_status{status="rolled_back",verb="upgrade"} 1`,
		`routeguard_run_status{status="succeeded",verb="upgrade"} 0`,
		`routeguard_rollback_outcome{outcome="recovered"} 1`,
		`routeguard_info{hostname="edge-1",version="1.0.0"} 1`,
		"# TYPE routeguard_warnings_total gauge",
	} {
		assert.Contains(t, content, expected)
	}
}

func TestExportDerivesEndTime(t *testing.T) {
	dir := t.TempDir()
	exporter := NewPrometheusExporter(dir, logging.Discard())
	require.NoError(t, exporter.Export(&RunMetrics{
		Verb:       "install",
		StartTime:  time.Unix(2000, 0),
		Duration:   30 * time.Second,
		Status:     types.RunSucceeded,
		FailedStep: -1,
	}))
	data, err := os.ReadFile(filepath.Join(dir, TextfileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "routeguard_run_end_time_seconds 2030")
	assert.Contains(t, string(data), "routeguard_run_failed_step -1")
}

func TestExportNilAndEmptyDir(t *testing.T) {
	var pe *PrometheusExporter
	assert.NoError(t, pe.Export(&RunMetrics{}))
	assert.NoError(t, NewPrometheusExporter(t.TempDir(), nil).Export(nil))
	assert.Error(t, NewPrometheusExporter("", nil).Export(&RunMetrics{}))
}
