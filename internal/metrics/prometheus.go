package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/types"
)

// TextfileName is the node_exporter textfile written by Export.
const TextfileName = "routeguard.prom"

// RunMetrics is the subset of a finished run exported for node_exporter.
type RunMetrics struct {
	Hostname string
	Version  string
	Verb     string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Status         types.RunStatus
	Outcome        types.RollbackOutcome
	ExitCode       int
	StepsTotal     int
	StepsCompleted int
	FailedStep     int
	ProbeAttempts  int
	ProbeFailures  int
	RestoreErrors  int
	WarningCount   int
	ErrorCount     int
}

// PrometheusExporter writes run metrics in Prometheus textfile format.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates an exporter writing into textfileDir.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

var runStatuses = []types.RunStatus{types.RunRunning, types.RunSucceeded, types.RunFailed, types.RunRolledBack}

var rollbackOutcomes = []types.RollbackOutcome{types.OutcomeRecovered, types.OutcomeUnrecovered}

func gauge(reg *prometheus.Registry, name, help string, value float64) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "routeguard", Name: name, Help: help})
	g.Set(value)
	reg.MustRegister(g)
}

// Registry builds a fresh registry holding m.
func Registry(m *RunMetrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	startTs := float64(m.StartTime.Unix())
	endTs := float64(m.EndTime.Unix())
	if m.EndTime.IsZero() && !m.StartTime.IsZero() {
		endTs = float64(m.StartTime.Unix() + int64(m.Duration.Seconds()))
	}
	gauge(reg, "run_start_time_seconds", "Unix timestamp of the last run start", startTs)
	gauge(reg, "run_end_time_seconds", "Unix timestamp of the last run end", endTs)
	gauge(reg, "run_duration_seconds", "Duration of the last run in seconds", m.Duration.Seconds())
	gauge(reg, "run_exit_code", "Exit code of the last run", float64(m.ExitCode))
	gauge(reg, "run_steps_total", "Steps in the last pipeline", float64(m.StepsTotal))
	gauge(reg, "run_steps_completed", "Steps completed before the pipeline stopped", float64(m.StepsCompleted))
	gauge(reg, "run_failed_step", "Index of the failed step, -1 when none failed", float64(m.FailedStep))
	gauge(reg, "probe_attempts_total", "Connectivity checks sent during the last run", float64(m.ProbeAttempts))
	gauge(reg, "probe_failures_total", "Connectivity checks that failed during the last run", float64(m.ProbeFailures))
	gauge(reg, "restore_errors_total", "Snapshot artifacts that could not be reapplied", float64(m.RestoreErrors))
	gauge(reg, "warnings_total", "Warnings logged during the last run", float64(m.WarningCount))
	gauge(reg, "errors_total", "Errors logged during the last run", float64(m.ErrorCount))

	status := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "routeguard",
		Name:      "run_status",
		Help:      "Status of the last run (1 for the current status)",
	}, []string{"verb", "status"})
	for _, s := range runStatuses {
		v := 0.0
		if s == m.Status {
			v = 1
		}
		status.WithLabelValues(m.Verb, string(s)).Set(v)
	}
	reg.MustRegister(status)

	outcome := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "routeguard",
		Name:      "rollback_outcome",
		Help:      "Outcome of the last rollback (1 for the current outcome)",
	}, []string{"outcome"})
	for _, o := range rollbackOutcomes {
		v := 0.0
		if o == m.Outcome {
			v = 1
		}
		outcome.WithLabelValues(string(o)).Set(v)
	}
	reg.MustRegister(outcome)

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "routeguard",
		Name:      "info",
		Help:      "Static information about this routeguard instance",
	}, []string{"hostname", "version"})
	info.WithLabelValues(m.Hostname, m.Version).Set(1)
	reg.MustRegister(info)

	return reg
}

// Export writes m to routeguard.prom in the textfile directory.
func (pe *PrometheusExporter) Export(m *RunMetrics) error {
	if pe == nil || m == nil {
		return nil
	}
	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}
	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	finalPath := filepath.Join(pe.textfileDir, TextfileName)
	if err := prometheus.WriteToTextfile(finalPath, Registry(m)); err != nil {
		return fmt.Errorf("write metrics file %s: %w", finalPath, err)
	}
	logging.DebugStep(pe.logger, "metrics", "Prometheus metrics exported to %s", finalPath)
	return nil
}
