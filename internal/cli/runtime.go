package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/tis24dev/routeguard/internal/config"
	"github.com/tis24dev/routeguard/internal/journal"
	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/metrics"
	"github.com/tis24dev/routeguard/internal/orchestrator"
	"github.com/tis24dev/routeguard/internal/types"
)

const defaultConfigPath = config.DefaultSettingsPath

// runtime is everything a verb needs, built once per invocation.
type runtime struct {
	env     *Env
	opts    *Options
	cfg     *config.Config
	logger  *logging.Logger
	journal *journal.Journal
	metrics *metrics.PrometheusExporter
	printer *orchestrator.Printer
}

func hostPath(root, p string) string {
	if root == "" || p == "" {
		return p
	}
	return filepath.Join(root, p)
}

func setup(ctx context.Context, env *Env, opts *Options) (*runtime, error) {
	bootstrap := env.Bootstrap

	path := opts.ConfigPath
	if path == "" {
		path = hostPath(env.Root, defaultConfigPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		bootstrap.Debug("No settings at %s; using defaults", path)
	}
	if opts.Target != "" {
		cfg.HealthCheck.TargetHost = opts.Target
	}
	if opts.Timeout != 0 {
		cfg.HealthCheck.TimeoutSeconds = opts.Timeout
	}
	if opts.Retries != 0 {
		cfg.HealthCheck.RetryCount = opts.Retries
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}

	levelText := cfg.System.LogLevel
	if opts.LogLevel != "" {
		levelText = opts.LogLevel
	}
	level := types.ParseLogLevel(levelText)
	color := env.color()
	logger := logging.New(level, color)
	logger.SetOutput(env.Stdout)
	if lf := cfg.Orchestrator.LogFile; lf != "" {
		if err := logger.OpenLogFile(hostPath(env.Root, lf)); err != nil {
			logger.Warning("Log file: %v", err)
		}
	}
	logging.SetDefaultLogger(logger)
	bootstrap.SetLevel(level)
	bootstrap.Flush(logger)

	rt := &runtime{
		env:     env,
		opts:    opts,
		cfg:     cfg,
		logger:  logger,
		printer: orchestrator.NewPrinter(env.Stdout, color),
	}
	if jp := cfg.Orchestrator.JournalPath; jp != "" {
		j, err := journal.Open(hostPath(env.Root, jp))
		if err != nil {
			logger.Warning("Run journal unavailable: %v", err)
		} else {
			rt.journal = j
		}
	}
	if dir := cfg.Orchestrator.MetricsDir; dir != "" {
		rt.metrics = metrics.NewPrometheusExporter(hostPath(env.Root, dir), logger)
	}
	logging.DebugStep(logger, "setup", "settings=%s level=%s journal=%t metrics=%t", path, level, rt.journal != nil, rt.metrics != nil)
	return rt, nil
}

func (rt *runtime) close() {
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			rt.logger.Warning("Journal close: %v", err)
		}
	}
	if err := rt.logger.CloseLogFile(); err != nil {
		rt.logger.Warning("Log file close: %v", err)
	}
}

func (rt *runtime) orchestrator(assumeYes bool) *orchestrator.Orchestrator {
	deps := orchestrator.Deps{
		Logger:         rt.logger,
		Config:         rt.cfg,
		InterfacesPath: rt.opts.InterfacesPath,
		Gateway:        rt.env.Gateway,
		Prompter:       rt.env.Prompter,
		Root:           rt.env.Root,
		Guide:          rt.env.Guide,
		Version:        rt.env.Version,
		AssumeYes:      assumeYes,
		Out:            rt.env.Stdout,
	}
	// leave the interfaces nil rather than holding a typed nil
	if rt.journal != nil {
		deps.Store = rt.journal
	}
	if rt.metrics != nil {
		deps.Metrics = rt.metrics
	}
	if rt.env.Fast {
		zero := time.Duration(0)
		deps.ProbeInterval = &zero
		deps.Sleep = func(context.Context, time.Duration) error { return nil }
	}
	return orchestrator.New(deps)
}
