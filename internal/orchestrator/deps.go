package orchestrator

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/tis24dev/routeguard/internal/config"
	"github.com/tis24dev/routeguard/internal/journal"
	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/system"
)

// Prompter asks the operator for confirmation.
type Prompter interface {
	Confirm(ctx context.Context, question string, defaultYes bool) (bool, error)
}

// RunStore is the journal as seen by the entry points.
type RunStore interface {
	Recorder
	LatestRun(ctx context.Context) (journal.RunRecord, error)
	Interrupted(ctx context.Context) ([]journal.RunRecord, error)
	MarkAbandoned(ctx context.Context, id string, note string) error
	Steps(ctx context.Context, runID string) ([]journal.StepRecord, error)
}

// Deps groups the orchestrator's collaborators. Zero fields get host-backed
// defaults.
type Deps struct {
	Logger *logging.Logger
	Config *config.Config
	// InterfacesPath overrides the interface document location.
	InterfacesPath string

	Gateway   system.Gateway
	Installer system.PackageInstaller
	Prompter  Prompter
	Store     RunStore
	Metrics   MetricsExporter

	// Sleep replaces the settle wait; ProbeInterval the pause between
	// failed probe attempts. Both exist for tests.
	Sleep         func(ctx context.Context, d time.Duration) error
	ProbeInterval *time.Duration

	// Root prefixes every host path touched outside the gateway.
	Root string
	// Guide is markdown appended to emergency guidance.
	Guide     string
	Version   string
	AssumeYes bool
	Out       io.Writer
}

func defaultDeps(logger *logging.Logger) Deps {
	host := system.NewHost(logger)
	return Deps{
		Logger:    logger,
		Config:    config.Default(),
		Gateway:   host,
		Installer: host,
		Prompter:  newConsolePrompter(os.Stdin, os.Stdout),
		Out:       os.Stdout,
	}
}

func (d Deps) withDefaults() Deps {
	logger := d.Logger
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	base := defaultDeps(logger)
	if d.Config != nil {
		base.Config = d.Config
	}
	if d.Gateway != nil {
		base.Gateway = d.Gateway
		base.Installer = nil
		if inst, ok := d.Gateway.(system.PackageInstaller); ok {
			base.Installer = inst
		}
	}
	if d.Installer != nil {
		base.Installer = d.Installer
	}
	if d.Prompter != nil {
		base.Prompter = d.Prompter
	}
	if d.Out != nil {
		base.Out = d.Out
	}
	base.InterfacesPath = d.InterfacesPath
	base.Store = d.Store
	base.Metrics = d.Metrics
	base.Sleep = d.Sleep
	base.ProbeInterval = d.ProbeInterval
	base.Root = d.Root
	base.Guide = d.Guide
	base.Version = d.Version
	base.AssumeYes = d.AssumeYes
	return base
}
