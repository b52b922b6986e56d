package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tis24dev/routeguard/internal/config"
	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/probe"
	"github.com/tis24dev/routeguard/internal/services"
	"github.com/tis24dev/routeguard/internal/system"
)

// Step names. Verbs select pipelines by these names.
const (
	StepCheckConnectivity = "check connectivity"
	StepInstallPackages   = "install packages"
	StepDeployConfig      = "deploy configuration"
	StepInstallUnits      = "install service units"
	StepStopSafeMode      = "stop safe mode"
	StepStartRouting      = "start routing service"
	StepStartWatchdog     = "start watchdog service"
	StepStartWeb          = "start web service"
	StepEnableServices    = "enable services"
	StepDisableSafeMode   = "disable safe mode"
)

// Verbs that run a pipeline.
const (
	VerbInstall = "install"
	VerbUpgrade = "upgrade"
)

var pipelines = map[string][]string{
	VerbInstall: {
		StepCheckConnectivity,
		StepInstallPackages,
		StepDeployConfig,
		StepInstallUnits,
		StepStartRouting,
		StepStartWatchdog,
		StepStartWeb,
		StepEnableServices,
	},
	VerbUpgrade: {
		StepCheckConnectivity,
		StepInstallPackages,
		StepDeployConfig,
		StepInstallUnits,
		StepStopSafeMode,
		StepStartRouting,
		StepStartWatchdog,
		StepStartWeb,
		StepEnableServices,
		StepDisableSafeMode,
	},
}

// PipelineNames returns the step names verb runs.
func PipelineNames(verb string) ([]string, bool) {
	names, ok := pipelines[verb]
	if !ok {
		return nil, false
	}
	return append([]string(nil), names...), true
}

// Package is one dependency installed by the "install packages" step.
type Package struct {
	Manager   system.PackageManager
	Name      string
	Essential bool
}

// DefaultPackages are the system and Python dependencies of the router
// services.
var DefaultPackages = []Package{
	{Manager: system.PackageApt, Name: "python3", Essential: true},
	{Manager: system.PackageApt, Name: "python3-pip", Essential: true},
	{Manager: system.PackageApt, Name: "iproute2", Essential: true},
	{Manager: system.PackageApt, Name: "iptables", Essential: true},
	{Manager: system.PackageApt, Name: "iputils-ping", Essential: true},
	{Manager: system.PackageApt, Name: "nftables"},
	{Manager: system.PackagePip, Name: "flask", Essential: true},
	{Manager: system.PackagePip, Name: "psutil", Essential: true},
	{Manager: system.PackagePip, Name: "requests"},
	{Manager: system.PackagePip, Name: "netifaces"},
}

const packageAttempts = 2

// CatalogOptions wires a Catalog.
type CatalogOptions struct {
	Config    *config.Config
	Gateway   system.Gateway
	Installer system.PackageInstaller
	Services  *services.Controller
	// Gate is the connectivity check attached to gated steps.
	Gate     probe.Spec
	Packages []Package
	// InterfacesPath overrides the interface document location.
	InterfacesPath string
	// Root prefixes every host path written by the catalog; "" means "/".
	Root   string
	Logger *logging.Logger
}

// Catalog builds the named steps every pipeline is assembled from.
type Catalog struct {
	opts  CatalogOptions
	chain []services.Descriptor
}

// NewCatalog returns a Catalog for opts.
func NewCatalog(opts CatalogOptions) *Catalog {
	if opts.Packages == nil {
		opts.Packages = DefaultPackages
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	return &Catalog{opts: opts, chain: services.Chain(opts.Config)}
}

// Chain returns the service descriptors in dependency order.
func (c *Catalog) Chain() []services.Descriptor { return c.chain }

// Pipeline returns the steps for verb.
func (c *Catalog) Pipeline(verb string) ([]Step, error) {
	names, ok := pipelines[verb]
	if !ok {
		return nil, fmt.Errorf("no pipeline for verb %q", verb)
	}
	steps := make([]Step, 0, len(names))
	for _, name := range names {
		step, err := c.Step(name)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// Step returns the step called name.
func (c *Catalog) Step(name string) (Step, error) {
	gate := c.opts.Gate
	switch name {
	case StepCheckConnectivity:
		return Step{Name: name, Probe: &gate}, nil
	case StepInstallPackages:
		return Step{Name: name, Action: c.installPackages, Probe: &gate}, nil
	case StepDeployConfig:
		return Step{Name: name, Action: c.deployConfig}, nil
	case StepInstallUnits:
		return Step{Name: name, Action: c.installUnits}, nil
	case StepStopSafeMode:
		return Step{Name: name, Action: c.stopSafeMode, Probe: &gate}, nil
	case StepStartRouting:
		return c.startStep(name, services.RoutingUnit, gate)
	case StepStartWatchdog:
		return c.startStep(name, services.WatchdogUnit, gate)
	case StepStartWeb:
		return c.startStep(name, services.WebUnit, gate)
	case StepEnableServices:
		return Step{Name: name, Action: c.enableServices}, nil
	case StepDisableSafeMode:
		return Step{Name: name, Action: c.disableSafeMode}, nil
	}
	return Step{}, fmt.Errorf("unknown step %q", name)
}

func (c *Catalog) hostPath(p string) string { return hostPath(c.opts.Root, p) }

func (c *Catalog) startStep(name, unit string, gate probe.Spec) (Step, error) {
	d, ok := services.Find(c.chain, unit)
	if !ok {
		return Step{}, fmt.Errorf("step %q: unit %s not in service chain", name, unit)
	}
	return Step{
		Name: name,
		Action: func(ctx context.Context, run *PipelineRun) error {
			run.MarkStarted(d.Name)
			return c.opts.Services.Start(ctx, d)
		},
		Probe: &gate,
	}, nil
}

func (c *Catalog) installPackages(ctx context.Context, run *PipelineRun) error {
	logger := c.opts.Logger
	if c.opts.Installer == nil {
		logger.Skip("No package installer available; assuming dependencies are present")
		return nil
	}
	for _, pkg := range c.opts.Packages {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		for attempt := 1; attempt <= packageAttempts; attempt++ {
			if err = c.opts.Installer.InstallPackage(ctx, pkg.Manager, pkg.Name); err == nil {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.DebugStep(logger, "install packages", "%s %s attempt %d/%d failed: %v", pkg.Manager, pkg.Name, attempt, packageAttempts, err)
		}
		if err == nil {
			logger.Debug("Installed %s package %s", pkg.Manager, pkg.Name)
			continue
		}
		perr := &PackageError{Manager: pkg.Manager, Package: pkg.Name, Essential: pkg.Essential, Err: err}
		if pkg.Essential {
			return perr
		}
		logger.Warning("%v", perr)
		run.Warn("%v", perr)
	}
	return nil
}

// deployConfig creates the project tree and writes default documents where
// none exist. Existing documents are never overwritten.
func (c *Catalog) deployConfig(ctx context.Context, run *PipelineRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := c.opts.Config
	for _, dir := range append([]string{""}, config.ProjectDirs...) {
		path := c.hostPath(cfg.ProjectPath(dir))
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	settingsPath := cfg.Path
	if settingsPath == "" {
		settingsPath = cfg.ProjectPath("config", "router.conf")
	}
	if err := c.writeIfAbsent(c.hostPath(settingsPath), cfg.Marshal); err != nil {
		return err
	}

	interfacesPath := c.opts.InterfacesPath
	if interfacesPath == "" {
		interfacesPath = cfg.ProjectPath("config", "interfaces.json")
	}
	return c.writeIfAbsent(c.hostPath(interfacesPath), config.DefaultInterfaces().Marshal)
}

func (c *Catalog) writeIfAbsent(path string, render func() ([]byte, error)) error {
	if _, err := os.Stat(path); err == nil {
		c.opts.Logger.Skip("%s exists; keeping it", path)
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := render()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	c.opts.Logger.Info("Wrote default %s", path)
	return nil
}

func (c *Catalog) installUnits(ctx context.Context, run *PipelineRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := c.hostPath(c.opts.Config.Orchestrator.UnitDir)
	written, err := services.InstallUnits(ctx, c.opts.Gateway, dir, c.chain)
	if err != nil {
		return err
	}
	if len(written) == 0 {
		c.opts.Logger.Skip("Unit files already up to date")
	} else {
		c.opts.Logger.Info("Installed unit files: %s", strings.Join(written, ", "))
	}
	return nil
}

func (c *Catalog) safeMode() string { return c.opts.Config.Orchestrator.SafeModeService }

func (c *Catalog) stopSafeMode(ctx context.Context, run *PipelineRun) error {
	if run.Snapshot != nil && !run.Snapshot.SafeModeWasActive() {
		c.opts.Logger.Skip("Safe mode %s is not running", c.safeMode())
		return nil
	}
	return c.opts.Services.Stop(ctx, c.safeMode())
}

func (c *Catalog) enableServices(ctx context.Context, run *PipelineRun) error {
	names := services.Names(c.chain)
	run.MarkEnabled(names...)
	return c.opts.Services.EnableAll(ctx, names)
}

func (c *Catalog) disableSafeMode(ctx context.Context, run *PipelineRun) error {
	return c.opts.Services.DisableAll(ctx, []string{c.safeMode()})
}
