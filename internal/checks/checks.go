// Package checks implements the --diagnose verb: read-only checks that the
// host has what the router services need.
package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tis24dev/routeguard/internal/config"
	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/safefs"
	"github.com/tis24dev/routeguard/internal/services"
)

// RequiredCommands must be on PATH for the router services to work.
var RequiredCommands = []string{"ip", "iptables", "nft", "ping", "python3", "systemctl"}

var osOpen = os.Open

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name    string
	Passed  bool
	Message string
	Error   error
	// Details lists individual findings, failures first.
	Details []string
}

// CheckerConfig holds what the checks inspect.
type CheckerConfig struct {
	Config         *config.Config
	InterfacesPath string
	// Root prefixes every host path; "" means "/".
	Root      string
	Commands  []string
	MinFreeMB uint64
	FSTimeout time.Duration
}

// Checker runs the diagnose checks.
type Checker struct {
	logger   *logging.Logger
	config   *CheckerConfig
	chain    []services.Descriptor
	lookPath func(string) (string, error)
}

// NewChecker creates a Checker; zero fields in cfg take defaults.
func NewChecker(logger *logging.Logger, cfg *CheckerConfig) *Checker {
	if cfg.Config == nil {
		cfg.Config = config.Default()
	}
	if cfg.Commands == nil {
		cfg.Commands = RequiredCommands
	}
	if cfg.InterfacesPath == "" {
		cfg.InterfacesPath = cfg.Config.ProjectPath("config", "interfaces.json")
	}
	if cfg.MinFreeMB == 0 {
		cfg.MinFreeMB = 50
	}
	if cfg.FSTimeout <= 0 {
		cfg.FSTimeout = safefs.DefaultTimeout
	}
	return &Checker{
		logger:   logger,
		config:   cfg,
		chain:    services.Chain(cfg.Config),
		lookPath: exec.LookPath,
	}
}

// SetLookPath replaces the PATH lookup.
func (c *Checker) SetLookPath(fn func(string) (string, error)) { c.lookPath = fn }

func (c *Checker) hostPath(p string) string {
	if c.config.Root == "" {
		return p
	}
	return filepath.Join(c.config.Root, p)
}

// RunAllChecks runs every check, even after a failure, and returns an
// error naming the checks that failed.
func (c *Checker) RunAllChecks(ctx context.Context) ([]CheckResult, error) {
	c.logger.Debug("Running diagnose checks")
	checks := []func(context.Context) CheckResult{
		c.CheckCommands,
		c.CheckDirectories,
		c.CheckConfigDocuments,
		c.CheckUnitFiles,
		c.CheckEntryPoints,
		c.CheckDiskSpace,
	}
	var results []CheckResult
	var failed []string
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := check(ctx)
		results = append(results, res)
		if res.Passed {
			c.logger.Debug("%s: %s", res.Name, res.Message)
			continue
		}
		failed = append(failed, res.Name)
		c.logger.Warning("%s: %s", res.Name, res.Message)
	}
	if len(failed) > 0 {
		return results, fmt.Errorf("%d check(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	c.logger.Debug("All diagnose checks passed")
	return results, nil
}

// CheckCommands verifies every required command is on PATH.
func (c *Checker) CheckCommands(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Commands"}
	var missing []string
	for _, name := range c.config.Commands {
		path, err := c.lookPath(name)
		if err != nil {
			missing = append(missing, name)
			result.Details = append(result.Details, fmt.Sprintf("%s: not found", name))
			continue
		}
		result.Details = append(result.Details, fmt.Sprintf("%s: %s", name, path))
	}
	if len(missing) > 0 {
		result.Error = fmt.Errorf("missing commands: %s", strings.Join(missing, ", "))
		result.Message = result.Error.Error()
		return result
	}
	result.Passed = true
	result.Message = fmt.Sprintf("%d commands available", len(c.config.Commands))
	return result
}

// CheckDirectories verifies the project tree exists. Unlike the deploy step
// it never creates anything.
func (c *Checker) CheckDirectories(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Directories"}
	var missing []string
	for _, dir := range append([]string{""}, config.ProjectDirs...) {
		path := c.hostPath(c.config.Config.ProjectPath(dir))
		info, err := safefs.Stat(ctx, path, c.config.FSTimeout)
		switch {
		case err == nil && info.IsDir():
			continue
		case err == nil:
			missing = append(missing, path)
			result.Details = append(result.Details, fmt.Sprintf("%s: not a directory", path))
		case errors.Is(err, os.ErrNotExist):
			missing = append(missing, path)
			result.Details = append(result.Details, fmt.Sprintf("%s: missing", path))
		default:
			missing = append(missing, path)
			result.Details = append(result.Details, fmt.Sprintf("%s: %v", path, err))
		}
	}
	if len(missing) > 0 {
		result.Error = fmt.Errorf("%d project director(ies) missing under %s", len(missing), c.config.Config.System.ProjectRoot)
		result.Message = result.Error.Error()
		return result
	}
	result.Passed = true
	result.Message = "Project directory structure present"
	return result
}

// CheckConfigDocuments verifies the settings and interface documents parse
// and validate.
func (c *Checker) CheckConfigDocuments(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Configuration"}
	cfg := c.config.Config
	settingsPath := cfg.Path
	if settingsPath == "" {
		settingsPath = c.hostPath(cfg.ProjectPath("config", "router.conf"))
	}

	var problems []string
	if _, err := safefs.Stat(ctx, settingsPath, c.config.FSTimeout); err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", settingsPath, err))
	} else if loaded, err := config.Load(settingsPath); err != nil {
		problems = append(problems, err.Error())
	} else if err := loaded.Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", settingsPath, err))
	} else {
		result.Details = append(result.Details, settingsPath+": ok")
	}

	ifacePath := c.hostPath(c.config.InterfacesPath)
	if doc, err := config.LoadInterfaces(ifacePath); err != nil {
		problems = append(problems, err.Error())
	} else if len(doc.EnabledWANs()) == 0 {
		problems = append(problems, fmt.Sprintf("%s: no enabled wan interface", ifacePath))
	} else {
		result.Details = append(result.Details, fmt.Sprintf("%s: ok (%d wan)", ifacePath, len(doc.EnabledWANs())))
	}

	if len(problems) > 0 {
		result.Details = append(problems, result.Details...)
		result.Error = errors.New(strings.Join(problems, "; "))
		result.Message = result.Error.Error()
		return result
	}
	result.Passed = true
	result.Message = "Configuration documents valid"
	return result
}

// CheckUnitFiles verifies a unit file exists for every service in the chain.
func (c *Checker) CheckUnitFiles(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Unit Files"}
	dir := c.hostPath(c.config.Config.Orchestrator.UnitDir)
	var missing []string
	for _, d := range c.chain {
		path := filepath.Join(dir, d.Name+".service")
		if _, err := safefs.Stat(ctx, path, c.config.FSTimeout); err != nil {
			missing = append(missing, d.Name)
			result.Details = append(result.Details, fmt.Sprintf("%s: %v", path, err))
		}
	}
	if len(missing) > 0 {
		result.Error = fmt.Errorf("unit files missing for %s", strings.Join(missing, ", "))
		result.Message = result.Error.Error()
		return result
	}
	result.Passed = true
	result.Message = fmt.Sprintf("%d unit files installed in %s", len(c.chain), dir)
	return result
}

// CheckEntryPoints verifies the script each unit runs can be read.
func (c *Checker) CheckEntryPoints(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Entry Points"}
	var bad []string
	for _, d := range c.chain {
		script := EntryPoint(d)
		if script == "" {
			continue
		}
		path := c.hostPath(script)
		f, err := osOpen(path)
		if err != nil {
			bad = append(bad, filepath.Base(script))
			result.Details = append(result.Details, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		f.Close()
	}
	if len(bad) > 0 {
		result.Error = fmt.Errorf("unreadable entry points: %s", strings.Join(bad, ", "))
		result.Message = result.Error.Error()
		return result
	}
	result.Passed = true
	result.Message = "Service entry points readable"
	return result
}

// EntryPoint returns the script argument of a descriptor's ExecStart.
func EntryPoint(d services.Descriptor) string {
	fields := strings.Fields(d.ExecStart)
	if len(fields) < 2 {
		return ""
	}
	return fields[len(fields)-1]
}

// CheckDiskSpace verifies room for a snapshot on the filesystem holding the
// snapshot directory.
func (c *Checker) CheckDiskSpace(ctx context.Context) CheckResult {
	result := CheckResult{Name: "Disk Space"}
	path := existingParent(c.hostPath(c.config.Config.Orchestrator.SnapshotDir))
	free, err := safefs.FreeBytes(ctx, path, c.config.FSTimeout)
	if err != nil {
		result.Error = fmt.Errorf("statfs %s: %w", path, err)
		result.Message = result.Error.Error()
		return result
	}
	freeMB := free / (1024 * 1024)
	if freeMB < c.config.MinFreeMB {
		result.Error = fmt.Errorf("only %d MB free on %s, need %d MB for snapshots", freeMB, path, c.config.MinFreeMB)
		result.Message = result.Error.Error()
		return result
	}
	result.Passed = true
	result.Message = fmt.Sprintf("%d MB free on %s", freeMB, path)
	return result
}

func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
