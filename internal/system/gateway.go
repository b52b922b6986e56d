// Package system is the narrow capability boundary between routeguard and the
// host: network state queries, systemd unit control, package installation and
// reachability probes. Everything above this package is testable against the
// in-memory gateway in systemtest.
package system

import (
	"context"
	"errors"
	"os/exec"
	"time"
)

// ErrUnitNotFound is returned when systemd does not know the unit.
var ErrUnitNotFound = errors.New("unit not found")

// CommandRunner executes host commands and returns combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// InterfaceAddr is one line of `ip -br addr`.
type InterfaceAddr struct {
	Name      string
	State     string
	Addresses []string
}

// ProbeResult is the outcome of a single reachability check.
type ProbeResult struct {
	Target    string
	Interface string
	At        time.Time
	OK        bool
	Latency   time.Duration
	Reason    string
}

// Gateway is everything routeguard needs to observe or mutate on the host.
type Gateway interface {
	Interfaces(ctx context.Context) ([]InterfaceAddr, error)
	Routes(ctx context.Context) (string, error)
	Rules(ctx context.Context) (string, error)

	ServiceActive(ctx context.Context, unit string) (bool, error)
	ServiceEnabled(ctx context.Context, unit string) (bool, error)
	StartService(ctx context.Context, unit string) error
	StopService(ctx context.Context, unit string) error
	EnableService(ctx context.Context, unit string) error
	DisableService(ctx context.Context, unit string) error
	DaemonReload(ctx context.Context) error

	// ReloadNetwork reapplies on-disk network definitions.
	ReloadNetwork(ctx context.Context) error

	// Ping sends one reachability check to target, optionally bound to iface.
	Ping(ctx context.Context, target, iface string, timeout time.Duration) ProbeResult
}

// PackageManager names the installer a package comes from.
type PackageManager string

const (
	PackageApt PackageManager = "apt"
	PackagePip PackageManager = "pip"
)

// PackageInstaller installs one package.
type PackageInstaller interface {
	InstallPackage(ctx context.Context, manager PackageManager, name string) error
}
