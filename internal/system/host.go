package system

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tis24dev/routeguard/internal/logging"
)

const defaultCommandTimeout = 30 * time.Second

var pingTimeRe = regexp.MustCompile(`time[=<]\s*([0-9.]+)\s*ms`)

// Host implements Gateway and PackageInstaller against the local machine
// using ip, systemctl, ping, netplan, apt-get and pip3.
type Host struct {
	Runner         CommandRunner
	Logger         *logging.Logger
	LookPath       func(string) (string, error)
	CommandTimeout time.Duration
	Now            func() time.Time
}

// NewHost returns a Host backed by os/exec.
func NewHost(logger *logging.Logger) *Host {
	return &Host{
		Runner:         ExecRunner{},
		Logger:         logger,
		LookPath:       exec.LookPath,
		CommandTimeout: defaultCommandTimeout,
		Now:            time.Now,
	}
}

func (h *Host) run(ctx context.Context, name string, args ...string) (string, error) {
	timeout := h.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	logging.DebugStep(h.Logger, "host", "Run: %s %s", name, strings.Join(args, " "))
	out, err := h.Runner.Run(ctx, name, args...)
	text := strings.TrimSpace(string(out))
	if err != nil {
		if text != "" {
			return text, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, text)
		}
		return text, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return text, nil
}

func (h *Host) available(name string) bool {
	if h.LookPath == nil {
		return true
	}
	_, err := h.LookPath(name)
	return err == nil
}

// Interfaces parses `ip -br addr`.
func (h *Host) Interfaces(ctx context.Context) ([]InterfaceAddr, error) {
	out, err := h.run(ctx, "ip", "-br", "addr")
	if err != nil {
		return nil, err
	}
	return ParseBriefAddr(out), nil
}

// Routes returns the main routing table as text.
func (h *Host) Routes(ctx context.Context) (string, error) {
	return h.run(ctx, "ip", "route", "show")
}

// Rules returns the policy routing rules as text.
func (h *Host) Rules(ctx context.Context) (string, error) {
	return h.run(ctx, "ip", "rule", "show")
}

// ServiceActive reports whether systemd considers unit active. Inactive,
// failed and unknown units are reported as false without error.
func (h *Host) ServiceActive(ctx context.Context, unit string) (bool, error) {
	out, err := h.run(ctx, "systemctl", "is-active", unit)
	state := strings.ToLower(firstLine(out))
	switch state {
	case "active", "reloading":
		return true, nil
	case "inactive", "failed", "activating", "deactivating", "unknown", "not-found":
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return false, fmt.Errorf("systemctl is-active %s: unexpected output %q", unit, out)
}

// ServiceEnabled reports whether unit starts at boot.
func (h *Host) ServiceEnabled(ctx context.Context, unit string) (bool, error) {
	out, err := h.run(ctx, "systemctl", "is-enabled", unit)
	state := strings.ToLower(firstLine(out))
	switch state {
	case "enabled", "enabled-runtime", "alias", "static", "indirect":
		return true, nil
	case "disabled", "masked", "masked-runtime", "linked", "generated", "transient", "not-found", "":
		if err != nil && state == "" && !isNotFound(out) {
			return false, err
		}
		return false, nil
	}
	if isNotFound(out) {
		return false, nil
	}
	return false, err
}

// StartService starts unit.
func (h *Host) StartService(ctx context.Context, unit string) error {
	out, err := h.run(ctx, "systemctl", "start", unit)
	if err != nil && isNotFound(out) {
		return fmt.Errorf("start %s: %w", unit, ErrUnitNotFound)
	}
	return err
}

// StopService stops unit. Unknown or already stopped units are not errors.
func (h *Host) StopService(ctx context.Context, unit string) error {
	out, err := h.run(ctx, "systemctl", "stop", unit)
	if err != nil && isNotFound(out) {
		return nil
	}
	return err
}

// EnableService enables unit at boot.
func (h *Host) EnableService(ctx context.Context, unit string) error {
	out, err := h.run(ctx, "systemctl", "enable", unit)
	if err != nil && isNotFound(out) {
		return fmt.Errorf("enable %s: %w", unit, ErrUnitNotFound)
	}
	return err
}

// DisableService disables unit at boot. Unknown units are not errors.
func (h *Host) DisableService(ctx context.Context, unit string) error {
	out, err := h.run(ctx, "systemctl", "disable", unit)
	if err != nil && isNotFound(out) {
		return nil
	}
	return err
}

// DaemonReload makes systemd pick up rewritten unit files.
func (h *Host) DaemonReload(ctx context.Context) error {
	_, err := h.run(ctx, "systemctl", "daemon-reload")
	return err
}

// ReloadNetwork prefers netplan, then ifupdown's networking unit.
func (h *Host) ReloadNetwork(ctx context.Context) error {
	switch {
	case h.available("netplan"):
		_, err := h.run(ctx, "netplan", "apply")
		return err
	case h.available("systemctl"):
		_, err := h.run(ctx, "systemctl", "restart", "networking")
		return err
	default:
		return errors.New("no supported network reload command found (netplan/systemctl)")
	}
}

// Ping sends a single ICMP echo with ping(8).
func (h *Host) Ping(ctx context.Context, target, iface string, timeout time.Duration) ProbeResult {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	res := ProbeResult{Target: target, Interface: iface, At: now()}

	secs := int(timeout.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	args := []string{"-c", "1", "-W", strconv.Itoa(secs)}
	if iface != "" {
		args = append(args, "-I", iface)
	}
	args = append(args, target)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(secs)*time.Second+time.Second)
	defer cancel()
	started := now()
	out, err := h.Runner.Run(ctx, "ping", args...)
	if err != nil {
		res.Reason = pingFailureReason(string(out), err)
		return res
	}
	res.OK = true
	if latency, ok := ParsePingLatency(string(out)); ok {
		res.Latency = latency
	} else {
		res.Latency = now().Sub(started)
	}
	return res
}

// InstallPackage installs name with apt-get or pip3.
func (h *Host) InstallPackage(ctx context.Context, manager PackageManager, name string) error {
	switch manager {
	case PackageApt:
		_, err := h.run(ctx, "apt-get", "install", "-y", "--no-install-recommends", name)
		return err
	case PackagePip:
		_, err := h.run(ctx, "pip3", "install", "--upgrade", name)
		return err
	default:
		return fmt.Errorf("unsupported package manager %q", manager)
	}
}

// ParseBriefAddr parses `ip -br addr` output.
func ParseBriefAddr(out string) []InterfaceAddr {
	var result []InterfaceAddr
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[0]
		if i := strings.Index(name, "@"); i > 0 {
			name = name[:i]
		}
		result = append(result, InterfaceAddr{
			Name:      name,
			State:     fields[1],
			Addresses: append([]string(nil), fields[2:]...),
		})
	}
	return result
}

// DefaultRoutes returns the `default ...` lines of an `ip route show` dump.
func DefaultRoutes(routes string) []string {
	var out []string
	for _, line := range strings.Split(routes, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "default ") {
			out = append(out, line)
		}
	}
	return out
}

// ParsePingLatency extracts the round-trip time from ping output.
func ParsePingLatency(out string) (time.Duration, bool) {
	m := pingTimeRe.FindStringSubmatch(out)
	if m == nil {
		return 0, false
	}
	ms, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}

func pingFailureReason(out string, err error) string {
	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "network is unreachable"):
		return "network unreachable"
	case strings.Contains(lower, "unknown host"), strings.Contains(lower, "name or service not known"):
		return "unknown host"
	case strings.Contains(lower, "100% packet loss"), strings.Contains(lower, "0 received"):
		return "no reply"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return err.Error()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func isNotFound(out string) bool {
	lower := strings.ToLower(out)
	return strings.Contains(lower, "not loaded") ||
		strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist") ||
		strings.Contains(lower, "no such file")
}
