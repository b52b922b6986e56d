// Package systemtest provides an in-memory system.Gateway for tests.
package systemtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tis24dev/routeguard/internal/system"
)

// Unit is the fake systemd state of one service.
type Unit struct {
	Active  bool
	Enabled bool
}

// Gateway simulates a host: a set of units, routing text and a network that
// is reachable unless NetworkDown is set or a unit listed in BreaksNetwork is
// active.
type Gateway struct {
	mu sync.Mutex

	Units  map[string]*Unit
	Ifaces []system.InterfaceAddr
	RouteTable string
	RuleTable  string

	// NetworkDown forces every ping to fail.
	NetworkDown bool
	// BreaksNetwork lists units whose being active makes pings fail.
	BreaksNetwork map[string]bool
	// StartErr makes StartService fail for the unit.
	StartErr map[string]error
	// StartLeavesInactive makes StartService succeed without the unit
	// becoming active.
	StartLeavesInactive map[string]bool
	// UnknownUnits makes start/enable report system.ErrUnitNotFound.
	UnknownUnits map[string]bool
	// PingResults, when non-empty, is consumed in order before the
	// network model is consulted.
	PingResults []bool

	ReloadErr error

	Calls      []string
	PingCount  int
	Reloads    int
	Installed  []string
	InstallErr map[string]error
	// InstallBreaksNetwork takes the network down once the keyed package
	// ("apt:nftables") is installed.
	InstallBreaksNetwork map[string]bool
}

// New returns a Gateway with a reachable network and no units.
func New() *Gateway {
	return &Gateway{
		Units: map[string]*Unit{},
		Ifaces: []system.InterfaceAddr{
			{Name: "lo", State: "UNKNOWN", Addresses: []string{"127.0.0.1/8"}},
			{Name: "eth0", State: "UP", Addresses: []string{"192.168.1.10/24"}},
		},
		RouteTable:          "default via 192.168.1.1 dev eth0\n192.168.1.0/24 dev eth0 proto kernel scope link",
		RuleTable:           "0:\tfrom all lookup local\n32766:\tfrom all lookup main",
		BreaksNetwork:       map[string]bool{},
		StartErr:            map[string]error{},
		StartLeavesInactive: map[string]bool{},
		UnknownUnits:        map[string]bool{},
		InstallErr:          map[string]error{},
	}
}

// SetUnit declares unit with the given state.
func (g *Gateway) SetUnit(name string, active, enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Units[name] = &Unit{Active: active, Enabled: enabled}
}

// Active reports the fake active state of unit.
func (g *Gateway) Active(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.Units[name]
	return ok && u.Active
}

// Enabled reports the fake enablement of unit.
func (g *Gateway) Enabled(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.Units[name]
	return ok && u.Enabled
}

// ActiveUnits returns the names of active units, sorted.
func (g *Gateway) ActiveUnits() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for name, u := range g.Units {
		if u.Active {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// CallsWithPrefix returns recorded calls that start with prefix.
func (g *Gateway) CallsWithPrefix(prefix string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, c := range g.Calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (g *Gateway) record(format string, args ...interface{}) {
	g.Calls = append(g.Calls, fmt.Sprintf(format, args...))
}

func (g *Gateway) unit(name string) *Unit {
	u, ok := g.Units[name]
	if !ok {
		u = &Unit{}
		g.Units[name] = u
	}
	return u
}

func (g *Gateway) Interfaces(ctx context.Context) ([]system.InterfaceAddr, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("interfaces")
	return append([]system.InterfaceAddr(nil), g.Ifaces...), nil
}

func (g *Gateway) Routes(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("routes")
	return g.RouteTable, nil
}

func (g *Gateway) Rules(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("rules")
	return g.RuleTable, nil
}

func (g *Gateway) ServiceActive(ctx context.Context, unit string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.Units[unit]
	return ok && u.Active, nil
}

func (g *Gateway) ServiceEnabled(ctx context.Context, unit string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.Units[unit]
	return ok && u.Enabled, nil
}

func (g *Gateway) StartService(ctx context.Context, unit string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("start %s", unit)
	if g.UnknownUnits[unit] {
		return fmt.Errorf("start %s: %w", unit, system.ErrUnitNotFound)
	}
	if err := g.StartErr[unit]; err != nil {
		return err
	}
	if g.StartLeavesInactive[unit] {
		g.unit(unit)
		return nil
	}
	g.unit(unit).Active = true
	return nil
}

func (g *Gateway) StopService(ctx context.Context, unit string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("stop %s", unit)
	if u, ok := g.Units[unit]; ok {
		u.Active = false
	}
	return nil
}

func (g *Gateway) EnableService(ctx context.Context, unit string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("enable %s", unit)
	if g.UnknownUnits[unit] {
		return fmt.Errorf("enable %s: %w", unit, system.ErrUnitNotFound)
	}
	g.unit(unit).Enabled = true
	return nil
}

func (g *Gateway) DisableService(ctx context.Context, unit string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("disable %s", unit)
	if u, ok := g.Units[unit]; ok {
		u.Enabled = false
	}
	return nil
}

func (g *Gateway) DaemonReload(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("daemon-reload")
	return nil
}

func (g *Gateway) ReloadNetwork(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("reload-network")
	g.Reloads++
	return g.ReloadErr
}

// Ping succeeds unless the network is modelled as down.
func (g *Gateway) Ping(ctx context.Context, target, iface string, timeout time.Duration) system.ProbeResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.PingCount++
	if iface != "" {
		g.record("ping %s via %s", target, iface)
	} else {
		g.record("ping %s", target)
	}
	res := system.ProbeResult{Target: target, Interface: iface, At: time.Now()}

	if len(g.PingResults) > 0 {
		res.OK = g.PingResults[0]
		g.PingResults = g.PingResults[1:]
	} else {
		res.OK = g.reachableLocked()
	}
	if res.OK {
		res.Latency = time.Millisecond
	} else {
		res.Reason = "no reply"
	}
	return res
}

func (g *Gateway) reachableLocked() bool {
	if g.NetworkDown {
		return false
	}
	for name, breaks := range g.BreaksNetwork {
		if u, ok := g.Units[name]; breaks && ok && u.Active {
			return false
		}
	}
	return true
}

// InstallPackage records the package and returns InstallErr for it.
func (g *Gateway) InstallPackage(ctx context.Context, manager system.PackageManager, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := string(manager) + ":" + name
	g.record("install %s", key)
	if err := g.InstallErr[key]; err != nil {
		return err
	}
	g.Installed = append(g.Installed, key)
	if g.InstallBreaksNetwork[key] {
		g.NetworkDown = true
	}
	return nil
}

var (
	_ system.Gateway          = (*Gateway)(nil)
	_ system.PackageInstaller = (*Gateway)(nil)
)
