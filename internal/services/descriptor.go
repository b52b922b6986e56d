package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/tis24dev/routeguard/internal/config"
	"github.com/tis24dev/routeguard/internal/system"
)

// Unit names of the deployed chain.
const (
	RoutingUnit  = "routeros-routing"
	WatchdogUnit = "routeros-watchdog"
	WebUnit      = "routeros-web"
)

// Descriptor declares one managed unit.
type Descriptor struct {
	Name        string
	Description string
	ExecStart   string
	WorkingDir  string
	RestartSec  time.Duration
	// Requires lists units that must be active before this one starts.
	Requires []string
}

// Chain returns the routing, watchdog and web descriptors in start order.
func Chain(cfg *config.Config) []Descriptor {
	restart := time.Duration(cfg.Orchestrator.RestartSec) * time.Second
	return []Descriptor{
		{
			Name:        RoutingUnit,
			Description: "RouterOS multi-WAN routing manager",
			ExecStart:   "/usr/bin/python3 " + cfg.ProjectPath("routing", "routing_manager.py"),
			WorkingDir:  cfg.ProjectPath("routing"),
			RestartSec:  restart,
		},
		{
			Name:        WatchdogUnit,
			Description: "RouterOS WAN health watchdog",
			ExecStart:   "/usr/bin/python3 " + cfg.ProjectPath("watchdog", "watchdog_service.py"),
			WorkingDir:  cfg.ProjectPath("watchdog"),
			RestartSec:  restart,
			Requires:    []string{RoutingUnit},
		},
		{
			Name:        WebUnit,
			Description: "RouterOS web dashboard",
			ExecStart:   "/usr/bin/python3 " + cfg.ProjectPath("web", "enhanced_app.py"),
			WorkingDir:  cfg.ProjectPath("web"),
			RestartSec:  restart,
			Requires:    []string{WatchdogUnit},
		},
	}
}

// Names returns the unit names of descs in order.
func Names(descs []Descriptor) []string {
	out := make([]string, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.Name)
	}
	return out
}

// Find returns the descriptor named name.
func Find(descs []Descriptor, name string) (Descriptor, bool) {
	for _, d := range descs {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Validate checks that names are unique and that every prerequisite that is
// part of descs is declared before its dependent.
func Validate(descs []Descriptor) error {
	pos := make(map[string]int, len(descs))
	for i, d := range descs {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("descriptor %d has no name", i)
		}
		if _, dup := pos[d.Name]; dup {
			return fmt.Errorf("duplicate service %s", d.Name)
		}
		pos[d.Name] = i
	}
	for i, d := range descs {
		for _, req := range d.Requires {
			if req == d.Name {
				return fmt.Errorf("service %s requires itself", d.Name)
			}
			if j, ok := pos[req]; ok && j > i {
				return fmt.Errorf("service %s requires %s, which is declared after it", d.Name, req)
			}
		}
	}
	return nil
}

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description={{.Description}}
After=network-online.target{{range .Requires}} {{.}}.service{{end}}
Wants=network-online.target
{{- if .Requires}}
Requires={{range $i, $r := .Requires}}{{if $i}} {{end}}{{$r}}.service{{end}}
{{- end}}

[Service]
Type=simple
ExecStart={{.ExecStart}}
{{- if .WorkingDir}}
WorkingDirectory={{.WorkingDir}}
{{- end}}
Restart=always
RestartSec={{.RestartSeconds}}

[Install]
WantedBy=multi-user.target
`))

// RenderUnit renders d as a systemd unit file.
func RenderUnit(d Descriptor) (string, error) {
	var buf bytes.Buffer
	data := struct {
		Descriptor
		RestartSeconds int
	}{Descriptor: d, RestartSeconds: int(d.RestartSec / time.Second)}
	if err := unitTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render unit %s: %w", d.Name, err)
	}
	return buf.String(), nil
}

// InstallUnits writes one unit file per descriptor into dir and reloads
// systemd. Unchanged files are not rewritten.
func InstallUnits(ctx context.Context, gw system.Gateway, dir string, descs []Descriptor) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create unit dir %s: %w", dir, err)
	}
	var written []string
	for _, d := range descs {
		content, err := RenderUnit(d)
		if err != nil {
			return written, err
		}
		path := filepath.Join(dir, d.Name+".service")
		if current, err := os.ReadFile(path); err == nil && string(current) == content {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return written, fmt.Errorf("write unit %s: %w", path, err)
		}
		written = append(written, path)
	}
	if err := gw.DaemonReload(ctx); err != nil {
		return written, fmt.Errorf("daemon-reload: %w", err)
	}
	return written, nil
}
