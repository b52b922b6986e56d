package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role is the side of the router an interface faces.
type Role string

const (
	RoleWAN Role = "wan"
	RoleLAN Role = "lan"
)

// InterfaceHealthCheck is the per-interface health-check sub-document.
type InterfaceHealthCheck struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Target   string `yaml:"target" json:"target"`
	Interval int    `yaml:"interval" json:"interval"`
	Timeout  int    `yaml:"timeout" json:"timeout"`
	Retries  int    `yaml:"retries" json:"retries"`
}

// TimeoutDuration returns Timeout in seconds as a duration.
func (h InterfaceHealthCheck) TimeoutDuration() time.Duration {
	return time.Duration(h.Timeout) * time.Second
}

// Interface is one entry of the interface-definition document.
type Interface struct {
	Type        Role                 `yaml:"type" json:"type"`
	Address     string               `yaml:"address,omitempty" json:"address,omitempty"`
	Gateway     string               `yaml:"gateway,omitempty" json:"gateway,omitempty"`
	Weight      int                  `yaml:"weight,omitempty" json:"weight,omitempty"`
	Enabled     bool                 `yaml:"enabled" json:"enabled"`
	HealthCheck InterfaceHealthCheck `yaml:"health_check" json:"health_check"`
}

// NamedInterface pairs an interface definition with its name.
type NamedInterface struct {
	Name string
	Interface
}

// Interfaces is the interface-definition document (interfaces.json).
type Interfaces struct {
	Interfaces map[string]Interface `yaml:"interfaces" json:"interfaces"`
}

// DefaultInterfaces mirrors the single-WAN document the routing service
// creates when it finds none.
func DefaultInterfaces() *Interfaces {
	return &Interfaces{
		Interfaces: map[string]Interface{
			"eth0": {
				Type:    RoleWAN,
				Weight:  2,
				Enabled: true,
				Gateway: "192.168.1.1",
				HealthCheck: InterfaceHealthCheck{
					Enabled:  true,
					Target:   DefaultTargetHost,
					Interval: DefaultCheckInterval,
					Timeout:  DefaultTimeoutSeconds,
					Retries:  DefaultRetryCount,
				},
			},
		},
	}
}

// LoadInterfaces reads the interface-definition document at path.
func LoadInterfaces(path string) (*Interfaces, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read interfaces %s: %w", path, err)
	}
	return ParseInterfaces(data)
}

// ParseInterfaces decodes and validates an interface-definition document.
func ParseInterfaces(data []byte) (*Interfaces, error) {
	doc := &Interfaces{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse interfaces: %w", err)
	}
	if doc.Interfaces == nil {
		doc.Interfaces = map[string]Interface{}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate checks roles, weights, addresses and health-check bounds.
func (d *Interfaces) Validate() error {
	for _, ni := range d.Sorted() {
		iface := ni.Interface
		switch iface.Type {
		case RoleWAN, RoleLAN:
		default:
			return fmt.Errorf("interface %s: type must be wan or lan, got %q", ni.Name, iface.Type)
		}
		if iface.Type == RoleWAN && iface.Enabled && iface.Weight < 1 {
			return fmt.Errorf("interface %s: enabled wan needs weight >= 1", ni.Name)
		}
		if iface.Address != "" {
			if _, _, err := net.ParseCIDR(iface.Address); err != nil && net.ParseIP(iface.Address) == nil {
				return fmt.Errorf("interface %s: invalid address %q", ni.Name, iface.Address)
			}
		}
		if iface.Gateway != "" && net.ParseIP(iface.Gateway) == nil {
			return fmt.Errorf("interface %s: invalid gateway %q", ni.Name, iface.Gateway)
		}
		hc := iface.HealthCheck
		if hc.Enabled {
			if strings.TrimSpace(hc.Target) == "" {
				return fmt.Errorf("interface %s: health_check.target required when enabled", ni.Name)
			}
			if hc.Timeout <= 0 || hc.Retries <= 0 {
				return fmt.Errorf("interface %s: health_check timeout and retries must be positive", ni.Name)
			}
		}
	}
	return nil
}

// Sorted returns the interfaces ordered by name.
func (d *Interfaces) Sorted() []NamedInterface {
	names := make([]string, 0, len(d.Interfaces))
	for name := range d.Interfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]NamedInterface, 0, len(names))
	for _, name := range names {
		out = append(out, NamedInterface{Name: name, Interface: d.Interfaces[name]})
	}
	return out
}

// EnabledWANs returns enabled WAN interfaces ordered by name.
func (d *Interfaces) EnabledWANs() []NamedInterface {
	var out []NamedInterface
	for _, ni := range d.Sorted() {
		if ni.Type == RoleWAN && ni.Enabled {
			out = append(out, ni)
		}
	}
	return out
}

// Marshal renders the document as indented JSON.
func (d *Interfaces) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode interfaces: %w", err)
	}
	return append(data, '\n'), nil
}
