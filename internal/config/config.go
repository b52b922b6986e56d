package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultProjectRoot     = "/opt/routeros"
	DefaultSettingsPath    = DefaultProjectRoot + "/config/router.conf"
	DefaultInterfacesPath  = DefaultProjectRoot + "/config/interfaces.json"
	DefaultSnapshotDir     = "/var/backups/routeguard"
	DefaultJournalPath     = "/var/lib/routeguard/journal.db"
	DefaultUnitDir         = "/etc/systemd/system"
	DefaultSafeModeService = "routeros-safe"
	DefaultTargetHost      = "8.8.8.8"
	DefaultTimeoutSeconds  = 2
	DefaultRetryCount      = 3
	DefaultCheckInterval   = 10
	DefaultSettleSeconds   = 5
	DefaultRestartSec      = 5
)

// ProjectDirs are the directories the router services expect under
// system.project_root.
var ProjectDirs = []string{"routing", "watchdog", "web", "config", "scripts", "logs"}

// Recognised load balancing strategies for the routing section.
var loadBalancingModes = []string{"weighted", "round_robin", "failover"}

// SystemConfig is the `system` section of the settings document.
type SystemConfig struct {
	ProjectRoot string `yaml:"project_root" json:"project_root"`
	LogLevel    string `yaml:"log_level" json:"log_level"`
}

// HealthCheckConfig is the `health_check` section. Its values are also the
// defaults for every connectivity gate the orchestrator runs.
type HealthCheckConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	RetryCount     int    `yaml:"retry_count" json:"retry_count"`
	CheckInterval  int    `yaml:"check_interval" json:"check_interval"`
	TargetHost     string `yaml:"target_host" json:"target_host"`
}

// RoutingConfig is the `routing` section; routeguard only validates and
// carries it for the routing service.
type RoutingConfig struct {
	LoadBalancing  string `yaml:"load_balancing" json:"load_balancing"`
	StickySessions bool   `yaml:"sticky_sessions" json:"sticky_sessions"`
	PacketMarking  bool   `yaml:"packet_marking" json:"packet_marking"`
}

// OrchestratorConfig holds routeguard's own settings.
type OrchestratorConfig struct {
	SnapshotDir     string `yaml:"snapshot_dir" json:"snapshot_dir"`
	JournalPath     string `yaml:"journal_path" json:"journal_path"`
	MetricsDir      string `yaml:"metrics_dir" json:"metrics_dir,omitempty"`
	LogFile         string `yaml:"log_file" json:"log_file,omitempty"`
	UnitDir         string `yaml:"unit_dir" json:"unit_dir"`
	SafeModeService string `yaml:"safe_mode_service" json:"safe_mode_service"`
	SettleSeconds   int    `yaml:"settle_seconds" json:"settle_seconds"`
	RestartSec      int    `yaml:"restart_sec" json:"restart_sec"`
	NonInteractive  bool   `yaml:"non_interactive" json:"non_interactive"`
}

// Config is the settings document (router.conf).
type Config struct {
	System       SystemConfig       `yaml:"system" json:"system"`
	HealthCheck  HealthCheckConfig  `yaml:"health_check" json:"health_check"`
	Routing      RoutingConfig      `yaml:"routing" json:"routing"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`

	// Path is where the document was loaded from ("" for pure defaults).
	Path string `yaml:"-" json:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		System: SystemConfig{
			ProjectRoot: DefaultProjectRoot,
			LogLevel:    "info",
		},
		HealthCheck: HealthCheckConfig{
			TimeoutSeconds: DefaultTimeoutSeconds,
			RetryCount:     DefaultRetryCount,
			CheckInterval:  DefaultCheckInterval,
			TargetHost:     DefaultTargetHost,
		},
		Routing: RoutingConfig{
			LoadBalancing:  "weighted",
			StickySessions: true,
			PacketMarking:  true,
		},
		Orchestrator: OrchestratorConfig{
			SnapshotDir:     DefaultSnapshotDir,
			JournalPath:     DefaultJournalPath,
			UnitDir:         DefaultUnitDir,
			SafeModeService: DefaultSafeModeService,
			SettleSeconds:   DefaultSettleSeconds,
			RestartSec:      DefaultRestartSec,
		},
	}
}

// Load reads the settings document at path. A missing file yields the
// defaults; JSON and YAML are both accepted.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	cfg.Path = path
	cfg.backfill()
	return cfg, nil
}

// backfill restores defaults for zero values left by a partial document.
func (c *Config) backfill() {
	def := Default()
	if strings.TrimSpace(c.System.ProjectRoot) == "" {
		c.System.ProjectRoot = def.System.ProjectRoot
	}
	if strings.TrimSpace(c.System.LogLevel) == "" {
		c.System.LogLevel = def.System.LogLevel
	}
	if c.HealthCheck.TimeoutSeconds == 0 {
		c.HealthCheck.TimeoutSeconds = def.HealthCheck.TimeoutSeconds
	}
	if c.HealthCheck.RetryCount == 0 {
		c.HealthCheck.RetryCount = def.HealthCheck.RetryCount
	}
	if c.HealthCheck.CheckInterval == 0 {
		c.HealthCheck.CheckInterval = def.HealthCheck.CheckInterval
	}
	if strings.TrimSpace(c.HealthCheck.TargetHost) == "" {
		c.HealthCheck.TargetHost = def.HealthCheck.TargetHost
	}
	if strings.TrimSpace(c.Routing.LoadBalancing) == "" {
		c.Routing.LoadBalancing = def.Routing.LoadBalancing
	}
	o := &c.Orchestrator
	if strings.TrimSpace(o.SnapshotDir) == "" {
		o.SnapshotDir = def.Orchestrator.SnapshotDir
	}
	if strings.TrimSpace(o.JournalPath) == "" {
		o.JournalPath = def.Orchestrator.JournalPath
	}
	if strings.TrimSpace(o.UnitDir) == "" {
		o.UnitDir = def.Orchestrator.UnitDir
	}
	if strings.TrimSpace(o.SafeModeService) == "" {
		o.SafeModeService = def.Orchestrator.SafeModeService
	}
	if o.SettleSeconds == 0 {
		o.SettleSeconds = def.Orchestrator.SettleSeconds
	}
	if o.RestartSec == 0 {
		o.RestartSec = def.Orchestrator.RestartSec
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if !filepath.IsAbs(c.System.ProjectRoot) {
		return fmt.Errorf("system.project_root must be an absolute path, got %q", c.System.ProjectRoot)
	}
	if c.HealthCheck.TimeoutSeconds <= 0 {
		return fmt.Errorf("health_check.timeout_seconds must be positive, got %d", c.HealthCheck.TimeoutSeconds)
	}
	if c.HealthCheck.RetryCount <= 0 {
		return fmt.Errorf("health_check.retry_count must be at least 1, got %d", c.HealthCheck.RetryCount)
	}
	if c.HealthCheck.CheckInterval < 0 {
		return fmt.Errorf("health_check.check_interval cannot be negative")
	}
	if strings.TrimSpace(c.HealthCheck.TargetHost) == "" {
		return fmt.Errorf("health_check.target_host cannot be empty")
	}
	if !contains(loadBalancingModes, c.Routing.LoadBalancing) {
		return fmt.Errorf("routing.load_balancing must be one of %s, got %q", strings.Join(loadBalancingModes, "|"), c.Routing.LoadBalancing)
	}
	if c.Orchestrator.SettleSeconds < 0 {
		return fmt.Errorf("orchestrator.settle_seconds cannot be negative")
	}
	if c.Orchestrator.RestartSec < 0 {
		return fmt.Errorf("orchestrator.restart_sec cannot be negative")
	}
	if !filepath.IsAbs(c.Orchestrator.SnapshotDir) {
		return fmt.Errorf("orchestrator.snapshot_dir must be an absolute path, got %q", c.Orchestrator.SnapshotDir)
	}
	return nil
}

// ProbeTimeout is health_check.timeout_seconds as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.HealthCheck.TimeoutSeconds) * time.Second
}

// SettleInterval is orchestrator.settle_seconds as a duration.
func (c *Config) SettleInterval() time.Duration {
	return time.Duration(c.Orchestrator.SettleSeconds) * time.Second
}

// ProjectPath joins elem under system.project_root.
func (c *Config) ProjectPath(elem ...string) string {
	return filepath.Join(append([]string{c.System.ProjectRoot}, elem...)...)
}

// Marshal renders the settings as indented JSON, the format the routing and
// watchdog services read.
func (c *Config) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return append(data, '\n'), nil
}

// Save writes the settings document to path, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings %s: %w", path, err)
	}
	c.Path = path
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
