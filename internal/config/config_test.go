package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.conf"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadJSONSettingsBackfillsZeroValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.conf")
	doc := `{
  "system": {"project_root": "/srv/routeros", "log_level": "debug"},
  "health_check": {"target_host": "1.1.1.1", "retry_count": 5},
  "routing": {"load_balancing": "failover", "sticky_sessions": false}
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "/srv/routeros", cfg.System.ProjectRoot)
	assert.Equal(t, "debug", cfg.System.LogLevel)
	assert.Equal(t, "1.1.1.1", cfg.HealthCheck.TargetHost)
	assert.Equal(t, 5, cfg.HealthCheck.RetryCount)
	assert.Equal(t, DefaultTimeoutSeconds, cfg.HealthCheck.TimeoutSeconds)
	assert.Equal(t, "failover", cfg.Routing.LoadBalancing)
	assert.False(t, cfg.Routing.StickySessions)
	assert.Equal(t, DefaultSafeModeService, cfg.Orchestrator.SafeModeService)
	assert.Equal(t, 5*time.Second, cfg.SettleInterval())
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout())
	assert.Equal(t, "/srv/routeros/config/interfaces.json", cfg.ProjectPath("config", "interfaces.json"))
}

func TestLoadYAMLSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	doc := "orchestrator:\n  settle_seconds: 1\n  non_interactive: true\n  snapshot_dir: /tmp/snaps\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Orchestrator.SettleSeconds)
	assert.True(t, cfg.Orchestrator.NonInteractive)
	assert.Equal(t, "/tmp/snaps", cfg.Orchestrator.SnapshotDir)
}

func TestLoadRejectsMalformedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.conf")
	require.NoError(t, os.WriteFile(path, []byte("{system: [unterminated"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative project root", func(c *Config) { c.System.ProjectRoot = "opt/routeros" }},
		{"zero timeout", func(c *Config) { c.HealthCheck.TimeoutSeconds = 0 }},
		{"zero retries", func(c *Config) { c.HealthCheck.RetryCount = 0 }},
		{"empty target", func(c *Config) { c.HealthCheck.TargetHost = " " }},
		{"unknown balancing", func(c *Config) { c.Routing.LoadBalancing = "random" }},
		{"negative settle", func(c *Config) { c.Orchestrator.SettleSeconds = -1 }},
		{"relative snapshot dir", func(c *Config) { c.Orchestrator.SnapshotDir = "snaps" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "router.conf")
	cfg := Default()
	cfg.HealthCheck.TargetHost = "9.9.9.9"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9.9.9.9", loaded.HealthCheck.TargetHost)
}

func TestParseInterfaces(t *testing.T) {
	doc := `{
  "interfaces": {
    "eth1": {"type": "wan", "weight": 1, "enabled": true, "gateway": "10.0.1.1",
             "health_check": {"enabled": true, "target": "1.1.1.1", "interval": 5, "timeout": 2, "retries": 3}},
    "eth0": {"type": "wan", "weight": 2, "enabled": true, "address": "192.168.1.10/24", "gateway": "192.168.1.1",
             "health_check": {"enabled": false}},
    "eth2": {"type": "lan", "enabled": true, "address": "10.10.0.1/24"},
    "eth3": {"type": "wan", "enabled": false}
  }
}`
	ifaces, err := ParseInterfaces([]byte(doc))
	require.NoError(t, err)

	sorted := ifaces.Sorted()
	require.Len(t, sorted, 4)
	assert.Equal(t, "eth0", sorted[0].Name)

	wans := ifaces.EnabledWANs()
	require.Len(t, wans, 2)
	assert.Equal(t, "eth0", wans[0].Name)
	assert.Equal(t, "eth1", wans[1].Name)
	assert.Equal(t, 2*time.Second, wans[1].HealthCheck.TimeoutDuration())
}

func TestParseInterfacesValidation(t *testing.T) {
	bad := map[string]string{
		"role":    `{"interfaces": {"eth0": {"type": "dmz", "enabled": true}}}`,
		"weight":  `{"interfaces": {"eth0": {"type": "wan", "enabled": true, "weight": 0}}}`,
		"gateway": `{"interfaces": {"eth0": {"type": "lan", "enabled": true, "gateway": "nope"}}}`,
		"address": `{"interfaces": {"eth0": {"type": "lan", "enabled": true, "address": "300.1.1.1/24"}}}`,
		"health":  `{"interfaces": {"eth0": {"type": "wan", "weight": 1, "enabled": true, "health_check": {"enabled": true, "target": "1.1.1.1"}}}}`,
	}
	for name, doc := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInterfaces([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestDefaultInterfacesValidAndMarshal(t *testing.T) {
	def := DefaultInterfaces()
	require.NoError(t, def.Validate())

	data, err := def.Marshal()
	require.NoError(t, err)
	parsed, err := ParseInterfaces(data)
	require.NoError(t, err)
	assert.Equal(t, def.Interfaces, parsed.Interfaces)
}
