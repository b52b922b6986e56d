package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/system/systemtest"
)

type fixture struct {
	root string
	dir  string
	gw   *systemtest.Gateway
	mgr  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{
		root: filepath.Join(base, "host"),
		dir:  filepath.Join(base, "snapshots"),
		gw:   systemtest.New(),
	}
	require.NoError(t, os.MkdirAll(f.root, 0o755))
	f.mgr = NewManager(f.gw, logging.Discard(), Options{
		Dir:             f.dir,
		Root:            f.root,
		ConfigFiles:     []string{"/etc/ssh/sshd_config", "/opt/routeros/config/router.conf"},
		Services:        []string{"routeros-routing", "routeros-watchdog", "routeros-web"},
		SafeModeService: "routeros-safe",
	})
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.mgr.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	return f
}

func (f *fixture) write(t *testing.T, path, content string) {
	t.Helper()
	full := filepath.Join(f.root, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func (f *fixture) read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.root, path))
	require.NoError(t, err)
	return string(data)
}

func TestCaptureRecordsAbsentLegacyInterfacesFile(t *testing.T) {
	f := newFixture(t)
	f.write(t, "/etc/netplan/01-netcfg.yaml", "network: {version: 2}\n")
	f.write(t, "/etc/ssh/sshd_config", "PermitRootLogin yes\n")

	snap, err := f.mgr.Capture(context.Background())
	require.NoError(t, err)

	legacy, ok := snap.Artifact("/etc/network/interfaces")
	require.True(t, ok)
	assert.False(t, legacy.Present)
	assert.Equal(t, "absent", legacy.Note)

	netplan, ok := snap.Artifact("/etc/netplan/01-netcfg.yaml")
	require.True(t, ok)
	assert.True(t, netplan.Present)
	assert.Equal(t, KindNetwork, netplan.Kind)

	copied, err := os.ReadFile(filepath.Join(snap.Dir, netplan.Copy))
	require.NoError(t, err)
	assert.Equal(t, "network: {version: 2}\n", string(copied))
}

func TestCaptureLayout(t *testing.T) {
	f := newFixture(t)
	f.gw.SetUnit("routeros-safe", true, true)
	f.write(t, "/etc/ssh/sshd_config", "Port 22\n")

	snap, err := f.mgr.Capture(context.Background())
	require.NoError(t, err)

	assert.Regexp(t, `^snapshot_20260301_100001_[0-9a-f-]{8}$`, filepath.Base(snap.Dir))
	for _, name := range []string{"manifest.yaml", "routes.txt", "rules.txt", "interfaces.txt"} {
		assert.FileExists(t, filepath.Join(snap.Dir, name))
	}
	status, err := os.ReadFile(filepath.Join(snap.Dir, "services", "routeros-safe.status"))
	require.NoError(t, err)
	assert.Equal(t, "active\n", string(status))
	status, err = os.ReadFile(filepath.Join(snap.Dir, "services", "routeros-web.status"))
	require.NoError(t, err)
	assert.Equal(t, "inactive\n", string(status))

	assert.Equal(t, []string{"default via 192.168.1.1 dev eth0"}, snap.DefaultRoutes)
	assert.True(t, snap.SafeModeWasActive())
	assert.Equal(t, []string{"routeros-safe"}, snap.ActiveServices())

	info, err := os.Stat(filepath.Join(snap.Dir, "manifest.yaml"))
	require.NoError(t, err)
	assert.Zero(t, info.Mode().Perm()&0o222, "snapshot files must be read-only")
}

func TestCaptureFailsWhenDirectoryCannotBeCreated(t *testing.T) {
	f := newFixture(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	mgr := NewManager(f.gw, logging.Discard(), Options{Dir: filepath.Join(blocker, "snapshots"), Root: f.root})

	snap, err := mgr.Capture(context.Background())
	assert.Nil(t, snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackupWrite)
	var we *WriteError
	assert.True(t, errors.As(err, &we))
}

func TestLoadRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.gw.SetUnit("routeros-routing", true, false)
	snap, err := f.mgr.Capture(context.Background())
	require.NoError(t, err)

	loaded, err := f.mgr.Load(snap.Dir)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, loaded.ID)
	assert.True(t, snap.CreatedAt.Equal(loaded.CreatedAt))
	assert.Equal(t, snap.Services, loaded.Services)
	assert.Equal(t, snap.Name(), loaded.Name())
}

func TestLatestAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	first, err := f.mgr.Capture(ctx)
	require.NoError(t, err)
	second, err := f.mgr.Capture(ctx)
	require.NoError(t, err)

	all, err := f.mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, first.ID, all[1].ID)

	latest, err := f.mgr.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestRestoreReappliesFilesAndServices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "/etc/netplan/01-netcfg.yaml", "safe\n")
	f.write(t, "/opt/routeros/config/router.conf", "{}\n")
	f.gw.SetUnit("routeros-safe", true, true)

	snap, err := f.mgr.Capture(ctx)
	require.NoError(t, err)

	f.write(t, "/etc/netplan/01-netcfg.yaml", "upgraded\n")
	f.write(t, "/opt/routeros/config/router.conf", `{"routing": {}}`)
	require.NoError(t, f.gw.StopService(ctx, "routeros-safe"))
	require.NoError(t, f.gw.DisableService(ctx, "routeros-safe"))

	require.NoError(t, f.mgr.Restore(ctx, snap))
	assert.Equal(t, "safe\n", f.read(t, "/etc/netplan/01-netcfg.yaml"))
	assert.Equal(t, "{}\n", f.read(t, "/opt/routeros/config/router.conf"))
	assert.True(t, f.gw.Active("routeros-safe"))
	assert.True(t, f.gw.Enabled("routeros-safe"))
	assert.Equal(t, 1, f.gw.Reloads)
}

func TestRestoreLeavesInactiveServicesAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap, err := f.mgr.Capture(ctx)
	require.NoError(t, err)

	f.gw.SetUnit("routeros-web", true, true)
	require.NoError(t, f.mgr.Restore(ctx, snap))
	assert.True(t, f.gw.Active("routeros-web"))
	assert.Empty(t, f.gw.CallsWithPrefix("stop"))
}

func TestRestoreTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "/etc/network/interfaces", "auto lo\n")
	f.write(t, "/etc/ssh/sshd_config", "Port 22\n")
	f.gw.SetUnit("routeros-safe", true, true)
	snap, err := f.mgr.Capture(ctx)
	require.NoError(t, err)

	f.write(t, "/etc/network/interfaces", "auto eth1\n")
	f.gw.SetUnit("routeros-safe", false, false)

	require.NoError(t, f.mgr.Restore(ctx, snap))
	firstFiles := f.read(t, "/etc/network/interfaces") + f.read(t, "/etc/ssh/sshd_config")
	firstActive := f.gw.ActiveUnits()
	firstReloads := f.gw.Reloads

	require.NoError(t, f.mgr.Restore(ctx, snap))
	assert.Equal(t, firstFiles, f.read(t, "/etc/network/interfaces")+f.read(t, "/etc/ssh/sshd_config"))
	assert.Equal(t, firstActive, f.gw.ActiveUnits())
	assert.Equal(t, firstReloads, f.gw.Reloads, "unchanged files must not reload the network")

	again, err := f.mgr.Load(snap.Dir)
	require.NoError(t, err)
	assert.Equal(t, snap.Artifacts, again.Artifacts, "restore must not mutate the snapshot")
}

func TestRestoreCollectsFailuresAndContinues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "/etc/ssh/sshd_config", "Port 22\n")
	f.write(t, "/opt/routeros/config/router.conf", "{}\n")
	f.gw.SetUnit("routeros-safe", true, false)
	snap, err := f.mgr.Capture(ctx)
	require.NoError(t, err)

	// Turn the config directory into a file so the rewrite fails.
	require.NoError(t, os.RemoveAll(filepath.Join(f.root, "opt/routeros/config")))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "opt/routeros/config"), []byte("x"), 0o644))
	f.write(t, "/etc/ssh/sshd_config", "Port 2222\n")
	f.gw.SetUnit("routeros-safe", false, false)
	f.gw.StartErr["routeros-safe"] = errors.New("unit failed")

	err = f.mgr.Restore(ctx, snap)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRestore)
	var re *RestoreError
	require.True(t, errors.As(err, &re))
	assert.ElementsMatch(t, []string{"/opt/routeros/config/router.conf", "service routeros-safe"}, re.Artifacts())
	assert.Equal(t, "Port 22\n", f.read(t, "/etc/ssh/sshd_config"), "other artifacts are still restored")
}

func TestRestoreNetworkReloadFailureIsReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "/etc/network/interfaces", "auto lo\n")
	snap, err := f.mgr.Capture(ctx)
	require.NoError(t, err)

	f.write(t, "/etc/network/interfaces", "auto eth9\n")
	f.gw.ReloadErr = errors.New("netplan exploded")
	err = f.mgr.Restore(ctx, snap)
	var re *RestoreError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, []string{"network reload"}, re.Artifacts())
}
