package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/safefs"
	"github.com/tis24dev/routeguard/internal/system"
)

// Network definition files captured by default. Globs are expanded at
// capture time.
var DefaultNetworkFiles = []string{
	"/etc/network/interfaces",
	"/etc/netplan/*.yaml",
}

// Other host files captured by default.
var DefaultConfigFiles = []string{
	"/etc/ssh/sshd_config",
}

// Options configures a Manager.
type Options struct {
	// Dir holds one subdirectory per snapshot.
	Dir string
	// Root prefixes every captured host path; "" means "/".
	Root string
	// NetworkFiles are reapplied with a network reload afterwards.
	NetworkFiles []string
	// ConfigFiles are reapplied without a reload.
	ConfigFiles []string
	// Services are the units whose active/enabled state is recorded.
	Services []string
	// SafeModeService is recorded so rollback knows the baseline.
	SafeModeService string
	// FSTimeout bounds stat/readdir calls.
	FSTimeout time.Duration
}

// Manager captures and restores snapshots.
type Manager struct {
	gw     system.Gateway
	logger *logging.Logger
	opts   Options
	now    func() time.Time
	newID  func() string
}

// NewManager returns a Manager. Zero Options fields get defaults.
func NewManager(gw system.Gateway, logger *logging.Logger, opts Options) *Manager {
	if opts.NetworkFiles == nil {
		opts.NetworkFiles = DefaultNetworkFiles
	}
	if opts.ConfigFiles == nil {
		opts.ConfigFiles = DefaultConfigFiles
	}
	if opts.FSTimeout <= 0 {
		opts.FSTimeout = safefs.DefaultTimeout
	}
	services := make([]string, 0, len(opts.Services)+1)
	services = append(services, opts.Services...)
	if opts.SafeModeService != "" && !containsString(services, opts.SafeModeService) {
		services = append(services, opts.SafeModeService)
	}
	opts.Services = services
	return &Manager{
		gw:     gw,
		logger: logger,
		opts:   opts,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Dir returns the directory holding snapshots.
func (m *Manager) Dir() string { return m.opts.Dir }

func (m *Manager) hostPath(p string) string {
	if m.opts.Root == "" {
		return p
	}
	return filepath.Join(m.opts.Root, p)
}

// Capture records the current host state into a new snapshot directory.
// Missing files and failing gateway queries are recorded, not fatal; only a
// failure to write the snapshot itself returns an error (wrapping
// ErrBackupWrite).
func (m *Manager) Capture(ctx context.Context) (snap *Snapshot, err error) {
	done := logging.DebugStart(m.logger, "snapshot capture", "dir=%s", m.opts.Dir)
	defer func() { done(err) }()

	if strings.TrimSpace(m.opts.Dir) == "" {
		return nil, &WriteError{Path: "(empty snapshot dir)", Err: errors.New("snapshot directory not configured")}
	}

	snap = &Snapshot{
		ID:              m.newID(),
		CreatedAt:       m.now().UTC(),
		Services:        map[string]ServiceState{},
		SafeModeService: m.opts.SafeModeService,
	}
	if host, herr := os.Hostname(); herr == nil {
		snap.Hostname = host
	}
	snap.Dir = filepath.Join(m.opts.Dir, snap.Name())

	if err := os.MkdirAll(m.opts.Dir, 0o700); err != nil {
		return nil, &WriteError{Path: m.opts.Dir, Err: err}
	}
	if err := os.Mkdir(snap.Dir, 0o700); err != nil {
		return nil, &WriteError{Path: snap.Dir, Err: err}
	}
	for _, sub := range []string{filesDir, servicesDir} {
		if err := os.Mkdir(filepath.Join(snap.Dir, sub), 0o700); err != nil {
			return nil, &WriteError{Path: filepath.Join(snap.Dir, sub), Err: err}
		}
	}

	if err := m.captureFiles(ctx, snap, m.opts.NetworkFiles, KindNetwork); err != nil {
		return nil, err
	}
	if err := m.captureFiles(ctx, snap, m.opts.ConfigFiles, KindConfig); err != nil {
		return nil, err
	}
	if err := m.captureNetwork(ctx, snap); err != nil {
		return nil, err
	}
	if err := m.captureServices(ctx, snap); err != nil {
		return nil, err
	}

	data, err := yaml.Marshal(snap)
	if err != nil {
		return nil, &WriteError{Path: manifestName, Err: err}
	}
	if err := writeReadOnly(filepath.Join(snap.Dir, manifestName), data); err != nil {
		return nil, err
	}

	present := 0
	for _, a := range snap.Artifacts {
		if a.Present {
			present++
		}
	}
	m.logger.Info("Snapshot %s captured: %d file(s), %d service state(s)", snap.Name(), present, len(snap.Services))
	for _, w := range snap.Warnings {
		m.logger.Warning("Snapshot: %s", w)
	}
	return snap, nil
}

func (m *Manager) captureFiles(ctx context.Context, snap *Snapshot, patterns []string, kind ArtifactKind) error {
	for _, source := range m.expand(patterns) {
		art := Artifact{Source: source, Kind: kind}
		info, err := safefs.Stat(ctx, m.hostPath(source), m.opts.FSTimeout)
		switch {
		case errors.Is(err, os.ErrNotExist):
			art.Note = "absent"
			logging.DebugStep(m.logger, "snapshot capture", "%s absent", source)
			snap.Artifacts = append(snap.Artifacts, art)
			continue
		case err != nil:
			art.Note = err.Error()
			snap.Warnings = append(snap.Warnings, fmt.Sprintf("cannot stat %s: %v", source, err))
			snap.Artifacts = append(snap.Artifacts, art)
			continue
		case info.IsDir():
			art.Note = "is a directory"
			snap.Artifacts = append(snap.Artifacts, art)
			continue
		}

		data, err := os.ReadFile(m.hostPath(source))
		if err != nil {
			art.Note = err.Error()
			snap.Warnings = append(snap.Warnings, fmt.Sprintf("cannot read %s: %v", source, err))
			snap.Artifacts = append(snap.Artifacts, art)
			continue
		}

		art.Copy = filepath.Join(filesDir, strings.TrimPrefix(filepath.Clean(source), "/"))
		dest := filepath.Join(snap.Dir, art.Copy)
		if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
			return &WriteError{Path: filepath.Dir(dest), Err: err}
		}
		if err := writeReadOnly(dest, data); err != nil {
			return err
		}
		art.Present = true
		art.Mode = uint32(info.Mode().Perm())
		art.Size = int64(len(data))
		snap.Artifacts = append(snap.Artifacts, art)
		logging.DebugStep(m.logger, "snapshot capture", "copied %s (%d bytes)", source, len(data))
	}
	return nil
}

func (m *Manager) captureNetwork(ctx context.Context, snap *Snapshot) error {
	if ifaces, err := m.gw.Interfaces(ctx); err != nil {
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("interfaces: %v", err))
	} else {
		var lines []string
		for _, ia := range ifaces {
			line := strings.TrimSpace(fmt.Sprintf("%s %s %s", ia.Name, ia.State, strings.Join(ia.Addresses, " ")))
			lines = append(lines, line)
		}
		snap.Interfaces = lines
		if err := writeReadOnly(filepath.Join(snap.Dir, ifacesFile), []byte(strings.Join(lines, "\n")+"\n")); err != nil {
			return err
		}
	}

	if routes, err := m.gw.Routes(ctx); err != nil {
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("routes: %v", err))
	} else {
		snap.DefaultRoutes = system.DefaultRoutes(routes)
		if err := writeReadOnly(filepath.Join(snap.Dir, routesFile), []byte(routes+"\n")); err != nil {
			return err
		}
	}

	if rules, err := m.gw.Rules(ctx); err != nil {
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("rules: %v", err))
	} else if err := writeReadOnly(filepath.Join(snap.Dir, rulesFile), []byte(rules+"\n")); err != nil {
		return err
	}
	return nil
}

func (m *Manager) captureServices(ctx context.Context, snap *Snapshot) error {
	for _, unit := range m.opts.Services {
		active, err := m.gw.ServiceActive(ctx, unit)
		if err != nil {
			snap.Warnings = append(snap.Warnings, fmt.Sprintf("service %s: %v", unit, err))
		}
		enabled, err := m.gw.ServiceEnabled(ctx, unit)
		if err != nil {
			snap.Warnings = append(snap.Warnings, fmt.Sprintf("service %s enablement: %v", unit, err))
		}
		snap.Services[unit] = ServiceState{Active: active, Enabled: enabled}

		status, boot := "inactive", "disabled"
		if active {
			status = "active"
		}
		if enabled {
			boot = "enabled"
		}
		base := filepath.Join(snap.Dir, servicesDir, unit)
		if err := writeReadOnly(base+".status", []byte(status+"\n")); err != nil {
			return err
		}
		if err := writeReadOnly(base+".enabled", []byte(boot+"\n")); err != nil {
			return err
		}
	}
	return nil
}

// expand resolves glob patterns under Root. Literal paths are kept even when
// absent so the snapshot records them as absent.
func (m *Manager) expand(patterns []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range patterns {
		if !strings.ContainsAny(p, "*?[") {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
			continue
		}
		matches, err := filepath.Glob(m.hostPath(p))
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, match := range matches {
			source := match
			if m.opts.Root != "" {
				rel, err := filepath.Rel(m.opts.Root, match)
				if err != nil {
					continue
				}
				source = "/" + rel
			}
			if !seen[source] {
				seen[source] = true
				out = append(out, source)
			}
		}
	}
	return out
}

// Restore reapplies snap: files whose content differs are rewritten, the
// network is reloaded when a network file changed, units that were active
// and are not are started, and units that were enabled are re-enabled.
// Units that were inactive are left alone. Every failure is collected into a
// *RestoreError; restore never stops early.
func (m *Manager) Restore(ctx context.Context, snap *Snapshot) (err error) {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrRestore)
	}
	done := logging.DebugStart(m.logger, "snapshot restore", "snapshot=%s", snap.Name())
	defer func() { done(err) }()

	var failures []ArtifactFailure
	networkChanged := false
	rewritten := 0

	for _, art := range snap.Artifacts {
		if !art.Present {
			continue
		}
		changed, ferr := m.restoreFile(snap, art)
		if ferr != nil {
			failures = append(failures, ArtifactFailure{Artifact: art.Source, Err: ferr})
			m.logger.Warning("Restore: cannot reapply %s: %v", art.Source, ferr)
			continue
		}
		if changed {
			rewritten++
			if art.Kind == KindNetwork {
				networkChanged = true
			}
		}
	}

	if networkChanged {
		if rerr := m.gw.ReloadNetwork(ctx); rerr != nil {
			failures = append(failures, ArtifactFailure{Artifact: "network reload", Err: rerr})
			m.logger.Warning("Restore: network reload failed: %v", rerr)
		}
	}

	units := make([]string, 0, len(snap.Services))
	for unit := range snap.Services {
		units = append(units, unit)
	}
	sort.Strings(units)
	for _, unit := range units {
		st := snap.Services[unit]
		if st.Enabled {
			enabled, qerr := m.gw.ServiceEnabled(ctx, unit)
			if qerr != nil || !enabled {
				if eerr := m.gw.EnableService(ctx, unit); eerr != nil {
					failures = append(failures, ArtifactFailure{Artifact: "service " + unit + " (enable)", Err: eerr})
				}
			}
		}
		if !st.Active {
			continue
		}
		active, qerr := m.gw.ServiceActive(ctx, unit)
		if qerr == nil && active {
			continue
		}
		if serr := m.gw.StartService(ctx, unit); serr != nil {
			failures = append(failures, ArtifactFailure{Artifact: "service " + unit, Err: serr})
			m.logger.Warning("Restore: cannot start %s: %v", unit, serr)
		}
	}

	m.logger.Info("Snapshot %s restored: %d file(s) rewritten, %d failure(s)", snap.Name(), rewritten, len(failures))
	if len(failures) > 0 {
		return &RestoreError{Failures: failures}
	}
	return nil
}

func (m *Manager) restoreFile(snap *Snapshot, art Artifact) (bool, error) {
	data, err := os.ReadFile(filepath.Join(snap.Dir, art.Copy))
	if err != nil {
		return false, fmt.Errorf("read snapshot copy: %w", err)
	}
	target := m.hostPath(art.Source)
	if current, err := os.ReadFile(target); err == nil && bytes.Equal(current, data) {
		return false, nil
	}
	mode := os.FileMode(art.Mode)
	if mode == 0 {
		mode = 0o644
	}
	if err := replaceFile(target, data, mode); err != nil {
		return false, err
	}
	logging.DebugStep(m.logger, "snapshot restore", "reapplied %s", art.Source)
	return true, nil
}

// Load reads the snapshot stored in dir.
func (m *Manager) Load(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("read snapshot manifest: %w", err)
	}
	snap := &Snapshot{}
	if err := yaml.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parse snapshot manifest %s: %w", dir, err)
	}
	if snap.Services == nil {
		snap.Services = map[string]ServiceState{}
	}
	snap.Dir = dir
	return snap, nil
}

// List returns every readable snapshot, newest first. A missing snapshot
// directory yields an empty list.
func (m *Manager) List(ctx context.Context) ([]*Snapshot, error) {
	entries, err := safefs.ReadDir(ctx, m.opts.Dir, m.opts.FSTimeout)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	var out []*Snapshot
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		snap, err := m.Load(filepath.Join(m.opts.Dir, e.Name()))
		if err != nil {
			m.logger.Warning("Skipping unreadable snapshot %s: %v", e.Name(), err)
			continue
		}
		out = append(out, snap)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return filepath.Base(out[i].Dir) > filepath.Base(out[j].Dir)
	})
	return out, nil
}

// Latest returns the newest snapshot or ErrNoSnapshot.
func (m *Manager) Latest(ctx context.Context) (*Snapshot, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNoSnapshot
	}
	return all[0], nil
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
