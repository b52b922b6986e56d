package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tis24dev/routeguard/internal/config"
	"github.com/tis24dev/routeguard/internal/journal"
	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/metrics"
	"github.com/tis24dev/routeguard/internal/services"
	"github.com/tis24dev/routeguard/internal/snapshot"
	"github.com/tis24dev/routeguard/internal/system/systemtest"
)

const safeUnit = config.DefaultSafeModeService

type fixture struct {
	t       *testing.T
	root    string
	cfg     *config.Config
	gw      *systemtest.Gateway
	store   *journal.Journal
	metrics *fakeMetrics
	prompt  *fakePrompter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Orchestrator.SnapshotDir = "/var/backups/routeguard"

	store, err := journal.Open(filepath.Join(root, "var/lib/routeguard/journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &fixture{
		t:       t,
		root:    root,
		cfg:     cfg,
		gw:      systemtest.New(),
		store:   store,
		metrics: &fakeMetrics{},
		prompt:  &fakePrompter{answer: true},
	}
}

// safeModeHost models a host running only the baseline service.
func (f *fixture) safeModeHost() *fixture {
	f.gw.SetUnit(safeUnit, true, true)
	return f
}

func (f *fixture) orchestrator(assumeYes bool) *Orchestrator {
	return New(f.deps(assumeYes))
}

func (f *fixture) deps(assumeYes bool) Deps {
	zero := time.Duration(0)
	return Deps{
		Logger:        logging.Discard(),
		Config:        f.cfg,
		Gateway:       f.gw,
		Prompter:      f.prompt,
		Store:         f.store,
		Metrics:       f.metrics,
		Sleep:         func(context.Context, time.Duration) error { return nil },
		ProbeInterval: &zero,
		Root:          f.root,
		Guide:         "## Recovery guide\nConsole access is required.",
		AssumeYes:     assumeYes,
		Out:           &syncBuffer{},
	}
}

func (f *fixture) chainUnits() []string {
	return services.Names(services.Chain(f.cfg))
}

type fakeMetrics struct {
	exported []*metrics.RunMetrics
}

func (m *fakeMetrics) Export(rm *metrics.RunMetrics) error {
	m.exported = append(m.exported, rm)
	return nil
}

type fakePrompter struct {
	answer    bool
	err       error
	questions []string
}

func (p *fakePrompter) Confirm(ctx context.Context, question string, defaultYes bool) (bool, error) {
	p.questions = append(p.questions, question)
	return p.answer, p.err
}

// fakeSnapshotter counts calls and never touches the filesystem.
type fakeSnapshotter struct {
	captureErr error
	restoreErr error
	captures   int
	restores   int
}

func (s *fakeSnapshotter) Capture(ctx context.Context) (*snapshot.Snapshot, error) {
	s.captures++
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	return &snapshot.Snapshot{
		ID:              "0123456789abcdef",
		CreatedAt:       time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Services:        map[string]snapshot.ServiceState{safeUnit: {Active: true, Enabled: true}},
		SafeModeService: safeUnit,
		Dir:             "/snapshots/snapshot_20260501_120000_01234567",
	}, nil
}

func (s *fakeSnapshotter) Restore(ctx context.Context, snap *snapshot.Snapshot) error {
	s.restores++
	return s.restoreErr
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
