package safefs

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatReturnsTimeoutError(t *testing.T) {
	prev := osStat
	t.Cleanup(func() { osStat = prev })
	osStat = func(string) (os.FileInfo, error) { select {} }

	start := time.Now()
	_, err := Stat(context.Background(), "/etc/netplan", 25*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "stat", te.Op)
	assert.Equal(t, "/etc/netplan", te.Path)
	assert.Equal(t, "stat /etc/netplan: no answer within 25ms", te.Error())
}

func TestReadDirReturnsTimeoutError(t *testing.T) {
	prev := osReadDir
	t.Cleanup(func() { osReadDir = prev })
	osReadDir = func(string) ([]os.DirEntry, error) { select {} }

	_, err := ReadDir(context.Background(), "/var/backups/routeguard", 25*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFreeBytes(t *testing.T) {
	prev := syscallStatfs
	t.Cleanup(func() { syscallStatfs = prev })
	syscallStatfs = func(path string, st *syscall.Statfs_t) error {
		st.Bavail = 10
		st.Bsize = 4096
		return nil
	}

	free, err := FreeBytes(context.Background(), "/", time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(40960), free)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Stat(ctx, "/", 50*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParentDeadlineWins(t *testing.T) {
	prev := osStat
	t.Cleanup(func() { osStat = prev })
	osStat = func(string) (os.FileInfo, error) { select {} }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Stat(ctx, "/", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestZeroTimeoutCallsThrough(t *testing.T) {
	dir := t.TempDir()
	info, err := Stat(context.Background(), dir, 0)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := ReadDir(context.Background(), dir, time.Second)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
