package runlock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.lock")

	first, err := AcquireFile(path, time.Hour)
	require.NoError(t, err)

	_, err = AcquireFile(path, time.Hour)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Release())

	again, err := AcquireFile(path, time.Hour)
	require.NoError(t, err)
	assert.NoError(t, again.Release())
}

func TestFileLockTakesOverStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.lock")
	require.NoError(t, os.WriteFile(path, []byte("12345\n"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	lock, err := AcquireFile(path, time.Hour)
	require.NoError(t, err)
	defer lock.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, "12345\n", string(data))
}

func TestAcquireFallsBackToFile(t *testing.T) {
	base := filepath.Join(t.TempDir(), "catalogsync.lock")

	lock, err := Acquire(context.Background(), "sqlite://test.db", base, "catalog")
	require.NoError(t, err)
	assert.IsType(t, &FileLock{}, lock)
	assert.FileExists(t, base+".catalog")

	other, err := Acquire(context.Background(), "sqlite://test.db", base, "prices")
	require.NoError(t, err)
	assert.NoError(t, other.Release())
	assert.NoError(t, lock.Release())
}

func TestKeyIsStable(t *testing.T) {
	assert.Equal(t, Key("catalog"), Key("catalog"))
	assert.NotEqual(t, Key("catalog"), Key("prices"))
}
