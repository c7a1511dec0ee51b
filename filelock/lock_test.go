//go:build !windows

package filelock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTwice(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "locked.part")
	first, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	second, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() {
		first.Close()
		second.Close()
	})
	return first, second
}

func TestExclusiveConflicts(t *testing.T) {
	first, second := openTwice(t)

	require.NoError(t, Exclusive(first))
	assert.ErrorIs(t, Exclusive(second), ErrLocked)
	assert.ErrorIs(t, Shared(second), ErrLocked)

	Unlock(first)
	assert.NoError(t, Exclusive(second))
}

func TestSharedLocksCoexist(t *testing.T) {
	first, second := openTwice(t)

	require.NoError(t, Shared(first))
	assert.NoError(t, Shared(second))
	assert.False(t, TryExclusiveLock(first))
}

func TestNilFile(t *testing.T) {
	assert.ErrorIs(t, Exclusive(nil), os.ErrInvalid)
	assert.ErrorIs(t, Shared(nil), os.ErrInvalid)
	Unlock(nil)
}
