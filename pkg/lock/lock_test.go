//go:build !windows

package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "demuxmgr.lock")

	g, err := Acquire(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, os.Getpid(), HolderPID(path))

	require.NoError(t, g.Release())
	assert.NoFileExists(t, path)
	assert.NoError(t, g.Release())
}

func TestAcquireWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demuxmgr.lock")

	g, err := Acquire(path)
	require.NoError(t, err)
	defer func() { _ = g.Release() }()

	_, err = Acquire(path)
	require.ErrorIs(t, err, ErrLocked)
}

func TestAcquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demuxmgr.lock")

	g, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, g.Release())

	g2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, g2.Release())
}

func TestAcquireStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demuxmgr.lock")
	require.NoError(t, os.WriteFile(path, []byte("999999\n"), 0o644))

	g, err := Acquire(path)
	require.NoError(t, err)
	defer func() { _ = g.Release() }()
	assert.Equal(t, os.Getpid(), HolderPID(path))
}

func TestAcquireRetriesWhenFileIsReplaced(t *testing.T) {
	tests := []struct {
		name    string
		replace func(t *testing.T, path string)
	}{
		{"unlinked by releasing holder", func(t *testing.T, path string) {
			require.NoError(t, os.Remove(path))
		}},
		{"recreated by another process", func(t *testing.T, path string) {
			require.NoError(t, os.Remove(path))
			require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0o644))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "demuxmgr.lock")
			opens := 0
			afterOpen = func(p string) {
				opens++
				if opens == 1 {
					tt.replace(t, p)
				}
			}
			t.Cleanup(func() { afterOpen = nil })

			g, err := Acquire(path)
			require.NoError(t, err)
			defer func() { _ = g.Release() }()

			assert.Equal(t, 2, opens)
			same, err := sameFile(g.file, path)
			require.NoError(t, err)
			assert.True(t, same, "guard must hold the file linked at path")
			assert.Equal(t, os.Getpid(), HolderPID(path))

			afterOpen = nil
			_, err = Acquire(path)
			assert.ErrorIs(t, err, ErrLocked)
		})
	}
}

func TestAcquireEmptyPath(t *testing.T) {
	_, err := Acquire("")
	assert.Error(t, err)
}
