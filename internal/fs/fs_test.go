package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "subdir")
	require.NoError(t, Default.MkdirAll(dir, 0o755))

	f, err := Default.CreateTemp(dir, ".tmp-blob-*")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(f.Name()))
	assert.True(t, strings.HasPrefix(filepath.Base(f.Name()), ".tmp-blob-"))

	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	entries, err := Default.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	final := filepath.Join(dir, "blob")
	require.NoError(t, Default.Rename(f.Name(), final))

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, Default.Remove(final))
	_, err = os.Stat(final)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFS_WriteLimit(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("victim", Fault{FailWrites: true, WriteLimit: 5})

	f, err := ffs.CreateTemp(tmp, "victim-*")
	require.NoError(t, err)

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.Write([]byte("!"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Zero(t, n)
	require.NoError(t, f.Close())

	// Files without a matching rule are untouched.
	g, err := ffs.CreateTemp(tmp, "plain-*")
	require.NoError(t, err)
	_, err = g.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, g.Close())
}

func TestFaultyFS_SyncCloseRename(t *testing.T) {
	tmp := t.TempDir()
	custom := os.ErrPermission
	ffs := NewFaultyFS(OS{})
	ffs.AddRule("on-sync", Fault{FailOnSync: true})
	ffs.AddRule("on-close", Fault{FailOnClose: true, Err: custom})
	ffs.AddRule("on-rename", Fault{FailOnRename: true})

	f, err := ffs.CreateTemp(tmp, "on-sync-*")
	require.NoError(t, err)
	_, err = f.Write([]byte("unlimited"))
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), ErrInjected)
	require.NoError(t, f.Close())

	f, err = ffs.CreateTemp(tmp, "on-close-*")
	require.NoError(t, err)
	assert.ErrorIs(t, f.Close(), custom)

	src := filepath.Join(tmp, "on-rename")
	require.NoError(t, os.WriteFile(src, nil, 0o644))
	assert.ErrorIs(t, ffs.Rename(src, filepath.Join(tmp, "other")), ErrInjected)

	ffs.ClearRules()
	require.NoError(t, ffs.Rename(src, filepath.Join(tmp, "other")))
	require.NoError(t, ffs.MkdirAll(filepath.Join(tmp, "a", "b"), 0o755))
	entries, err := ffs.ReadDir(tmp)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
	require.NoError(t, ffs.Remove(filepath.Join(tmp, "other")))
}
