package blobstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kvingest/internal/fs"
)

func testStores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"local":  NewLocalStore(t.TempDir()),
	}
}

func TestStore_PutOpenListDelete(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			require.NoError(t, s.Put(ctx, "files/000002.sst", []byte("two")))
			require.NoError(t, s.Put(ctx, "files/000001.sst", []byte("one")))
			require.NoError(t, s.Put(ctx, "CURRENT", []byte("MANIFEST-000001")))

			got, err := ReadAll(ctx, s, "files/000001.sst")
			require.NoError(t, err)
			assert.Equal(t, "one", string(got))

			b, err := s.Open(ctx, "files/000002.sst")
			require.NoError(t, err)
			assert.Equal(t, int64(3), b.Size())
			buf := make([]byte, 2)
			n, err := b.ReadAt(buf, 1)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			assert.Equal(t, "wo", string(buf))
			require.NoError(t, b.Close())

			names, err := s.List(ctx, "files/")
			require.NoError(t, err)
			assert.Equal(t, []string{"files/000001.sst", "files/000002.sst"}, names)

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			require.NoError(t, s.Delete(ctx, "files/000001.sst"))
			require.NoError(t, s.Delete(ctx, "files/000001.sst"))
			_, err = s.Open(ctx, "files/000001.sst")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_CreateIsVisibleOnlyAfterClose(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			w, err := s.Create(ctx, "blob")
			require.NoError(t, err)
			_, err = w.Write([]byte("hello "))
			require.NoError(t, err)

			_, err = s.Open(ctx, "blob")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = w.Write([]byte("world"))
			require.NoError(t, err)
			require.NoError(t, w.Close())
			assert.Error(t, w.Close())

			got, err := ReadAll(ctx, s, "blob")
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(got))
		})
	}
}

func TestStore_AbortDiscards(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			w, err := s.Create(ctx, "aborted")
			require.NoError(t, err)
			_, err = w.Write([]byte("partial"))
			require.NoError(t, err)
			require.NoError(t, w.Abort())

			_, err = s.Open(ctx, "aborted")
			assert.ErrorIs(t, err, ErrNotFound)
			names, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestUpload(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := t.Context()

	n, err := Upload(ctx, s, "a/b.sst", strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	data, err := os.ReadFile(filepath.Join(s.Root(), "a", "b.sst"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("payload"), data))

	readErr := errors.New("read failed")
	_, err = Upload(ctx, s, "a/c.sst", failingReader{err: readErr})
	assert.ErrorIs(t, err, readErr)
	_, err = s.Open(ctx, "a/c.sst")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	s := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := s.List(t.Context(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_WriteFaults(t *testing.T) {
	tests := []struct {
		name  string
		fault fs.Fault
	}{
		{"write", fs.Fault{FailWrites: true, WriteLimit: 4}},
		{"sync", fs.Fault{FailOnSync: true}},
		{"close", fs.Fault{FailOnClose: true}},
		{"rename", fs.Fault{FailOnRename: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ffs := fs.NewFaultyFS(nil)
			ffs.AddRule("victim.sst", tt.fault)
			s := NewLocalStore(t.TempDir(), WithFileSystem(ffs))
			ctx := t.Context()

			_, err := Upload(ctx, s, "files/victim.sst", strings.NewReader("payload"))
			require.ErrorIs(t, err, fs.ErrInjected)

			_, err = s.Open(ctx, "files/victim.sst")
			assert.ErrorIs(t, err, ErrNotFound)

			entries, err := os.ReadDir(filepath.Join(s.Root(), "files"))
			require.NoError(t, err)
			assert.Empty(t, entries, "temporary file left behind")

			require.NoError(t, s.Put(ctx, "files/other.sst", []byte("ok")))
			names, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"files/other.sst"}, names)
		})
	}
}

func TestLocalStore_ListSkipsTemporaryFiles(t *testing.T) {
	s := NewLocalStore(t.TempDir())
	ctx := t.Context()

	w, err := s.Create(ctx, "files/pending.sst")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, w.Close())
	names, err = s.List(ctx, "files/")
	require.NoError(t, err)
	assert.Equal(t, []string{"files/pending.sst"}, names)
}
