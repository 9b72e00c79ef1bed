package manifest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/kvingest/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadBeforeSave(t *testing.T) {
	store := NewStore(blobstore.NewMemoryStore())
	_, err := store.Load(t.Context())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveLoadVersions(t *testing.T) {
	ctx := t.Context()
	blobs := blobstore.NewLocalStore(t.TempDir())
	store := NewStore(blobs)

	m := New("set")
	m.Files = append(m.Files, FileInfo{Name: "files/000001.sst", Size: 10, StoredSize: 10, Puts: 1})
	require.NoError(t, store.Save(ctx, m))
	assert.Equal(t, uint64(1), m.ID)

	m.Files = append(m.Files, FileInfo{Name: "files/000002.sst", Size: 20, StoredSize: 20, Merges: 2})
	require.NoError(t, store.Save(ctx, m))
	assert.Equal(t, uint64(2), m.ID)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.ID)
	assert.Equal(t, "set", loaded.Operator)
	assert.Len(t, loaded.Files, 2)
	assert.Equal(t, CurrentVersion, loaded.Version)

	v1, err := store.LoadVersion(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, v1.Files, 1)

	versions, err := store.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, uint64(1), versions[0].ID)
	assert.Equal(t, uint64(2), versions[1].ID)

	require.NoError(t, store.DeleteVersion(ctx, 1))
	_, err = store.LoadVersion(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	versions, err = store.ListVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestStore_ListVersionsSkipsCorrupt(t *testing.T) {
	ctx := t.Context()
	blobs := blobstore.NewMemoryStore()
	store := NewStore(blobs)

	require.NoError(t, store.Save(ctx, New("set")))
	require.NoError(t, blobs.Put(ctx, FileName(7, time.Unix(0, 1)), []byte("garbage")))
	require.NoError(t, blobs.Put(ctx, "MANIFEST-notes.txt", []byte("x")))

	versions, err := store.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, uint64(1), versions[0].ID)
}

func TestFileName(t *testing.T) {
	created := time.Unix(0, 0x1234)
	name := FileName(42, created)
	assert.Equal(t, "MANIFEST-000042-0000000000001234.bin", name)

	id, ok := ParseFileName("manifests/" + name)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), id)

	for _, bad := range []string{"MANIFEST-000042.bin", "MANIFEST-42-1234.bin", "CURRENT", "MANIFEST-000042-0000000000001234.json"} {
		_, ok := ParseFileName(bad)
		assert.False(t, ok, bad)
	}
}

func TestBlobCommitter_CorruptCurrent(t *testing.T) {
	ctx := t.Context()
	blobs := blobstore.NewMemoryStore()
	require.NoError(t, blobs.Put(ctx, CurrentFileName, []byte("nonsense")))

	_, err := NewStore(blobs).Load(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestBlobCommitter_RejectsStaleVersion(t *testing.T) {
	ctx := t.Context()
	blobs := blobstore.NewMemoryStore()
	c := NewBlobCommitter(blobs)

	require.NoError(t, c.Commit(ctx, 1, FileName(1, time.Unix(0, 1))))
	err := c.Commit(ctx, 1, FileName(1, time.Unix(0, 2)))
	assert.ErrorIs(t, err, blobstore.ErrConcurrentModification)

	id, name, err := c.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, FileName(1, time.Unix(0, 1)), name)
}

// racingCommitter lets exactly one commit per version succeed, like a
// conditional write.
type racingCommitter struct {
	mu      sync.Mutex
	commits map[uint64]string
}

func (c *racingCommitter) Current(context.Context) (uint64, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var latest uint64
	for v := range c.commits {
		latest = max(latest, v)
	}
	return latest, c.commits[latest], nil
}

func (c *racingCommitter) Commit(_ context.Context, version uint64, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.commits[version]; ok {
		return blobstore.ErrConcurrentModification
	}
	c.commits[version] = name
	return nil
}

func TestStore_LostCommitRemovesBlob(t *testing.T) {
	ctx := t.Context()
	blobs := blobstore.NewMemoryStore()
	committer := &racingCommitter{commits: make(map[uint64]string)}
	store := NewStore(blobs, WithCommitter(committer))

	require.NoError(t, store.Save(ctx, New("set")))

	committer.mu.Lock()
	winner := committer.commits[1]
	committer.mu.Unlock()

	loser := NewStore(blobs, WithCommitter(&staleCommitter{racingCommitter: committer}))
	m := New("set")
	err := loser.Save(ctx, m)
	assert.ErrorIs(t, err, blobstore.ErrConcurrentModification)
	assert.Zero(t, m.ID)

	names, err := blobs.List(ctx, ManifestFileName)
	require.NoError(t, err)
	assert.Equal(t, []string{winner}, names)
}

// staleCommitter reports nothing committed, as a publisher that read
// Current before the winner committed would.
type staleCommitter struct {
	*racingCommitter
}

func (c *staleCommitter) Current(context.Context) (uint64, string, error) {
	return 0, "", nil
}
