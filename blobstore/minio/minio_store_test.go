package minio

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/hupe1980/kvingest/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMinioStore_Integration runs against the MinIO instance named by
// KVINGEST_MINIO_ENDPOINT (e.g. "localhost:9000").
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("KVINGEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("KVINGEST_MINIO_ENDPOINT not set")
	}
	bucket := "test-kvingest"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix/")

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "files/a.sst", data))

	got, err := blobstore.ReadAll(ctx, store, "files/a.sst")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	w, err := store.Create(ctx, "files/b.sst")
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = store.Create(ctx, "files/c.sst")
	require.NoError(t, err)
	_, err = w.Write([]byte("discarded"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	names, err := store.List(ctx, "files/")
	require.NoError(t, err)
	assert.Equal(t, []string{"files/a.sst", "files/b.sst"}, names)

	for _, name := range names {
		require.NoError(t, store.Delete(ctx, name))
	}
	_, err = store.Open(ctx, "files/a.sst")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_Key(t *testing.T) {
	s := NewStore(nil, "bucket", "root/", WithPartSize(16<<20))
	assert.Equal(t, "root/files/a.sst", s.key("files/a.sst"))
	assert.Equal(t, uint64(16<<20), s.partSize)
	assert.True(t, strings.HasPrefix(s.key("x"), "root"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NotFound"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
}
