package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/content"
	storetesting "github.com/driftdrive/driftdrive/pkg/store/content/testing"
)

func TestFSBlobStore(t *testing.T) {
	suite := &storetesting.BlobStoreTestSuite{
		NewStore: func(t *testing.T) content.BlobStore {
			store, err := NewFSBlobStore(context.Background(), t.TempDir())
			require.NoError(t, err)
			return store
		},
	}
	suite.Run(t)
}

func TestFSBlobStoreLayout(t *testing.T) {
	base := t.TempDir()
	store, err := NewFSBlobStore(context.Background(), base)
	require.NoError(t, err)

	info, _, err := store.PutBlob(context.Background(), []byte("fan-out check"))
	require.NoError(t, err)

	d := string(info.Digest)
	blobPath := filepath.Join(base, "blobs", d[:2], d)
	refPath := filepath.Join(base, "refs", d)

	_, err = os.Stat(blobPath)
	assert.NoError(t, err, "blob bytes live under the two-hex fan-out directory")
	_, err = os.Stat(refPath)
	assert.NoError(t, err, "each blob carries a sidecar ref record")
}

func TestFSBlobStoreCorruptRefFile(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()
	store, err := NewFSBlobStore(ctx, base)
	require.NoError(t, err)

	info, _, err := store.PutBlob(ctx, []byte("refcounted content"))
	require.NoError(t, err)
	require.NoError(t, store.IncRef(ctx, info.Digest))

	refPath := filepath.Join(base, "refs", string(info.Digest))
	require.NoError(t, os.WriteFile(refPath, []byte("{not json"), 0644))

	_, _, err = store.PutBlob(ctx, []byte("refcounted content"))
	assert.Error(t, err, "a put must not treat a corrupt ref record as absent content")
	assert.NotErrorIs(t, err, content.ErrBlobMissing)
}

func TestFSBlobStoreSurvivesReopen(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	store, err := NewFSBlobStore(ctx, base)
	require.NoError(t, err)
	info, _, err := store.PutBlob(ctx, []byte("persistent content"))
	require.NoError(t, err)
	require.NoError(t, store.IncRef(ctx, info.Digest))
	require.NoError(t, store.Close())

	reopened, err := NewFSBlobStore(ctx, base)
	require.NoError(t, err)
	stat, err := reopened.StatBlob(ctx, info.Digest)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stat.RefCount)
	assert.Equal(t, info.Size, stat.Size)
}
