package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/content"
)

// RunSweepTests executes deferred reclamation tests.
func (suite *BlobStoreTestSuite) RunSweepTests(t *testing.T) {
	t.Run("ReclaimsExpiredZeroRefBlobs", suite.testSweepReclaims)
	t.Run("RespectsGraceWindow", suite.testSweepGrace)
	t.Run("SkipsReferencedBlobs", suite.testSweepSkipsReferenced)
}

func (suite *BlobStoreTestSuite) testSweepReclaims(t *testing.T) {
	store := suite.NewStore(t)
	data := []byte("expired content")
	info, _, err := store.PutBlob(testContext(), data)
	require.NoError(t, err)
	require.NoError(t, store.DecRef(testContext(), info.Digest))

	// Zero grace: anything stamped in the past is eligible.
	time.Sleep(5 * time.Millisecond)
	result, err := store.Sweep(testContext(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, uint64(len(data)), result.BytesReclaimed)

	_, err = store.ReadBlob(testContext(), info.Digest)
	assert.ErrorIs(t, err, content.ErrBlobMissing)
}

func (suite *BlobStoreTestSuite) testSweepGrace(t *testing.T) {
	store := suite.NewStore(t)
	info, _, err := store.PutBlob(testContext(), []byte("recently dropped"))
	require.NoError(t, err)
	require.NoError(t, store.DecRef(testContext(), info.Digest))

	// A long grace keeps the fresh zero-ref blob around.
	result, err := store.Sweep(testContext(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Removed)
	assert.Equal(t, 1, result.Skipped)

	_, err = store.StatBlob(testContext(), info.Digest)
	require.NoError(t, err)
}

func (suite *BlobStoreTestSuite) testSweepSkipsReferenced(t *testing.T) {
	store := suite.NewStore(t)
	live, _, err := store.PutBlob(testContext(), []byte("still referenced"))
	require.NoError(t, err)
	dead, _, err := store.PutBlob(testContext(), []byte("unreferenced"))
	require.NoError(t, err)
	require.NoError(t, store.DecRef(testContext(), dead.Digest))

	time.Sleep(5 * time.Millisecond)
	result, err := store.Sweep(testContext(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)

	_, err = store.StatBlob(testContext(), live.Digest)
	require.NoError(t, err)
	_, err = store.StatBlob(testContext(), dead.Digest)
	assert.ErrorIs(t, err, content.ErrBlobMissing)
}
