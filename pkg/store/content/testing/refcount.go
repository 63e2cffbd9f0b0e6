package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/content"
)

// RunRefCountTests executes reference counting tests.
func (suite *BlobStoreTestSuite) RunRefCountTests(t *testing.T) {
	t.Run("IncRef", suite.testIncRef)
	t.Run("DecRefToZeroStampsReclaim", suite.testDecRefToZero)
	t.Run("DecRefBelowZeroFails", suite.testDecRefBelowZero)
	t.Run("IncRefClearsReclaimStamp", suite.testIncRefClearsStamp)
	t.Run("RefOpsOnMissingBlob", suite.testRefOpsMissing)
}

func (suite *BlobStoreTestSuite) testIncRef(t *testing.T) {
	store := suite.NewStore(t)
	info, _, err := store.PutBlob(testContext(), []byte("shared content"))
	require.NoError(t, err)

	require.NoError(t, store.IncRef(testContext(), info.Digest))

	stat, err := store.StatBlob(testContext(), info.Digest)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stat.RefCount)
}

func (suite *BlobStoreTestSuite) testDecRefToZero(t *testing.T) {
	store := suite.NewStore(t)
	info, _, err := store.PutBlob(testContext(), []byte("soon unreferenced"))
	require.NoError(t, err)

	require.NoError(t, store.DecRef(testContext(), info.Digest))

	stat, err := store.StatBlob(testContext(), info.Digest)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stat.RefCount)
	assert.False(t, stat.ZeroSince.IsZero(), "reaching zero must stamp the reclaim clock")

	// The blob stays readable until the sweeper takes it.
	reader, err := store.ReadBlob(testContext(), info.Digest)
	require.NoError(t, err)
	_ = reader.Close()
}

func (suite *BlobStoreTestSuite) testDecRefBelowZero(t *testing.T) {
	store := suite.NewStore(t)
	info, _, err := store.PutBlob(testContext(), []byte("one reference only"))
	require.NoError(t, err)

	require.NoError(t, store.DecRef(testContext(), info.Digest))
	err = store.DecRef(testContext(), info.Digest)
	assert.ErrorIs(t, err, content.ErrNegativeRefCount)
}

func (suite *BlobStoreTestSuite) testIncRefClearsStamp(t *testing.T) {
	store := suite.NewStore(t)
	info, _, err := store.PutBlob(testContext(), []byte("rescued content"))
	require.NoError(t, err)

	require.NoError(t, store.DecRef(testContext(), info.Digest))
	require.NoError(t, store.IncRef(testContext(), info.Digest))

	stat, err := store.StatBlob(testContext(), info.Digest)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stat.RefCount)
	assert.True(t, stat.ZeroSince.IsZero(), "a referenced blob must not be scheduled for reclaim")

	// And the sweeper must leave it alone, grace or not.
	result, err := store.Sweep(testContext(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Removed)

	_, err = store.StatBlob(testContext(), info.Digest)
	require.NoError(t, err)
}

func (suite *BlobStoreTestSuite) testRefOpsMissing(t *testing.T) {
	store := suite.NewStore(t)
	missing := content.DigestBytes([]byte("never stored"))

	assert.ErrorIs(t, store.IncRef(testContext(), missing), content.ErrBlobMissing)
	assert.ErrorIs(t, store.DecRef(testContext(), missing), content.ErrBlobMissing)
}
