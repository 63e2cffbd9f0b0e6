package testing

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/content"
)

// RunBlobTests executes blob write/read/stat tests.
func (suite *BlobStoreTestSuite) RunBlobTests(t *testing.T) {
	t.Run("PutAndRead", suite.testPutAndRead)
	t.Run("PutDeduplicates", suite.testPutDeduplicates)
	t.Run("PutEmptyBlob", suite.testPutEmptyBlob)
	t.Run("PutLargeBlob", suite.testPutLargeBlob)
	t.Run("ReadMissing", suite.testReadMissing)
	t.Run("StatMissing", suite.testStatMissing)
	t.Run("DigestIsDeterministic", suite.testDigestDeterministic)
}

func (suite *BlobStoreTestSuite) testPutAndRead(t *testing.T) {
	store := suite.NewStore(t)
	data := []byte("quarterly report, final version")

	info, deduped, err := store.PutBlob(testContext(), data)
	require.NoError(t, err)
	assert.False(t, deduped)
	assert.Equal(t, content.DigestBytes(data), info.Digest)
	assert.Equal(t, uint64(len(data)), info.Size)
	assert.Equal(t, int64(1), info.RefCount)

	reader, err := store.ReadBlob(testContext(), info.Digest)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func (suite *BlobStoreTestSuite) testPutDeduplicates(t *testing.T) {
	store := suite.NewStore(t)
	data := []byte("same bytes, two uploads")

	first, deduped, err := store.PutBlob(testContext(), data)
	require.NoError(t, err)
	assert.False(t, deduped)

	second, deduped, err := store.PutBlob(testContext(), data)
	require.NoError(t, err)
	assert.True(t, deduped)
	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, int64(2), second.RefCount)
}

func (suite *BlobStoreTestSuite) testPutEmptyBlob(t *testing.T) {
	store := suite.NewStore(t)

	info, _, err := store.PutBlob(testContext(), []byte{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.Size)

	reader, err := store.ReadBlob(testContext(), info.Digest)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func (suite *BlobStoreTestSuite) testPutLargeBlob(t *testing.T) {
	store := suite.NewStore(t)
	data := bytes.Repeat([]byte("driftdrive"), 100_000) // 1MB

	info, _, err := store.PutBlob(testContext(), data)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), info.Size)

	stat, err := store.StatBlob(testContext(), info.Digest)
	require.NoError(t, err)
	assert.Equal(t, info.Digest, stat.Digest)
	assert.Equal(t, uint64(len(data)), stat.Size)
}

func (suite *BlobStoreTestSuite) testReadMissing(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.ReadBlob(testContext(), content.DigestBytes([]byte("never stored")))
	assert.ErrorIs(t, err, content.ErrBlobMissing)
}

func (suite *BlobStoreTestSuite) testStatMissing(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.StatBlob(testContext(), content.DigestBytes([]byte("never stored")))
	assert.ErrorIs(t, err, content.ErrBlobMissing)
}

func (suite *BlobStoreTestSuite) testDigestDeterministic(t *testing.T) {
	store := suite.NewStore(t)
	data := []byte("stable digest")

	info, _, err := store.PutBlob(testContext(), data)
	require.NoError(t, err)

	// Same content always maps to the same digest, across stores too.
	assert.Equal(t, content.DigestBytes(data), info.Digest)
	assert.Len(t, string(info.Digest), 64)
}
