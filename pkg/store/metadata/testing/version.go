package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// RunVersionTests executes version history tests.
func (suite *MetadataStoreTestSuite) RunVersionTests(t *testing.T) {
	t.Run("CommitAssignsGaplessSequence", suite.testCommitSequence)
	t.Run("CommitMovesCurrentPointer", suite.testCommitCurrentPointer)
	t.Run("CommitOnFolderFails", suite.testCommitOnFolder)
	t.Run("SetCurrentVersion", suite.testSetCurrentVersion)
	t.Run("PruneKeepsNewestAndCurrent", suite.testPruneKeepCount)
	t.Run("PruneByAge", suite.testPruneByAge)
	t.Run("SequenceContinuesAfterPrune", suite.testSequenceAfterPrune)
}

func (suite *MetadataStoreTestSuite) testCommitSequence(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	file := mustFile(t, store, root, "doc.txt", "v1")

	v2, err := store.CommitVersion(testContext(), file.ID, "aa", 2, testOwner)
	require.NoError(t, err)
	v3, err := store.CommitVersion(testContext(), file.ID, "bb", 3, testOwner)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), v2.Seq)
	assert.Equal(t, uint64(3), v3.Seq)

	versions, err := store.ListVersions(testContext(), file.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, uint64(i+1), v.Seq, "history is gap-free and ascending")
	}
}

func (suite *MetadataStoreTestSuite) testCommitCurrentPointer(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	file := mustFile(t, store, root, "doc.txt", "v1")

	v2, err := store.CommitVersion(testContext(), file.ID, "aa", 2, testOwner)
	require.NoError(t, err)

	got, err := store.GetNode(testContext(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, got.CurrentVersionID)
}

func (suite *MetadataStoreTestSuite) testCommitOnFolder(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	folder := mustFolder(t, store, root, "dir")

	_, err := store.CommitVersion(testContext(), folder.ID, "aa", 1, testOwner)
	assertCode(t, err, metadata.ErrNotFile)
}

func (suite *MetadataStoreTestSuite) testSetCurrentVersion(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	file := mustFile(t, store, root, "doc.txt", "v1")
	other := mustFile(t, store, root, "other.txt", "x")

	versions, err := store.ListVersions(testContext(), file.ID)
	require.NoError(t, err)
	v1 := versions[0]

	_, err = store.CommitVersion(testContext(), file.ID, "aa", 2, testOwner)
	require.NoError(t, err)

	require.NoError(t, store.SetCurrentVersion(testContext(), file.ID, v1.ID))
	got, err := store.GetNode(testContext(), file.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, got.CurrentVersionID)

	// A version of another file is rejected.
	err = store.SetCurrentVersion(testContext(), other.ID, v1.ID)
	assertCode(t, err, metadata.ErrInvalidArgument)
}

func (suite *MetadataStoreTestSuite) testPruneKeepCount(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	file := mustFile(t, store, root, "doc.txt", "v1")
	for i := 2; i <= 5; i++ {
		_, err := store.CommitVersion(testContext(), file.ID, "aa", uint64(i), testOwner)
		require.NoError(t, err)
	}

	pruned, err := store.PruneVersions(testContext(), file.ID, 2, time.Time{})
	require.NoError(t, err)
	assert.Len(t, pruned, 3)

	remaining, err := store.ListVersions(testContext(), file.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, uint64(4), remaining[0].Seq)
	assert.Equal(t, uint64(5), remaining[1].Seq)
}

func (suite *MetadataStoreTestSuite) testPruneByAge(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	file := mustFile(t, store, root, "doc.txt", "v1")
	_, err := store.CommitVersion(testContext(), file.ID, "aa", 2, testOwner)
	require.NoError(t, err)

	// Cutoff in the future: everything but the current version goes.
	pruned, err := store.PruneVersions(testContext(), file.ID, 0, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, pruned, 1)
	assert.Equal(t, uint64(1), pruned[0].Seq)

	remaining, err := store.ListVersions(testContext(), file.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, uint64(2), remaining[0].Seq, "the current version is never pruned")
}

func (suite *MetadataStoreTestSuite) testSequenceAfterPrune(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	file := mustFile(t, store, root, "doc.txt", "v1")
	for i := 2; i <= 4; i++ {
		_, err := store.CommitVersion(testContext(), file.ID, "aa", uint64(i), testOwner)
		require.NoError(t, err)
	}

	_, err := store.PruneVersions(testContext(), file.ID, 1, time.Time{})
	require.NoError(t, err)

	v5, err := store.CommitVersion(testContext(), file.ID, "bb", 5, testOwner)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v5.Seq, "sequence numbers continue, never restart")
}
