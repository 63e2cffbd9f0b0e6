package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// RunTrashTests executes soft-delete and restore tests.
func (suite *MetadataStoreTestSuite) RunTrashTests(t *testing.T) {
	t.Run("TrashStampsWholeSubtree", suite.testTrashSubtree)
	t.Run("TrashRootForbidden", suite.testTrashRootForbidden)
	t.Run("TrashTwiceFails", suite.testTrashTwice)
	t.Run("RestoreBringsBackSubtree", suite.testRestoreSubtree)
	t.Run("RestoreOnlyOwnDeletion", suite.testRestoreOwnDeletion)
	t.Run("RestoreFailsOnNameConflict", suite.testRestoreNameConflict)
	t.Run("RestoreFailsWithoutParent", suite.testRestoreWithoutParent)
	t.Run("RestoreNonRootEntryFails", suite.testRestoreNonRootEntry)
	t.Run("PurgeRemovesSubtreeAndVersions", suite.testPurge)
	t.Run("ExpiredTrashRoots", suite.testExpiredTrashRoots)
}

func (suite *MetadataStoreTestSuite) testTrashSubtree(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	folder := mustFolder(t, store, root, "project")
	sub := mustFolder(t, store, folder, "assets")
	mustFile(t, store, sub, "logo.png", "png")

	count, err := store.TrashNode(testContext(), folder.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	got, err := store.GetNode(testContext(), sub.ID)
	require.NoError(t, err)
	assert.True(t, got.Trashed)
	assert.Equal(t, folder.ID, got.TrashRootID, "descendants are stamped with the deletion root")

	roots, err := store.ListTrashRoots(testContext(), testOwner)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, folder.ID, roots[0].ID)
}

func (suite *MetadataStoreTestSuite) testTrashRootForbidden(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)

	_, err := store.TrashNode(testContext(), root.ID, time.Now())
	assertCode(t, err, metadata.ErrInvalidArgument)
}

func (suite *MetadataStoreTestSuite) testTrashTwice(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	folder := mustFolder(t, store, root, "once")

	_, err := store.TrashNode(testContext(), folder.ID, time.Now())
	require.NoError(t, err)
	_, err = store.TrashNode(testContext(), folder.ID, time.Now())
	assertCode(t, err, metadata.ErrAlreadyTrashed)
}

func (suite *MetadataStoreTestSuite) testRestoreSubtree(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	folder := mustFolder(t, store, root, "project")
	file := mustFile(t, store, folder, "main.go", "package main")

	_, err := store.TrashNode(testContext(), folder.ID, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.RestoreNode(testContext(), folder.ID))

	got, err := store.ResolvePath(testContext(), root.ID, []string{"project", "main.go"})
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.ID)
	assert.False(t, got.Trashed)

	roots, err := store.ListTrashRoots(testContext(), testOwner)
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func (suite *MetadataStoreTestSuite) testRestoreOwnDeletion(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	folder := mustFolder(t, store, root, "project")
	inner := mustFolder(t, store, folder, "inner")

	// Two separate deletions: inner first, then the whole folder.
	_, err := store.TrashNode(testContext(), inner.ID, time.Now())
	require.NoError(t, err)
	_, err = store.TrashNode(testContext(), folder.ID, time.Now())
	require.NoError(t, err)

	// Restoring the folder must not resurrect the separately deleted inner.
	require.NoError(t, store.RestoreNode(testContext(), folder.ID))

	got, err := store.GetNode(testContext(), inner.ID)
	require.NoError(t, err)
	assert.True(t, got.Trashed, "a separately trashed descendant keeps its own trash entry")

	// And its own entry is still restorable.
	require.NoError(t, store.RestoreNode(testContext(), inner.ID))
	got, err = store.GetNode(testContext(), inner.ID)
	require.NoError(t, err)
	assert.False(t, got.Trashed)
}

func (suite *MetadataStoreTestSuite) testRestoreNameConflict(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	folder := mustFolder(t, store, root, "report")

	_, err := store.TrashNode(testContext(), folder.ID, time.Now())
	require.NoError(t, err)

	// The freed name is taken by a newcomer.
	mustFolder(t, store, root, "report")

	err = store.RestoreNode(testContext(), folder.ID)
	assertCode(t, err, metadata.ErrNameConflict)

	// Nothing was restored.
	got, err := store.GetNode(testContext(), folder.ID)
	require.NoError(t, err)
	assert.True(t, got.Trashed)
}

func (suite *MetadataStoreTestSuite) testRestoreWithoutParent(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	parent := mustFolder(t, store, root, "parent")
	child := mustFolder(t, store, parent, "child")

	_, err := store.TrashNode(testContext(), child.ID, time.Now())
	require.NoError(t, err)
	_, err = store.TrashNode(testContext(), parent.ID, time.Now())
	require.NoError(t, err)

	err = store.RestoreNode(testContext(), child.ID)
	assertCode(t, err, metadata.ErrNotFound)
}

func (suite *MetadataStoreTestSuite) testRestoreNonRootEntry(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	folder := mustFolder(t, store, root, "project")
	inner := mustFolder(t, store, folder, "inner")

	_, err := store.TrashNode(testContext(), folder.ID, time.Now())
	require.NoError(t, err)

	// inner went down with the folder; it is not its own trash entry.
	err = store.RestoreNode(testContext(), inner.ID)
	assertCode(t, err, metadata.ErrNotTrashed)

	active := mustFolder(t, store, root, "active")
	err = store.RestoreNode(testContext(), active.ID)
	assertCode(t, err, metadata.ErrNotTrashed)
}

func (suite *MetadataStoreTestSuite) testPurge(t *testing.T) {
	store := suite.NewStore(t)
	_, err := store.EnsureQuota(testContext(), testOwner, 0)
	require.NoError(t, err)
	root := mustRoot(t, store)
	folder := mustFolder(t, store, root, "project")
	file := mustFile(t, store, folder, "data.bin", "xxxx")
	_, err = store.CommitVersion(testContext(), file.ID, "aa", 6, testOwner)
	require.NoError(t, err)

	// Charge the ledger the way the engine would.
	r1, err := store.Reserve(testContext(), testOwner, 10, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.CommitReservation(testContext(), r1.ID))

	_, err = store.TrashNode(testContext(), folder.ID, time.Now())
	require.NoError(t, err)

	result, err := store.PurgeNode(testContext(), folder.ID)
	require.NoError(t, err)
	assert.Len(t, result.NodeIDs, 2)
	assert.Len(t, result.Versions, 2)
	assert.Equal(t, uint64(10), result.BytesFreed[testOwner])

	// Records are gone and the ledger was credited.
	_, err = store.GetNode(testContext(), file.ID)
	assertCode(t, err, metadata.ErrNotFound)
	ledger, err := store.GetQuota(testContext(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ledger.ConsumedBytes)
}

func (suite *MetadataStoreTestSuite) testExpiredTrashRoots(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	old := mustFolder(t, store, root, "old")
	fresh := mustFolder(t, store, root, "fresh")

	_, err := store.TrashNode(testContext(), old.ID, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	_, err = store.TrashNode(testContext(), fresh.ID, time.Now())
	require.NoError(t, err)

	expired, err := store.ExpiredTrashRoots(testContext(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0])
}
