package testing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// RunNamespaceTests executes namespace tree tests.
func (suite *MetadataStoreTestSuite) RunNamespaceTests(t *testing.T) {
	t.Run("EnsureRootIsIdempotent", suite.testEnsureRootIdempotent)
	t.Run("CreateAndGet", suite.testCreateAndGet)
	t.Run("CreateRejectsDuplicateName", suite.testCreateDuplicateName)
	t.Run("CreateRejectsInvalidNames", suite.testCreateInvalidNames)
	t.Run("CreateUnderFileFails", suite.testCreateUnderFile)
	t.Run("TrashedNameIsReusable", suite.testTrashedNameReusable)
	t.Run("Rename", suite.testRename)
	t.Run("RenameRejectsConflict", suite.testRenameConflict)
	t.Run("Move", suite.testMove)
	t.Run("MoveRejectsCycle", suite.testMoveCycle)
	t.Run("MoveIntoItselfFails", suite.testMoveIntoItself)
	t.Run("ListChildrenSorted", suite.testListChildren)
	t.Run("ResolvePath", suite.testResolvePath)
	t.Run("ResolveSkipsTrashed", suite.testResolveSkipsTrashed)
}

func (suite *MetadataStoreTestSuite) testEnsureRootIdempotent(t *testing.T) {
	store := suite.NewStore(t)

	first := mustRoot(t, store)
	second := mustRoot(t, store)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.IsRoot())
	assert.Equal(t, metadata.KindFolder, first.Kind)

	// A different principal gets a different root.
	other, err := store.EnsureRoot(testContext(), "bob")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func (suite *MetadataStoreTestSuite) testCreateAndGet(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)

	folder := mustFolder(t, store, root, "documents")
	assert.Equal(t, root.ID, folder.ParentID)
	assert.Equal(t, testOwner, folder.Owner)

	got, err := store.GetNode(testContext(), folder.ID)
	require.NoError(t, err)
	assert.Equal(t, folder.ID, got.ID)
	assert.Equal(t, "documents", got.Name)
}

func (suite *MetadataStoreTestSuite) testCreateDuplicateName(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)

	mustFolder(t, store, root, "projects")
	_, err := store.CreateNode(testContext(), root.ID, "projects", metadata.KindFolder, testOwner)
	assertCode(t, err, metadata.ErrNameConflict)

	// A file clashes with a folder of the same name just the same.
	_, _, err = store.CreateFileWithVersion(testContext(), root.ID, "projects", testOwner, "00", 1, testOwner)
	assertCode(t, err, metadata.ErrNameConflict)
}

func (suite *MetadataStoreTestSuite) testCreateInvalidNames(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)

	for _, name := range []string{"", ".", "..", "a/b", "nul\x00byte"} {
		_, err := store.CreateNode(testContext(), root.ID, name, metadata.KindFolder, testOwner)
		assertCode(t, err, metadata.ErrInvalidArgument)
	}
}

func (suite *MetadataStoreTestSuite) testCreateUnderFile(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	file := mustFile(t, store, root, "notes.txt", "content")

	_, err := store.CreateNode(testContext(), file.ID, "child", metadata.KindFolder, testOwner)
	assertCode(t, err, metadata.ErrNotFolder)
}

func (suite *MetadataStoreTestSuite) testTrashedNameReusable(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)

	old := mustFolder(t, store, root, "archive")
	_, err := store.TrashNode(testContext(), old.ID, time.Now())
	require.NoError(t, err)

	// The trashed node holds the name no longer.
	replacement := mustFolder(t, store, root, "archive")
	assert.NotEqual(t, old.ID, replacement.ID)
}

func (suite *MetadataStoreTestSuite) testRename(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	folder := mustFolder(t, store, root, "draft")

	renamed, err := store.RenameNode(testContext(), folder.ID, "final")
	require.NoError(t, err)
	assert.Equal(t, "final", renamed.Name)

	_, err = store.ResolvePath(testContext(), root.ID, []string{"draft"})
	assertCode(t, err, metadata.ErrNotFound)
	got, err := store.ResolvePath(testContext(), root.ID, []string{"final"})
	require.NoError(t, err)
	assert.Equal(t, folder.ID, got.ID)
}

func (suite *MetadataStoreTestSuite) testRenameConflict(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	mustFolder(t, store, root, "taken")
	folder := mustFolder(t, store, root, "free")

	_, err := store.RenameNode(testContext(), folder.ID, "taken")
	assertCode(t, err, metadata.ErrNameConflict)

	_, err = store.RenameNode(testContext(), root.ID, "anything")
	assertCode(t, err, metadata.ErrInvalidArgument)
}

func (suite *MetadataStoreTestSuite) testMove(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	src := mustFolder(t, store, root, "src")
	dst := mustFolder(t, store, root, "dst")
	file := mustFile(t, store, src, "report.pdf", "data")

	moved, err := store.MoveNode(testContext(), file.ID, dst.ID)
	require.NoError(t, err)
	assert.Equal(t, dst.ID, moved.ParentID)
	assert.Equal(t, "report.pdf", moved.Name)

	got, err := store.ResolvePath(testContext(), root.ID, []string{"dst", "report.pdf"})
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.ID)
}

func (suite *MetadataStoreTestSuite) testMoveCycle(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	outer := mustFolder(t, store, root, "outer")
	inner := mustFolder(t, store, outer, "inner")
	deepest := mustFolder(t, store, inner, "deepest")

	_, err := store.MoveNode(testContext(), outer.ID, deepest.ID)
	assertCode(t, err, metadata.ErrCycleDetected)

	// The tree is untouched.
	got, err := store.ResolvePath(testContext(), root.ID, []string{"outer", "inner", "deepest"})
	require.NoError(t, err)
	assert.Equal(t, deepest.ID, got.ID)
}

func (suite *MetadataStoreTestSuite) testMoveIntoItself(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	folder := mustFolder(t, store, root, "self")

	_, err := store.MoveNode(testContext(), folder.ID, folder.ID)
	assertCode(t, err, metadata.ErrCycleDetected)
}

func (suite *MetadataStoreTestSuite) testListChildren(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	mustFolder(t, store, root, "zebra")
	mustFolder(t, store, root, "apple")
	trashed := mustFolder(t, store, root, "middle")
	_, err := store.TrashNode(testContext(), trashed.ID, time.Now())
	require.NoError(t, err)

	children, err := store.ListChildren(testContext(), root.ID, false)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "apple", children[0].Name)
	assert.Equal(t, "zebra", children[1].Name)

	all, err := store.ListChildren(testContext(), root.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func (suite *MetadataStoreTestSuite) testResolvePath(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	docs := mustFolder(t, store, root, "docs")
	file := mustFile(t, store, docs, "readme.md", "hello")

	got, err := store.ResolvePath(testContext(), root.ID, []string{"docs", "readme.md"})
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.ID)

	// Empty segments resolve to the root itself.
	self, err := store.ResolvePath(testContext(), root.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, root.ID, self.ID)

	_, err = store.ResolvePath(testContext(), root.ID, []string{"docs", "missing"})
	assertCode(t, err, metadata.ErrNotFound)
	_, err = store.ResolvePath(testContext(), root.ID, []string{"docs", "readme.md", "impossible"})
	assertCode(t, err, metadata.ErrNotFolder)
}

func (suite *MetadataStoreTestSuite) testResolveSkipsTrashed(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	docs := mustFolder(t, store, root, "docs")
	mustFile(t, store, docs, "readme.md", "hello")

	_, err := store.TrashNode(testContext(), docs.ID, time.Now())
	require.NoError(t, err)

	_, err = store.ResolvePath(testContext(), root.ID, []string{"docs"})
	assertCode(t, err, metadata.ErrNotFound)
	_, err = store.ResolvePath(testContext(), root.ID, []string{"docs", "readme.md"})
	assertCode(t, err, metadata.ErrNotFound)
}
