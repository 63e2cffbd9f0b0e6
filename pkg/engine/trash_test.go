package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/content"
	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// TestTrashRestoreRoundtrip deletes a folder subtree and restores it,
// expecting the exact prior shape back: same children, same names, same
// current versions.
func TestTrashRestoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	folder, err := e.CreateFolder(ctx, alice, root.ID, "project")
	require.NoError(t, err)
	file, v1, err := e.CreateFile(ctx, alice, folder.ID, "notes.txt", []byte("keep me"))
	require.NoError(t, err)
	sub, err := e.CreateFolder(ctx, alice, folder.ID, "assets")
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, alice, folder.ID))

	_, err = e.ResolvePath(ctx, alice, []string{"project"})
	assertCode(t, err, metadata.ErrNotFound)

	// Trash hides content and history even when addressed by ID.
	_, _, err = e.ReadFile(ctx, alice, file.ID)
	assertCode(t, err, metadata.ErrNotFound)
	_, _, err = e.ReadFileVersion(ctx, alice, v1.ID)
	assertCode(t, err, metadata.ErrNotFound)
	_, err = e.ListVersions(ctx, alice, file.ID)
	assertCode(t, err, metadata.ErrNotFound)

	trash, err := e.ListTrash(ctx, alice)
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, folder.ID, trash[0].ID)

	require.NoError(t, e.Restore(ctx, alice, folder.ID))

	children, err := e.ListChildren(ctx, alice, folder.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, sub.ID, children[0].ID)
	assert.Equal(t, file.ID, children[1].ID)

	got, err := e.Stat(ctx, alice, file.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, got.CurrentVersionID)

	r, _, err := e.ReadFile(ctx, alice, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep me", readAll(t, r))
}

// TestRestoreConflictIsAtomic checks that a name clash at restore time
// fails the whole restore and leaves the subtree trashed unchanged.
func TestRestoreConflictIsAtomic(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	folder, err := e.CreateFolder(ctx, alice, root.ID, "reports")
	require.NoError(t, err)
	_, _, err = e.CreateFile(ctx, alice, folder.ID, "q1.txt", []byte("numbers"))
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, alice, folder.ID))

	// A newcomer claims the freed name.
	_, err = e.CreateFolder(ctx, alice, root.ID, "reports")
	require.NoError(t, err)

	err = e.Restore(ctx, alice, folder.ID)
	assertCode(t, err, metadata.ErrNameConflict)

	trash, err := e.ListTrash(ctx, alice)
	require.NoError(t, err)
	require.Len(t, trash, 1, "failed restore must leave the trash entry in place")
	assert.Equal(t, folder.ID, trash[0].ID)
}

// TestPurgeReclaimsEverything empties the trash and checks that metadata,
// quota charges, and blob references are all gone, and that a sweep then
// physically removes the bytes.
func TestPurgeReclaimsEverything(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{BlobGrace: 0})

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	file, v1, err := e.CreateFile(ctx, alice, root.ID, "spill.bin", []byte("ten bytes!"))
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, alice, file.ID))

	// Trashed-but-unpurged content still counts against quota.
	ledger, err := e.Usage(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), ledger.ConsumedBytes)

	purged, err := e.EmptyTrash(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = e.Stat(ctx, alice, file.ID)
	assertCode(t, err, metadata.ErrNotFound)

	ledger, err = e.Usage(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ledger.ConsumedBytes)

	info, err := e.blobs.StatBlob(ctx, v1.Digest)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.RefCount)

	e.RunSweep(ctx)
	_, err = e.blobs.StatBlob(ctx, v1.Digest)
	assert.ErrorIs(t, err, content.ErrBlobMissing)
}

// TestPurgeKeepsSharedBlob makes sure purging one user's copy of
// deduplicated content leaves the other user's copy readable.
func TestPurgeKeepsSharedBlob(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{BlobGrace: 0})

	payload := []byte("common payload")
	aliceRoot, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	bobRoot, err := e.EnsureRoot(ctx, bob)
	require.NoError(t, err)

	aliceFile, _, err := e.CreateFile(ctx, alice, aliceRoot.ID, "copy.bin", payload)
	require.NoError(t, err)
	bobFile, bv, err := e.CreateFile(ctx, bob, bobRoot.ID, "copy.bin", payload)
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, alice, aliceFile.ID))
	require.NoError(t, e.PurgeTrash(ctx, alice, aliceFile.ID))
	e.RunSweep(ctx)

	info, err := e.blobs.StatBlob(ctx, bv.Digest)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.RefCount)

	r, _, err := e.ReadFile(ctx, bob, bobFile.ID)
	require.NoError(t, err)
	assert.Equal(t, string(payload), readAll(t, r))
}
