package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// TestSweepPrunesVersionHistory keeps the newest two versions per policy
// and credits the freed bytes back to the owner.
func TestSweepPrunesVersionHistory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{VersionMaxCount: 2, BlobGrace: time.Hour})

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	file, _, err := e.CreateFile(ctx, alice, root.ID, "log.txt", []byte("a"))
	require.NoError(t, err)
	for _, body := range []string{"bb", "ccc", "dddd"} {
		_, err = e.UpdateFile(ctx, alice, file.ID, []byte(body))
		require.NoError(t, err)
	}

	ledger, err := e.Usage(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(10), ledger.ConsumedBytes)

	e.RunSweep(ctx)

	versions, err := e.ListVersions(ctx, alice, file.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, uint64(3), versions[0].Seq)
	assert.Equal(t, uint64(4), versions[1].Seq, "survivors keep their sequence numbers")

	ledger, err = e.Usage(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ledger.ConsumedBytes)

	// The next write continues the sequence instead of reusing pruned
	// numbers.
	v5, err := e.UpdateFile(ctx, alice, file.ID, []byte("eeeee"))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v5.Seq)
}

// TestSweepPurgesExpiredTrash drives retention end to end: a deletion older
// than the window disappears on sweep, a fresh one stays restorable.
func TestSweepPurgesExpiredTrash(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{TrashRetention: 24 * time.Hour, BlobGrace: time.Hour})

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	oldFile, _, err := e.CreateFile(ctx, alice, root.ID, "old.txt", []byte("stale"))
	require.NoError(t, err)
	freshFile, _, err := e.CreateFile(ctx, alice, root.ID, "fresh.txt", []byte("recent"))
	require.NoError(t, err)

	// Backdate the first deletion past the retention window.
	_, err = e.meta.TrashNode(ctx, oldFile.ID, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	require.NoError(t, e.Delete(ctx, alice, freshFile.ID))

	e.RunSweep(ctx)

	trash, err := e.ListTrash(ctx, alice)
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, freshFile.ID, trash[0].ID)

	require.NoError(t, e.Restore(ctx, alice, freshFile.ID))
}

func TestSweepReleasesAbandonedReservations(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{DefaultQuotaBytes: 100, ReservationExpiry: time.Hour})

	_, err := e.Usage(ctx, alice)
	require.NoError(t, err)

	// Simulate a crash between Reserve and Commit.
	_, err = e.meta.Reserve(ctx, alice, 100, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	_, _, err = e.CreateFile(ctx, alice, root.ID, "blocked.txt", []byte("x"))
	assertCode(t, err, metadata.ErrQuotaExceeded)

	e.RunSweep(ctx)

	_, _, err = e.CreateFile(ctx, alice, root.ID, "unblocked.txt", []byte("x"))
	require.NoError(t, err)
}
