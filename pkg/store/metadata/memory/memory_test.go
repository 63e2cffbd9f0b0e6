package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
	storetesting "github.com/driftdrive/driftdrive/pkg/store/metadata/testing"
)

func TestMemoryMetadataStore(t *testing.T) {
	suite := &storetesting.MetadataStoreTestSuite{
		NewStore: func(t *testing.T) metadata.MetadataStore {
			return NewMemoryMetadataStore()
		},
	}
	suite.Run(t)
}

// The memory store serializes every operation behind one mutex, so it can be
// hammered concurrently without ErrConflict retries. These tests pin down the
// atomicity the interface promises.

func TestMemoryConcurrentCommits(t *testing.T) {
	store := NewMemoryMetadataStore()
	ctx := context.Background()
	owner := metadata.Principal("alice")

	root, err := store.EnsureRoot(ctx, owner)
	require.NoError(t, err)

	digest := metadata.ContentDigest("0000000000000000000000000000000000000000000000000000000000000000")
	file, _, err := store.CreateFileWithVersion(ctx, root.ID, "contended.txt", owner, digest, 1, owner)
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CommitVersion(ctx, file.ID, digest, 1, owner)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	versions, err := store.ListVersions(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, versions, writers+1)
	for i, v := range versions {
		assert.Equal(t, uint64(i+1), v.Seq, "sequence numbers must be gap-free")
	}
}

func TestMemoryConcurrentReservations(t *testing.T) {
	store := NewMemoryMetadataStore()
	ctx := context.Background()
	owner := metadata.Principal("alice")

	_, err := store.EnsureQuota(ctx, owner, 100)
	require.NoError(t, err)

	res, err := store.Reserve(ctx, owner, 90, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.CommitReservation(ctx, res.ID))

	// Only 10 bytes remain. Two concurrent 8-byte holds must not both win.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Reserve(ctx, owner, 8, time.Now())
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, err := range errs {
		if err == nil {
			granted++
		} else {
			assert.True(t, metadata.IsCode(err, metadata.ErrQuotaExceeded), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, granted, "exactly one of the racing reservations fits")
}
