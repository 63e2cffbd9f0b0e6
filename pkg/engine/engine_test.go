package engine

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/content"
	blobmemory "github.com/driftdrive/driftdrive/pkg/store/content/memory"
	"github.com/driftdrive/driftdrive/pkg/store/metadata"
	metamemory "github.com/driftdrive/driftdrive/pkg/store/metadata/memory"
)

const (
	alice = metadata.Principal("alice")
	bob   = metadata.Principal("bob")
)

func newTestEngine(t *testing.T, policy Policy) *Engine {
	t.Helper()
	e := New(metamemory.NewMemoryMetadataStore(), blobmemory.NewMemoryBlobStore(), policy, nil)
	t.Cleanup(func() {
		require.NoError(t, e.Close())
	})
	return e
}

func readAll(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func assertCode(t *testing.T, err error, code metadata.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.True(t, metadata.IsCode(err, code), "expected %s, got %v", code, err)
}

// TestWriteReadScenario walks the canonical lifecycle: create a folder,
// upload a file, overwrite it, and check versions, refcounts, and quota at
// each step.
func TestWriteReadScenario(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)

	docs, err := e.CreateFolder(ctx, alice, root.ID, "docs")
	require.NoError(t, err)

	file, v1, err := e.CreateFile(ctx, alice, docs.ID, "a.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v1.Seq)
	assert.Equal(t, v1.ID, file.CurrentVersionID)

	d1 := content.DigestBytes([]byte("hello"))
	info, err := e.blobs.StatBlob(ctx, d1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.RefCount)

	ledger, err := e.Usage(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), ledger.ConsumedBytes)

	v2, err := e.UpdateFile(ctx, alice, file.ID, []byte("hello!"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2.Seq)

	current, err := e.Stat(ctx, alice, file.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, current.CurrentVersionID)

	// Version 1 is retained in history, so its blob stays referenced and
	// its bytes stay charged.
	info, err = e.blobs.StatBlob(ctx, d1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.RefCount)

	ledger, err = e.Usage(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), ledger.ConsumedBytes)

	r, got, err := e.ReadFile(ctx, alice, file.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, got.ID)
	assert.Equal(t, "hello!", readAll(t, r))

	r, _, err = e.ReadFileVersion(ctx, alice, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", readAll(t, r))

	resolved, err := e.ResolvePath(ctx, alice, []string{"docs", "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, file.ID, resolved.ID)
}

func TestOwnershipEnforced(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	file, _, err := e.CreateFile(ctx, alice, root.ID, "private.txt", []byte("mine"))
	require.NoError(t, err)

	_, _, err = e.ReadFile(ctx, bob, file.ID)
	assertCode(t, err, metadata.ErrPermissionDenied)

	_, err = e.UpdateFile(ctx, bob, file.ID, []byte("stolen"))
	assertCode(t, err, metadata.ErrPermissionDenied)

	_, _, err = e.CreateFile(ctx, bob, root.ID, "intruder.txt", []byte("x"))
	assertCode(t, err, metadata.ErrPermissionDenied)

	err = e.Delete(ctx, bob, file.ID)
	assertCode(t, err, metadata.ErrPermissionDenied)
}

// TestDedupAcrossPrincipals checks that identical content from two users is
// stored once but charged to each of them in full.
func TestDedupAcrossPrincipals(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})

	payload := []byte("shared bytes")
	aliceRoot, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	bobRoot, err := e.EnsureRoot(ctx, bob)
	require.NoError(t, err)

	_, av, err := e.CreateFile(ctx, alice, aliceRoot.ID, "a.bin", payload)
	require.NoError(t, err)
	_, bv, err := e.CreateFile(ctx, bob, bobRoot.ID, "b.bin", payload)
	require.NoError(t, err)
	assert.Equal(t, av.Digest, bv.Digest)

	info, err := e.blobs.StatBlob(ctx, av.Digest)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.RefCount)

	for _, p := range []metadata.Principal{alice, bob} {
		ledger, err := e.Usage(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, uint64(len(payload)), ledger.ConsumedBytes, "principal %s", p)
	}
}

// TestConcurrentUpdates has several writers race on one file: all commits
// must survive with distinct gap-free sequence numbers.
func TestConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	file, _, err := e.CreateFile(ctx, alice, root.ID, "hot.txt", []byte("v0"))
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.UpdateFile(ctx, alice, file.ID, []byte{byte(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	versions, err := e.ListVersions(ctx, alice, file.ID)
	require.NoError(t, err)
	require.Len(t, versions, writers+1)
	for i, v := range versions {
		assert.Equal(t, uint64(i+1), v.Seq)
	}

	node, err := e.Stat(ctx, alice, file.ID)
	require.NoError(t, err)
	assert.Equal(t, versions[len(versions)-1].ID, node.CurrentVersionID)
}

// TestConcurrentWritesRespectQuota replays the admission race: limit 100
// with 90 consumed, then two concurrent 8-byte writes. Exactly one fits.
func TestConcurrentWritesRespectQuota(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{DefaultQuotaBytes: 100})

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	_, _, err = e.CreateFile(ctx, alice, root.ID, "bulk.bin", make([]byte, 90))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a'+i)) + ".bin"
			_, _, errs[i] = e.CreateFile(ctx, alice, root.ID, name, make([]byte, 8))
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
	assert.Equal(t, 1, granted)

	ledger, err := e.Usage(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(98), ledger.ConsumedBytes)
}

// TestQuotaRejectionLeavesNoTrace checks the rollback choreography: a write
// refused by quota must leave no node, no version, and no blob reference.
func TestQuotaRejectionLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{DefaultQuotaBytes: 4})

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)

	_, _, err = e.CreateFile(ctx, alice, root.ID, "big.txt", []byte("too large"))
	assertCode(t, err, metadata.ErrQuotaExceeded)

	children, err := e.ListChildren(ctx, alice, root.ID)
	require.NoError(t, err)
	assert.Empty(t, children)

	_, err = e.blobs.StatBlob(ctx, content.DigestBytes([]byte("too large")))
	assert.ErrorIs(t, err, content.ErrBlobMissing)

	ledger, err := e.Usage(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ledger.ConsumedBytes)
}

func TestRestoreVersion(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	file, v1, err := e.CreateFile(ctx, alice, root.ID, "doc.txt", []byte("draft"))
	require.NoError(t, err)
	_, err = e.UpdateFile(ctx, alice, file.ID, []byte("final"))
	require.NoError(t, err)

	restored, err := e.RestoreVersion(ctx, alice, file.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), restored.Seq, "restore appends, never rewinds")
	assert.Equal(t, v1.Digest, restored.Digest)

	r, _, err := e.ReadFile(ctx, alice, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", readAll(t, r))

	// Two versions now reference the draft blob.
	info, err := e.blobs.StatBlob(ctx, v1.Digest)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.RefCount)
}

func TestEventsAreAdvisory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})

	events, cancel := e.Subscribe(8)
	defer cancel()

	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	folder, err := e.CreateFolder(ctx, alice, root.ID, "watched")
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, folder.ID, ev.NodeID)
	assert.Equal(t, ChangeCreated, ev.Kind)

	_, err = e.Rename(ctx, alice, folder.ID, "renamed")
	require.NoError(t, err)
	ev = <-events
	assert.Equal(t, ChangeRenamed, ev.Kind)
}
