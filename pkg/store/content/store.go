package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// ============================================================================
// BlobStore Interface
// ============================================================================

// BlobStore is content-addressed storage for immutable byte sequences.
//
// Blobs are keyed by the SHA-256 digest of their content, which makes writes
// idempotent and deduplication automatic: putting bytes that already exist
// increments a reference count instead of storing a second copy. Blob bytes
// are never mutated after the first write.
//
// Separation of Concerns:
//
// The blob store manages only raw bytes and their reference counts. It knows
// nothing about nodes, versions, principals, or permissions; the metadata
// store owns all of that and references content through digests. The blob
// store trusts any digest handed to it.
//
// Reference Counting and Reclamation:
//
// The reference count is the only deletion gate, and physical removal is
// never inline. DecRef that reaches zero merely stamps the blob as
// reclaimable; the actual delete happens in a later Sweep that re-checks the
// count after a grace delay. A momentary zero-count window mid-rewrite
// therefore never loses content: if something re-references the digest
// before the sweep, the stamp is cleared and the blob survives.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type BlobStore interface {
	// PutBlob stores data under its SHA-256 digest.
	//
	// If the digest already exists the bytes are not rewritten; the
	// reference count is incremented and the existing info is returned with
	// deduped == true. Otherwise the blob is persisted with a reference
	// count of 1. A retried put after a cancelled attempt is safe: the
	// digest key makes the write idempotent.
	PutBlob(ctx context.Context, data []byte) (info *BlobInfo, deduped bool, err error)

	// ReadBlob returns a reader for the blob's bytes. The caller must close
	// it.
	//
	// Returns ErrBlobMissing if the digest is unknown. A missing blob that
	// metadata still references signals internal corruption: the reference
	// count invariant was violated somewhere, and callers should raise an
	// integrity alert besides propagating the error.
	ReadBlob(ctx context.Context, digest metadata.ContentDigest) (io.ReadCloser, error)

	// StatBlob returns size and reference count without reading data.
	// ErrBlobMissing if unknown.
	StatBlob(ctx context.Context, digest metadata.ContentDigest) (*BlobInfo, error)

	// IncRef increments the blob's reference count, clearing any pending
	// reclamation stamp. ErrBlobMissing if unknown.
	IncRef(ctx context.Context, digest metadata.ContentDigest) error

	// DecRef decrements the reference count. Reaching zero stamps the blob
	// reclaimable but does not delete it; see Sweep. Decrementing below zero
	// returns an error and leaves the count at zero.
	DecRef(ctx context.Context, digest metadata.ContentDigest) error

	// Sweep physically removes blobs whose reference count has been zero for
	// at least grace, re-checking the count immediately before each delete.
	Sweep(ctx context.Context, grace time.Duration) (*SweepResult, error)

	// Healthcheck verifies the backend can serve requests.
	Healthcheck(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Digest   metadata.ContentDigest
	Size     uint64
	RefCount int64

	// ZeroSince is when the reference count last reached zero; the zero
	// time when the blob is referenced.
	ZeroSince time.Time
}

// SweepResult reports what a reclamation sweep did.
type SweepResult struct {
	// Removed is the number of blobs physically deleted.
	Removed int

	// BytesReclaimed is the total size of removed blobs.
	BytesReclaimed uint64

	// Skipped counts zero-reference blobs left in place because their grace
	// window had not elapsed or their count was re-raised before deletion.
	Skipped int
}

// DigestBytes computes the content digest for a byte slice: lowercase hex
// SHA-256. All BlobStore implementations key blobs with exactly this
// function, which is what makes digests portable across backends.
func DigestBytes(data []byte) metadata.ContentDigest {
	sum := sha256.Sum256(data)
	return metadata.ContentDigest(hex.EncodeToString(sum[:]))
}
