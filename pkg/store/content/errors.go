package content

import "errors"

// Sentinel errors shared by all blob store implementations. Backends wrap
// them with context:
//
//	return fmt.Errorf("blob %s: %w", digest, content.ErrBlobMissing)
//
// so callers can branch with errors.Is while logs keep the detail.
var (
	// ErrBlobMissing indicates the digest is unknown to the store. When the
	// metadata layer still holds a version referencing that digest this is a
	// data-integrity fault, not a caller mistake: a version must never
	// outlive its blob.
	ErrBlobMissing = errors.New("blob not found")

	// ErrInvalidDigest indicates the digest string is not 64 lowercase hex
	// characters.
	ErrInvalidDigest = errors.New("invalid content digest")

	// ErrNegativeRefCount indicates a DecRef was attempted on a blob whose
	// reference count is already zero. The count is left at zero; the
	// mismatch means refcount bookkeeping diverged somewhere upstream.
	ErrNegativeRefCount = errors.New("blob reference count already zero")
)
