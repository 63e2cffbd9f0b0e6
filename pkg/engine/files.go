package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/internal/logger"
	"github.com/driftdrive/driftdrive/pkg/store/content"
	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// CreateFile creates a file under parentID with its first content version.
func (e *Engine) CreateFile(ctx context.Context, p metadata.Principal, parentID uuid.UUID, name string, data []byte) (node *metadata.Node, version *metadata.Version, err error) {
	defer e.instrument("CreateFile", time.Now(), &err)

	if _, err := e.ownedNode(ctx, p, parentID); err != nil {
		return nil, nil, err
	}

	version, err = e.writeContent(ctx, p, data, func(ctx context.Context, digest metadata.ContentDigest, size uint64) (*metadata.Version, error) {
		var verr error
		node, version, verr = e.meta.CreateFileWithVersion(ctx, parentID, name, p, digest, size, p)
		return version, verr
	})
	if err != nil {
		return nil, nil, err
	}

	e.notify(node.ID, ChangeCreated)
	return node, version, nil
}

// UpdateFile appends a new content version to an existing file the
// principal owns. Concurrent updates both succeed with distinct sequence
// numbers; the last committed one wins the current pointer.
func (e *Engine) UpdateFile(ctx context.Context, p metadata.Principal, fileID uuid.UUID, data []byte) (version *metadata.Version, err error) {
	defer e.instrument("UpdateFile", time.Now(), &err)

	if _, err := e.ownedNode(ctx, p, fileID); err != nil {
		return nil, err
	}

	version, err = e.commitContent(ctx, p, fileID, data)
	if err != nil {
		return nil, err
	}

	e.notify(fileID, ChangeContent)
	return version, nil
}

// ReadFile returns a reader over the file's current content together with
// the version it belongs to. The caller must close the reader.
func (e *Engine) ReadFile(ctx context.Context, p metadata.Principal, fileID uuid.UUID) (r io.ReadCloser, version *metadata.Version, err error) {
	defer e.instrument("ReadFile", time.Now(), &err)

	node, err := e.ownedNode(ctx, p, fileID)
	if err != nil {
		return nil, nil, err
	}
	return e.readCurrent(ctx, node)
}

// ReadFileVersion returns a reader over one historical version of a file
// the principal owns.
func (e *Engine) ReadFileVersion(ctx context.Context, p metadata.Principal, versionID uuid.UUID) (r io.ReadCloser, version *metadata.Version, err error) {
	defer e.instrument("ReadFileVersion", time.Now(), &err)

	version, err = e.meta.GetVersion(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	node, err := e.ownedNode(ctx, p, version.FileID)
	if err != nil {
		return nil, nil, err
	}
	if node.Trashed {
		return nil, nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "file is trashed"}
	}

	r, err = e.openBlob(ctx, version.Digest)
	if err != nil {
		return nil, nil, err
	}
	return r, version, nil
}

// ListVersions returns the retained history of a file the principal owns,
// oldest first.
func (e *Engine) ListVersions(ctx context.Context, p metadata.Principal, fileID uuid.UUID) (versions []*metadata.Version, err error) {
	defer e.instrument("ListVersions", time.Now(), &err)

	node, err := e.ownedNode(ctx, p, fileID)
	if err != nil {
		return nil, err
	}
	if node.Trashed {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "file is trashed"}
	}
	return e.meta.ListVersions(ctx, fileID)
}

// RestoreVersion makes an old revision current again by committing a new
// version that reuses its content. History stays append-only: the restored
// content gets the next sequence number instead of moving the pointer
// backwards, so the audit trail records the restore itself.
func (e *Engine) RestoreVersion(ctx context.Context, p metadata.Principal, fileID, versionID uuid.UUID) (version *metadata.Version, err error) {
	defer e.instrument("RestoreVersion", time.Now(), &err)

	if _, err := e.ownedNode(ctx, p, fileID); err != nil {
		return nil, err
	}
	old, err := e.meta.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if old.FileID != fileID {
		return nil, &metadata.StoreError{
			Code:    metadata.ErrInvalidArgument,
			Message: "version belongs to a different file",
		}
	}

	res, err := e.reserve(ctx, p, old.Size)
	if err != nil {
		return nil, err
	}
	if err := e.blobs.IncRef(ctx, old.Digest); err != nil {
		e.release(ctx, res.ID)
		return nil, err
	}

	version, err = e.meta.CommitVersion(ctx, fileID, old.Digest, old.Size, p)
	if err != nil {
		e.rollbackContent(ctx, res.ID, old.Digest)
		return nil, err
	}
	e.settleReservation(ctx, res.ID)

	e.notify(fileID, ChangeContent)
	return version, nil
}

// commitContent runs the write choreography against an existing file.
func (e *Engine) commitContent(ctx context.Context, creator metadata.Principal, fileID uuid.UUID, data []byte) (*metadata.Version, error) {
	return e.writeContent(ctx, creator, data, func(ctx context.Context, digest metadata.ContentDigest, size uint64) (*metadata.Version, error) {
		return e.meta.CommitVersion(ctx, fileID, digest, size, creator)
	})
}

// writeContent is the shared choreography for every content write:
//
//	reserve quota -> put blob -> commit metadata -> settle reservation
//
// Any failure after the reservation releases it; any failure after the blob
// write also drops the reference the put added. Blob writes are idempotent
// by digest, so a retry after rollback is safe.
func (e *Engine) writeContent(ctx context.Context, creator metadata.Principal, data []byte, commit func(context.Context, metadata.ContentDigest, uint64) (*metadata.Version, error)) (*metadata.Version, error) {
	size := uint64(len(data))

	res, err := e.reserve(ctx, creator, size)
	if err != nil {
		return nil, err
	}

	info, deduped, err := e.blobs.PutBlob(ctx, data)
	if err != nil {
		e.release(ctx, res.ID)
		return nil, err
	}
	if deduped {
		e.metrics.RecordDedupHit(size)
	}

	version, err := commit(ctx, info.Digest, size)
	if err != nil {
		e.rollbackContent(ctx, res.ID, info.Digest)
		return nil, err
	}

	e.settleReservation(ctx, res.ID)
	return version, nil
}

func (e *Engine) reserve(ctx context.Context, p metadata.Principal, size uint64) (*metadata.Reservation, error) {
	if _, err := e.meta.EnsureQuota(ctx, p, e.policy.DefaultQuotaBytes); err != nil {
		return nil, err
	}
	res, err := e.meta.Reserve(ctx, p, size, time.Now())
	if err != nil {
		if metadata.IsCode(err, metadata.ErrQuotaExceeded) {
			e.metrics.RecordQuotaRejection()
		}
		return nil, err
	}
	return res, nil
}

func (e *Engine) release(ctx context.Context, id uuid.UUID) {
	if err := e.meta.ReleaseReservation(ctx, id); err != nil {
		logger.Warn("Failed to release quota reservation %s: %v", id, err)
	}
}

func (e *Engine) rollbackContent(ctx context.Context, resID uuid.UUID, digest metadata.ContentDigest) {
	if err := e.blobs.DecRef(ctx, digest); err != nil {
		logger.Warn("Failed to roll back blob reference %s: %v", digest, err)
	}
	e.release(ctx, resID)
}

// settleReservation converts the reservation into consumption. A failure
// here leaves the version committed but the ledger uncharged until the
// reservation expires; it is logged loudly because it means the metadata
// store broke between two calls.
func (e *Engine) settleReservation(ctx context.Context, id uuid.UUID) {
	if err := e.meta.CommitReservation(ctx, id); err != nil {
		logger.Error("Failed to commit quota reservation %s: %v", id, err)
	}
}

// readCurrent opens the blob behind a file node's current version.
func (e *Engine) readCurrent(ctx context.Context, node *metadata.Node) (io.ReadCloser, *metadata.Version, error) {
	if node.Kind != metadata.KindFile {
		return nil, nil, &metadata.StoreError{
			Code:    metadata.ErrNotFile,
			Message: "cannot read content of a folder",
		}
	}
	if node.Trashed {
		return nil, nil, &metadata.StoreError{
			Code:    metadata.ErrNotFound,
			Message: "file is trashed",
		}
	}

	version, err := e.meta.GetVersion(ctx, node.CurrentVersionID)
	if err != nil {
		return nil, nil, err
	}
	r, err := e.openBlob(ctx, version.Digest)
	if err != nil {
		return nil, nil, err
	}
	return r, version, nil
}

// openBlob reads a blob, treating a miss as a data integrity fault: a
// version referenced it, so the reference count invariant was violated
// somewhere.
func (e *Engine) openBlob(ctx context.Context, digest metadata.ContentDigest) (io.ReadCloser, error) {
	r, err := e.blobs.ReadBlob(ctx, digest)
	if err != nil {
		if errors.Is(err, content.ErrBlobMissing) {
			e.metrics.RecordIntegrityError()
			logger.Error("Integrity violation: blob %s referenced by metadata is missing", digest)
		}
		return nil, err
	}
	return r, nil
}
