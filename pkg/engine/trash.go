package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/internal/logger"
	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// Delete soft-deletes a node and its whole subtree. The subtree stays
// recoverable through Restore until the trash retention window expires or
// the trash is emptied.
func (e *Engine) Delete(ctx context.Context, p metadata.Principal, id uuid.UUID) (err error) {
	defer e.instrument("Delete", time.Now(), &err)

	if _, err := e.ownedNode(ctx, p, id); err != nil {
		return err
	}
	if _, err := e.meta.TrashNode(ctx, id, time.Now()); err != nil {
		return err
	}
	e.notify(id, ChangeTrashed)
	return nil
}

// Restore reverses one deletion, bringing back the trash root and every
// node trashed with it. All-or-nothing: a name clash or missing parent
// fails the whole restore and leaves the subtree trashed.
func (e *Engine) Restore(ctx context.Context, p metadata.Principal, id uuid.UUID) (err error) {
	defer e.instrument("Restore", time.Now(), &err)

	if _, err := e.ownedNode(ctx, p, id); err != nil {
		return err
	}
	if err := e.meta.RestoreNode(ctx, id); err != nil {
		return err
	}
	e.notify(id, ChangeRestored)
	return nil
}

// ListTrash returns the principal's restorable deletions, most recent
// first.
func (e *Engine) ListTrash(ctx context.Context, p metadata.Principal) (roots []*metadata.Node, err error) {
	defer e.instrument("ListTrash", time.Now(), &err)
	return e.meta.ListTrashRoots(ctx, p)
}

// PurgeTrash permanently removes one trashed entry and its subtree,
// reclaiming quota and releasing blob references. Terminal.
func (e *Engine) PurgeTrash(ctx context.Context, p metadata.Principal, id uuid.UUID) (err error) {
	defer e.instrument("PurgeTrash", time.Now(), &err)

	if _, err := e.ownedNode(ctx, p, id); err != nil {
		return err
	}
	_, err = e.purgeAndReclaim(ctx, id)
	return err
}

// EmptyTrash purges every trash entry of the principal.
func (e *Engine) EmptyTrash(ctx context.Context, p metadata.Principal) (purged int, err error) {
	defer e.instrument("EmptyTrash", time.Now(), &err)

	roots, err := e.meta.ListTrashRoots(ctx, p)
	if err != nil {
		return 0, err
	}
	for _, root := range roots {
		if _, err := e.purgeAndReclaim(ctx, root.ID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// purgeAndReclaim removes the metadata subtree, then drops one blob
// reference per removed version. Failed decrements are logged and skipped:
// the purge itself has already committed, and an over-counted reference
// only delays reclamation, never corrupts data.
func (e *Engine) purgeAndReclaim(ctx context.Context, id uuid.UUID) (*metadata.PurgeResult, error) {
	result, err := e.meta.PurgeNode(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, v := range result.Versions {
		if err := e.blobs.DecRef(ctx, v.Digest); err != nil {
			logger.Warn("Failed to release blob reference %s for purged version %s: %v", v.Digest, v.ID, err)
		}
	}
	e.notify(id, ChangePurged)
	return result, nil
}
