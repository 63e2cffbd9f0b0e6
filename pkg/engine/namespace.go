package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// EnsureRoot returns the principal's root folder, creating it and the
// principal's quota ledger on first use.
func (e *Engine) EnsureRoot(ctx context.Context, p metadata.Principal) (node *metadata.Node, err error) {
	defer e.instrument("EnsureRoot", time.Now(), &err)

	node, err = e.meta.EnsureRoot(ctx, p)
	if err != nil {
		return nil, err
	}
	if _, err := e.meta.EnsureQuota(ctx, p, e.policy.DefaultQuotaBytes); err != nil {
		return nil, err
	}
	return node, nil
}

// Stat returns a node the principal owns, trashed or not.
func (e *Engine) Stat(ctx context.Context, p metadata.Principal, id uuid.UUID) (node *metadata.Node, err error) {
	defer e.instrument("Stat", time.Now(), &err)
	return e.ownedNode(ctx, p, id)
}

// CreateFolder creates an empty folder under parentID.
func (e *Engine) CreateFolder(ctx context.Context, p metadata.Principal, parentID uuid.UUID, name string) (node *metadata.Node, err error) {
	defer e.instrument("CreateFolder", time.Now(), &err)

	if _, err := e.ownedNode(ctx, p, parentID); err != nil {
		return nil, err
	}
	node, err = e.meta.CreateNode(ctx, parentID, name, metadata.KindFolder, p)
	if err != nil {
		return nil, err
	}
	e.notify(node.ID, ChangeCreated)
	return node, nil
}

// Rename changes a node's name in place.
func (e *Engine) Rename(ctx context.Context, p metadata.Principal, id uuid.UUID, newName string) (node *metadata.Node, err error) {
	defer e.instrument("Rename", time.Now(), &err)

	if _, err := e.ownedNode(ctx, p, id); err != nil {
		return nil, err
	}
	node, err = e.meta.RenameNode(ctx, id, newName)
	if err != nil {
		return nil, err
	}
	e.notify(id, ChangeRenamed)
	return node, nil
}

// Move reparents a node under newParentID, keeping its name. Both the node
// and the destination must belong to the principal.
func (e *Engine) Move(ctx context.Context, p metadata.Principal, id, newParentID uuid.UUID) (node *metadata.Node, err error) {
	defer e.instrument("Move", time.Now(), &err)

	if _, err := e.ownedNode(ctx, p, id); err != nil {
		return nil, err
	}
	if _, err := e.ownedNode(ctx, p, newParentID); err != nil {
		return nil, err
	}
	node, err = e.meta.MoveNode(ctx, id, newParentID)
	if err != nil {
		return nil, err
	}
	e.notify(id, ChangeMoved)
	return node, nil
}

// ListChildren returns a folder's non-trashed children sorted by name.
func (e *Engine) ListChildren(ctx context.Context, p metadata.Principal, parentID uuid.UUID) (children []*metadata.Node, err error) {
	defer e.instrument("ListChildren", time.Now(), &err)

	if _, err := e.ownedNode(ctx, p, parentID); err != nil {
		return nil, err
	}
	return e.meta.ListChildren(ctx, parentID, false)
}

// ResolvePath walks name segments from the principal's root. An empty
// segment list resolves to the root itself.
func (e *Engine) ResolvePath(ctx context.Context, p metadata.Principal, segments []string) (node *metadata.Node, err error) {
	defer e.instrument("ResolvePath", time.Now(), &err)

	root, err := e.meta.EnsureRoot(ctx, p)
	if err != nil {
		return nil, err
	}
	return e.meta.ResolvePath(ctx, root.ID, segments)
}

// ownedNode loads a node and checks the principal owns it. Ownership is the
// engine's only built-in access rule; finer-grained sharing goes through
// share tokens.
func (e *Engine) ownedNode(ctx context.Context, p metadata.Principal, id uuid.UUID) (*metadata.Node, error) {
	node, err := e.meta.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if node.Owner != p {
		return nil, &metadata.StoreError{
			Code:    metadata.ErrPermissionDenied,
			Message: "node belongs to another principal",
		}
	}
	return node, nil
}
