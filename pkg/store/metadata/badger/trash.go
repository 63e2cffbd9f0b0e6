package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// TrashNode soft-deletes a node and its subtree in one transaction. Every
// newly trashed node loses its active-name index entry, which is what frees
// the name for reuse immediately. Descendants trashed by an earlier
// deletion keep their own trash entry and are not re-stamped.
func (s *BadgerMetadataStore) TrashNode(ctx context.Context, id uuid.UUID, at time.Time) (int, error) {
	count := 0
	err := s.update(ctx, func(txn *badger.Txn) error {
		node, err := loadNode(txn, id)
		if err != nil {
			return err
		}
		if node.IsRoot() {
			return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "root folders cannot be trashed"}
		}
		if node.Trashed {
			return &metadata.StoreError{Code: metadata.ErrAlreadyTrashed, Message: "node is already in the trash", Path: node.Name}
		}

		subtree, err := subtreeNodes(txn, id)
		if err != nil {
			return err
		}
		for _, n := range subtree {
			if n.Trashed {
				continue
			}
			n.Trashed = true
			n.TrashedAt = at
			n.TrashRootID = id
			if err := saveNode(txn, n); err != nil {
				return err
			}
			if err := txn.Delete(activeNameKey(n.ParentID, n.Name)); err != nil {
				return err
			}
			count++
		}

		if err := txn.Set(trashRootKey(id), nil); err != nil {
			return err
		}

		parent, err := loadNode(txn, node.ParentID)
		if err != nil {
			return err
		}
		parent.ModifiedAt = time.Now()
		return saveNode(txn, parent)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RestoreNode reverses one trash entry all-or-nothing: flags are cleared and
// active-name index entries re-added for exactly the nodes stamped with this
// trash root. Any name conflict anywhere in the restored set fails the whole
// transaction.
func (s *BadgerMetadataStore) RestoreNode(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		node, err := loadNode(txn, id)
		if err != nil {
			return err
		}
		if !node.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotTrashed, Message: "node is not in the trash", Path: node.Name}
		}
		if node.TrashRootID != node.ID {
			return &metadata.StoreError{Code: metadata.ErrNotTrashed, Message: "node is not a trash entry; restore its deletion root", Path: node.Name}
		}

		parent, err := loadNode(txn, node.ParentID)
		if err != nil || parent.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "original parent no longer exists", Path: node.Name}
		}

		subtree, err := subtreeNodes(txn, id)
		if err != nil {
			return err
		}
		var restoring []*metadata.Node
		inSet := make(map[uuid.UUID]bool)
		for _, n := range subtree {
			if n.TrashRootID == id {
				restoring = append(restoring, n)
				inSet[n.ID] = true
			}
		}

		// Validate every restore target before touching anything.
		for _, n := range restoring {
			clash, err := activeChildID(txn, n.ParentID, n.Name)
			if err != nil {
				return err
			}
			if clash != uuid.Nil && !inSet[clash] {
				return &metadata.StoreError{Code: metadata.ErrNameConflict, Message: "restore would conflict with an existing name", Path: n.Name}
			}
		}

		for _, n := range restoring {
			n.Trashed = false
			n.TrashedAt = time.Time{}
			n.TrashRootID = uuid.Nil
			if err := saveNode(txn, n); err != nil {
				return err
			}
			if err := setUUID(txn, activeNameKey(n.ParentID, n.Name), n.ID); err != nil {
				return err
			}
		}

		if err := txn.Delete(trashRootKey(id)); err != nil {
			return err
		}

		parent.ModifiedAt = time.Now()
		return saveNode(txn, parent)
	})
}

// trashRootsTxn loads every trash entry via the trash root index.
func trashRootsTxn(txn *badger.Txn) ([]*metadata.Node, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixTrashRoot)
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	var out []*metadata.Node
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().Key()
		id, err := uuid.Parse(string(key[len(prefixTrashRoot):]))
		if err != nil {
			return nil, fmt.Errorf("corrupt trash root index key %q: %w", key, err)
		}
		n, err := loadNode(txn, id)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// ListTrashRoots returns the principal's trash entries, most recent first.
func (s *BadgerMetadataStore) ListTrashRoots(ctx context.Context, owner metadata.Principal) ([]*metadata.Node, error) {
	var out []*metadata.Node
	err := s.view(ctx, func(txn *badger.Txn) error {
		roots, err := trashRootsTxn(txn)
		if err != nil {
			return err
		}
		for _, n := range roots {
			if n.Owner == owner {
				out = append(out, n)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrashedAt.After(out[j].TrashedAt) })
	return out, nil
}

// ExpiredTrashRoots returns trash entries older than the cutoff.
func (s *BadgerMetadataStore) ExpiredTrashRoots(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := s.view(ctx, func(txn *badger.Txn) error {
		roots, err := trashRootsTxn(txn)
		if err != nil {
			return err
		}
		for _, n := range roots {
			if n.TrashedAt.Before(before) {
				out = append(out, n.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeNode permanently removes a trashed node's subtree, its versions, and
// every index entry pointing at them, crediting quota ledgers in the same
// transaction. Separately trashed descendants are purged too: they cannot
// exist without their ancestors.
func (s *BadgerMetadataStore) PurgeNode(ctx context.Context, id uuid.UUID) (*metadata.PurgeResult, error) {
	result := &metadata.PurgeResult{BytesFreed: make(map[metadata.Principal]uint64)}
	err := s.update(ctx, func(txn *badger.Txn) error {
		node, err := loadNode(txn, id)
		if err != nil {
			return err
		}
		if !node.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotTrashed, Message: "only trashed nodes can be purged", Path: node.Name}
		}

		subtree, err := subtreeNodes(txn, id)
		if err != nil {
			return err
		}
		for _, n := range subtree {
			result.NodeIDs = append(result.NodeIDs, n.ID)

			versions, err := fileVersionsTxn(txn, n.ID)
			if err != nil {
				return err
			}
			for _, v := range versions {
				if err := txn.Delete(versionKey(v.ID)); err != nil {
					return err
				}
				if err := txn.Delete(versionSeqKey(n.ID, v.Seq)); err != nil {
					return err
				}
				if err := creditLedger(txn, v.Creator, v.Size); err != nil {
					return err
				}
				result.Versions = append(result.Versions, v)
				result.BytesFreed[v.Creator] += v.Size
			}

			if err := txn.Delete(childKey(n.ParentID, n.ID)); err != nil {
				return err
			}
			// The name slot may have been taken by a new sibling after this
			// node was trashed; only delete the entry when it still points
			// at the purged node.
			holder, err := activeChildID(txn, n.ParentID, n.Name)
			if err != nil {
				return err
			}
			if holder == n.ID {
				if err := txn.Delete(activeNameKey(n.ParentID, n.Name)); err != nil {
					return err
				}
			}
			if err := txn.Delete(trashRootKey(n.ID)); err != nil {
				return err
			}
			if err := txn.Delete(nodeKey(n.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
