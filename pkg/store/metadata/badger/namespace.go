package badger

import (
	"context"
	"errors"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// EnsureRoot returns the principal's root folder, creating it on first use.
func (s *BadgerMetadataStore) EnsureRoot(ctx context.Context, owner metadata.Principal) (*metadata.Node, error) {
	var root *metadata.Node
	err := s.update(ctx, func(txn *badger.Txn) error {
		id, err := getUUID(txn, rootKey(owner))
		if err == nil {
			root, err = loadNode(txn, id)
			return err
		}
		if !errors.Is(err, errKeyNotFound) {
			return err
		}

		now := time.Now()
		root = &metadata.Node{
			ID:         uuid.New(),
			ParentID:   uuid.Nil,
			Name:       "",
			Kind:       metadata.KindFolder,
			Owner:      owner,
			CreatedAt:  now,
			ModifiedAt: now,
		}
		if err := saveNode(txn, root); err != nil {
			return err
		}
		return setUUID(txn, rootKey(owner), root.ID)
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

// GetNode retrieves a node by ID, trashed or not.
func (s *BadgerMetadataStore) GetNode(ctx context.Context, id uuid.UUID) (*metadata.Node, error) {
	var node *metadata.Node
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		node, err = loadNode(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// createNodeTxn is the shared insert path for CreateNode and
// CreateFileWithVersion. The active-name index lookup doubles as the
// sibling-uniqueness check; BadgerDB's conflict detection turns a racing
// insert of the same name into ErrConflict for one of the two writers.
func createNodeTxn(txn *badger.Txn, parentID uuid.UUID, name string, kind metadata.NodeKind, owner metadata.Principal) (*metadata.Node, error) {
	parent, err := loadNode(txn, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Trashed {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "parent folder not found", Path: parentID.String()}
	}
	if parent.Kind != metadata.KindFolder {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFolder, Message: "parent is not a folder", Path: parent.Name}
	}
	clash, err := activeChildID(txn, parentID, name)
	if err != nil {
		return nil, err
	}
	if clash != uuid.Nil {
		return nil, &metadata.StoreError{Code: metadata.ErrNameConflict, Message: "a sibling with this name already exists", Path: name}
	}

	now := time.Now()
	node := &metadata.Node{
		ID:         uuid.New(),
		ParentID:   parentID,
		Name:       name,
		Kind:       kind,
		Owner:      owner,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := saveNode(txn, node); err != nil {
		return nil, err
	}
	if err := txn.Set(childKey(parentID, node.ID), nil); err != nil {
		return nil, err
	}
	if err := setUUID(txn, activeNameKey(parentID, name), node.ID); err != nil {
		return nil, err
	}
	parent.ModifiedAt = now
	if err := saveNode(txn, parent); err != nil {
		return nil, err
	}

	return node, nil
}

// CreateNode creates a file or folder under parentID.
func (s *BadgerMetadataStore) CreateNode(ctx context.Context, parentID uuid.UUID, name string, kind metadata.NodeKind, owner metadata.Principal) (*metadata.Node, error) {
	if err := metadata.ValidateName(name); err != nil {
		return nil, err
	}

	var node *metadata.Node
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		node, err = createNodeTxn(txn, parentID, name, kind, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// CreateFileWithVersion creates a file node and its first version in one
// transaction.
func (s *BadgerMetadataStore) CreateFileWithVersion(ctx context.Context, parentID uuid.UUID, name string, owner metadata.Principal, digest metadata.ContentDigest, size uint64, creator metadata.Principal) (*metadata.Node, *metadata.Version, error) {
	if err := metadata.ValidateName(name); err != nil {
		return nil, nil, err
	}

	var (
		node    *metadata.Node
		version *metadata.Version
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		node, err = createNodeTxn(txn, parentID, name, metadata.KindFile, owner)
		if err != nil {
			return err
		}
		version, err = appendVersionTxn(txn, node, digest, size, creator)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return node, version, nil
}

// RenameNode changes a node's name in place, re-keying its active-name
// index entry in the same transaction.
func (s *BadgerMetadataStore) RenameNode(ctx context.Context, id uuid.UUID, newName string) (*metadata.Node, error) {
	if err := metadata.ValidateName(newName); err != nil {
		return nil, err
	}

	var node *metadata.Node
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		node, err = loadNode(txn, id)
		if err != nil {
			return err
		}
		if node.IsRoot() {
			return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "root folders cannot be renamed"}
		}
		if node.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "node is trashed", Path: node.Name}
		}
		if node.Name == newName {
			return nil
		}
		clash, err := activeChildID(txn, node.ParentID, newName)
		if err != nil {
			return err
		}
		if clash != uuid.Nil {
			return &metadata.StoreError{Code: metadata.ErrNameConflict, Message: "a sibling with this name already exists", Path: newName}
		}

		if err := txn.Delete(activeNameKey(node.ParentID, node.Name)); err != nil {
			return err
		}
		if err := setUUID(txn, activeNameKey(node.ParentID, newName), node.ID); err != nil {
			return err
		}

		now := time.Now()
		node.Name = newName
		node.ModifiedAt = now
		if err := saveNode(txn, node); err != nil {
			return err
		}

		parent, err := loadNode(txn, node.ParentID)
		if err != nil {
			return err
		}
		parent.ModifiedAt = now
		return saveNode(txn, parent)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// MoveNode reparents a node, keeping its name. The cycle check walks the
// destination's ancestor chain inside the transaction; a concurrent move
// that would complete a cycle conflicts on the nodes both walks touched.
func (s *BadgerMetadataStore) MoveNode(ctx context.Context, id, newParentID uuid.UUID) (*metadata.Node, error) {
	var node *metadata.Node
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		node, err = loadNode(txn, id)
		if err != nil {
			return err
		}
		if node.IsRoot() {
			return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "root folders cannot be moved"}
		}
		if node.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "node is trashed", Path: node.Name}
		}

		dest, err := loadNode(txn, newParentID)
		if err != nil {
			return err
		}
		if dest.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "destination folder not found", Path: newParentID.String()}
		}
		if dest.Kind != metadata.KindFolder {
			return &metadata.StoreError{Code: metadata.ErrNotFolder, Message: "destination is not a folder", Path: dest.Name}
		}

		for cur := dest; ; {
			if cur.ID == node.ID {
				return &metadata.StoreError{Code: metadata.ErrCycleDetected, Message: "destination is inside the folder being moved", Path: node.Name}
			}
			if cur.IsRoot() {
				break
			}
			cur, err = loadNode(txn, cur.ParentID)
			if err != nil {
				return err
			}
		}

		if node.ParentID == newParentID {
			return nil
		}

		clash, err := activeChildID(txn, newParentID, node.Name)
		if err != nil {
			return err
		}
		if clash != uuid.Nil {
			return &metadata.StoreError{Code: metadata.ErrNameConflict, Message: "a sibling with this name already exists at the destination", Path: node.Name}
		}

		oldParent, err := loadNode(txn, node.ParentID)
		if err != nil {
			return err
		}

		if err := txn.Delete(childKey(node.ParentID, node.ID)); err != nil {
			return err
		}
		if err := txn.Delete(activeNameKey(node.ParentID, node.Name)); err != nil {
			return err
		}
		if err := txn.Set(childKey(newParentID, node.ID), nil); err != nil {
			return err
		}
		if err := setUUID(txn, activeNameKey(newParentID, node.Name), node.ID); err != nil {
			return err
		}

		now := time.Now()
		node.ParentID = newParentID
		node.ModifiedAt = now
		if err := saveNode(txn, node); err != nil {
			return err
		}
		oldParent.ModifiedAt = now
		if err := saveNode(txn, oldParent); err != nil {
			return err
		}
		dest.ModifiedAt = now
		return saveNode(txn, dest)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// ListChildren returns a folder's children sorted by name.
func (s *BadgerMetadataStore) ListChildren(ctx context.Context, parentID uuid.UUID, includeTrashed bool) ([]*metadata.Node, error) {
	var out []*metadata.Node
	err := s.view(ctx, func(txn *badger.Txn) error {
		parent, err := loadNode(txn, parentID)
		if err != nil {
			return err
		}
		if parent.Kind != metadata.KindFolder {
			return &metadata.StoreError{Code: metadata.ErrNotFolder, Message: "not a folder", Path: parent.Name}
		}

		ids, err := childIDs(txn, parentID)
		if err != nil {
			return err
		}
		for _, childID := range ids {
			child, err := loadNode(txn, childID)
			if err != nil {
				return err
			}
			if child.Trashed && !includeTrashed {
				continue
			}
			out = append(out, child)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ResolvePath walks name segments from rootID via the active-name index.
func (s *BadgerMetadataStore) ResolvePath(ctx context.Context, rootID uuid.UUID, segments []string) (*metadata.Node, error) {
	var node *metadata.Node
	err := s.view(ctx, func(txn *badger.Txn) error {
		cur, err := loadNode(txn, rootID)
		if err != nil {
			return err
		}
		if cur.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "root not found", Path: rootID.String()}
		}

		for _, seg := range segments {
			if cur.Kind != metadata.KindFolder {
				return &metadata.StoreError{Code: metadata.ErrNotFolder, Message: "path segment is not a folder", Path: cur.Name}
			}
			nextID, err := activeChildID(txn, cur.ID, seg)
			if err != nil {
				return err
			}
			if nextID == uuid.Nil {
				return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "path not found", Path: seg}
			}
			cur, err = loadNode(txn, nextID)
			if err != nil {
				return err
			}
		}

		node = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}
