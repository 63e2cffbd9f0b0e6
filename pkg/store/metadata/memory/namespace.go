package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// EnsureRoot returns the principal's root folder, creating it on first use.
func (s *MemoryMetadataStore) EnsureRoot(ctx context.Context, owner metadata.Principal) (*metadata.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.roots[owner]; ok {
		return copyNode(s.nodes[id]), nil
	}

	now := time.Now()
	root := &metadata.Node{
		ID:         uuid.New(),
		ParentID:   uuid.Nil,
		Name:       "",
		Kind:       metadata.KindFolder,
		Owner:      owner,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	s.nodes[root.ID] = root
	s.roots[owner] = root.ID

	return copyNode(root), nil
}

// GetNode retrieves a node by ID, trashed or not.
func (s *MemoryMetadataStore) GetNode(ctx context.Context, id uuid.UUID) (*metadata.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "node not found", Path: id.String()}
	}
	return copyNode(n), nil
}

// CreateNode creates a file or folder under parentID. The uniqueness check
// against non-trashed siblings and the insert happen under the same lock, so
// concurrent creates of the same name cannot both succeed.
func (s *MemoryMetadataStore) CreateNode(ctx context.Context, parentID uuid.UUID, name string, kind metadata.NodeKind, owner metadata.Principal) (*metadata.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := metadata.ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.createNodeLocked(parentID, name, kind, owner)
	if err != nil {
		return nil, err
	}
	return copyNode(node), nil
}

// createNodeLocked is the shared insert path for CreateNode and
// CreateFileWithVersion. Callers must hold the mutex and have validated the
// name.
func (s *MemoryMetadataStore) createNodeLocked(parentID uuid.UUID, name string, kind metadata.NodeKind, owner metadata.Principal) (*metadata.Node, error) {
	parent, ok := s.nodes[parentID]
	if !ok || parent.Trashed {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "parent folder not found", Path: parentID.String()}
	}
	if parent.Kind != metadata.KindFolder {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFolder, Message: "parent is not a folder", Path: parent.Name}
	}
	if clash := s.activeChildByName(parentID, name); clash != nil {
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
	s.nodes[node.ID] = node
	parent.ModifiedAt = now

	return node, nil
}

// CreateFileWithVersion creates a file node and its first version in one
// atomic step.
func (s *MemoryMetadataStore) CreateFileWithVersion(ctx context.Context, parentID uuid.UUID, name string, owner metadata.Principal, digest metadata.ContentDigest, size uint64, creator metadata.Principal) (*metadata.Node, *metadata.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := metadata.ValidateName(name); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, err := s.createNodeLocked(parentID, name, metadata.KindFile, owner)
	if err != nil {
		return nil, nil, err
	}

	version := s.appendVersionLocked(node, digest, size, creator)

	return copyNode(node), copyVersion(version), nil
}

// RenameNode changes a node's name in place.
func (s *MemoryMetadataStore) RenameNode(ctx context.Context, id uuid.UUID, newName string) (*metadata.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := metadata.ValidateName(newName); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "node not found", Path: id.String()}
	}
	if node.IsRoot() {
		return nil, &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "root folders cannot be renamed"}
	}
	if node.Trashed {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "node is trashed", Path: node.Name}
	}
	if node.Name != newName {
		if clash := s.activeChildByName(node.ParentID, newName); clash != nil {
			return nil, &metadata.StoreError{Code: metadata.ErrNameConflict, Message: "a sibling with this name already exists", Path: newName}
		}
	}

	now := time.Now()
	node.Name = newName
	node.ModifiedAt = now
	if parent, ok := s.nodes[node.ParentID]; ok {
		parent.ModifiedAt = now
	}

	return copyNode(node), nil
}

// MoveNode reparents a node, keeping its name. The destination's ancestor
// chain is walked under the same lock that applies the move, so a concurrent
// move cannot sneak a cycle past the check.
func (s *MemoryMetadataStore) MoveNode(ctx context.Context, id, newParentID uuid.UUID) (*metadata.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "node not found", Path: id.String()}
	}
	if node.IsRoot() {
		return nil, &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "root folders cannot be moved"}
	}
	if node.Trashed {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "node is trashed", Path: node.Name}
	}

	dest, ok := s.nodes[newParentID]
	if !ok || dest.Trashed {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "destination folder not found", Path: newParentID.String()}
	}
	if dest.Kind != metadata.KindFolder {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFolder, Message: "destination is not a folder", Path: dest.Name}
	}

	// Walk the destination's ancestor chain up to a root. Hitting the moved
	// node means the destination lives inside it.
	for cur := dest; ; {
		if cur.ID == node.ID {
			return nil, &metadata.StoreError{Code: metadata.ErrCycleDetected, Message: "destination is inside the folder being moved", Path: node.Name}
		}
		if cur.IsRoot() {
			break
		}
		parent, ok := s.nodes[cur.ParentID]
		if !ok {
			return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "broken parent chain", Path: cur.Name}
		}
		cur = parent
	}

	if node.ParentID != newParentID {
		if clash := s.activeChildByName(newParentID, node.Name); clash != nil {
			return nil, &metadata.StoreError{Code: metadata.ErrNameConflict, Message: "a sibling with this name already exists at the destination", Path: node.Name}
		}
	}

	now := time.Now()
	if oldParent, ok := s.nodes[node.ParentID]; ok {
		oldParent.ModifiedAt = now
	}
	node.ParentID = newParentID
	node.ModifiedAt = now
	dest.ModifiedAt = now

	return copyNode(node), nil
}

// ListChildren returns a folder's children sorted by name.
func (s *MemoryMetadataStore) ListChildren(ctx context.Context, parentID uuid.UUID, includeTrashed bool) ([]*metadata.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	parent, ok := s.nodes[parentID]
	if !ok {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "folder not found", Path: parentID.String()}
	}
	if parent.Kind != metadata.KindFolder {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFolder, Message: "not a folder", Path: parent.Name}
	}

	var out []*metadata.Node
	for _, child := range s.childrenOf(parentID) {
		if child.Trashed && !includeTrashed {
			continue
		}
		out = append(out, copyNode(child))
	}
	return out, nil
}

// ResolvePath walks name segments from rootID. Trashed nodes terminate the
// walk as if absent.
func (s *MemoryMetadataStore) ResolvePath(ctx context.Context, rootID uuid.UUID, segments []string) (*metadata.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.nodes[rootID]
	if !ok || cur.Trashed {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "root not found", Path: rootID.String()}
	}

	for _, seg := range segments {
		if cur.Kind != metadata.KindFolder {
			return nil, &metadata.StoreError{Code: metadata.ErrNotFolder, Message: "path segment is not a folder", Path: cur.Name}
		}
		next := s.activeChildByName(cur.ID, seg)
		if next == nil {
			return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "path not found", Path: seg}
		}
		cur = next
	}

	return copyNode(cur), nil
}
