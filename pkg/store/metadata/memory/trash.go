package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// TrashNode soft-deletes a node and its subtree atomically. Descendants that
// were already trashed by an earlier deletion keep their own trash entry and
// are not re-stamped.
func (s *MemoryMetadataStore) TrashNode(ctx context.Context, id uuid.UUID, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return 0, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "node not found", Path: id.String()}
	}
	if node.IsRoot() {
		return 0, &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "root folders cannot be trashed"}
	}
	if node.Trashed {
		return 0, &metadata.StoreError{Code: metadata.ErrAlreadyTrashed, Message: "node is already in the trash", Path: node.Name}
	}

	count := 0
	for _, n := range s.subtreeOf(id) {
		if n.Trashed {
			continue
		}
		n.Trashed = true
		n.TrashedAt = at
		n.TrashRootID = id
		count++
	}

	if parent, ok := s.nodes[node.ParentID]; ok {
		parent.ModifiedAt = time.Now()
	}

	return count, nil
}

// RestoreNode reverses one trash entry all-or-nothing. Any name conflict
// anywhere in the restored set fails the whole restore with nothing changed.
func (s *MemoryMetadataStore) RestoreNode(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "node not found", Path: id.String()}
	}
	if !node.Trashed {
		return &metadata.StoreError{Code: metadata.ErrNotTrashed, Message: "node is not in the trash", Path: node.Name}
	}
	if node.TrashRootID != node.ID {
		return &metadata.StoreError{Code: metadata.ErrNotTrashed, Message: "node is not a trash entry; restore its deletion root", Path: node.Name}
	}

	parent, ok := s.nodes[node.ParentID]
	if !ok || parent.Trashed {
		return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "original parent no longer exists", Path: node.Name}
	}

	// Collect the nodes covered by this trash entry. Descendants trashed
	// separately stay in the trash.
	var restoring []*metadata.Node
	inSet := make(map[uuid.UUID]bool)
	for _, n := range s.subtreeOf(id) {
		if n.TrashRootID == id {
			restoring = append(restoring, n)
			inSet[n.ID] = true
		}
	}

	// Validate every restore target before touching anything.
	for _, n := range restoring {
		if clash := s.activeChildByName(n.ParentID, n.Name); clash != nil && !inSet[clash.ID] {
			return &metadata.StoreError{Code: metadata.ErrNameConflict, Message: "restore would conflict with an existing name", Path: n.Name}
		}
	}

	now := time.Now()
	for _, n := range restoring {
		n.Trashed = false
		n.TrashedAt = time.Time{}
		n.TrashRootID = uuid.Nil
	}
	parent.ModifiedAt = now

	return nil
}

// ListTrashRoots returns the principal's trash entries, most recent first.
func (s *MemoryMetadataStore) ListTrashRoots(ctx context.Context, owner metadata.Principal) ([]*metadata.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*metadata.Node
	for _, n := range s.nodes {
		if n.Trashed && n.TrashRootID == n.ID && n.Owner == owner {
			out = append(out, copyNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrashedAt.After(out[j].TrashedAt) })
	return out, nil
}

// ExpiredTrashRoots returns trash entries older than the cutoff.
func (s *MemoryMetadataStore) ExpiredTrashRoots(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []uuid.UUID
	for _, n := range s.nodes {
		if n.Trashed && n.TrashRootID == n.ID && n.TrashedAt.Before(before) {
			out = append(out, n.ID)
		}
	}
	return out, nil
}

// PurgeNode permanently removes a trashed node's subtree and versions and
// credits quota ledgers. Separately trashed descendants are purged too: they
// cannot exist without their ancestors.
func (s *MemoryMetadataStore) PurgeNode(ctx context.Context, id uuid.UUID) (*metadata.PurgeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "node not found", Path: id.String()}
	}
	if !node.Trashed {
		return nil, &metadata.StoreError{Code: metadata.ErrNotTrashed, Message: "only trashed nodes can be purged", Path: node.Name}
	}

	result := &metadata.PurgeResult{BytesFreed: make(map[metadata.Principal]uint64)}
	for _, n := range s.subtreeOf(id) {
		result.NodeIDs = append(result.NodeIDs, n.ID)
		for _, vid := range s.fileVersions[n.ID] {
			v := s.versions[vid]
			result.Versions = append(result.Versions, copyVersion(v))
			result.BytesFreed[v.Creator] += v.Size
			s.creditLedgerLocked(v.Creator, v.Size)
			delete(s.versions, vid)
		}
		delete(s.fileVersions, n.ID)
		delete(s.nodes, n.ID)
	}

	return result, nil
}
