package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// appendVersionLocked assigns the next sequence number, stores the version,
// and moves the file's current pointer, all under the caller's lock. The
// sequence continues from the highest committed number even after low-end
// pruning, so history is never renumbered.
func (s *MemoryMetadataStore) appendVersionLocked(file *metadata.Node, digest metadata.ContentDigest, size uint64, creator metadata.Principal) *metadata.Version {
	var lastSeq uint64
	ids := s.fileVersions[file.ID]
	if len(ids) > 0 {
		lastSeq = s.versions[ids[len(ids)-1]].Seq
	}

	now := time.Now()
	version := &metadata.Version{
		ID:        uuid.New(),
		FileID:    file.ID,
		Seq:       lastSeq + 1,
		Digest:    digest,
		Size:      size,
		Creator:   creator,
		CreatedAt: now,
	}
	s.versions[version.ID] = version
	s.fileVersions[file.ID] = append(ids, version.ID)
	file.CurrentVersionID = version.ID
	file.ModifiedAt = now

	return version
}

// CommitVersion appends a revision and updates the current pointer in one
// atomic step. Concurrent committers both succeed with distinct sequence
// numbers; the last one to run holds the current pointer.
func (s *MemoryMetadataStore) CommitVersion(ctx context.Context, fileID uuid.UUID, digest metadata.ContentDigest, size uint64, creator metadata.Principal) (*metadata.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.nodes[fileID]
	if !ok || file.Trashed {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "file not found", Path: fileID.String()}
	}
	if file.Kind != metadata.KindFile {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFile, Message: "not a file", Path: file.Name}
	}

	return copyVersion(s.appendVersionLocked(file, digest, size, creator)), nil
}

// ListVersions returns a file's retained versions by ascending sequence.
func (s *MemoryMetadataStore) ListVersions(ctx context.Context, fileID uuid.UUID) ([]*metadata.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, ok := s.nodes[fileID]
	if !ok {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "file not found", Path: fileID.String()}
	}
	if file.Kind != metadata.KindFile {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFile, Message: "not a file", Path: file.Name}
	}

	ids := s.fileVersions[fileID]
	out := make([]*metadata.Version, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyVersion(s.versions[id]))
	}
	return out, nil
}

// GetVersion retrieves a single version by ID.
func (s *MemoryMetadataStore) GetVersion(ctx context.Context, versionID uuid.UUID) (*metadata.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[versionID]
	if !ok {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "version not found", Path: versionID.String()}
	}
	return copyVersion(v), nil
}

// SetCurrentVersion points a file at one of its existing versions.
func (s *MemoryMetadataStore) SetCurrentVersion(ctx context.Context, fileID, versionID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.nodes[fileID]
	if !ok {
		return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "file not found", Path: fileID.String()}
	}
	if file.Kind != metadata.KindFile {
		return &metadata.StoreError{Code: metadata.ErrNotFile, Message: "not a file", Path: file.Name}
	}
	v, ok := s.versions[versionID]
	if !ok {
		return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "version not found", Path: versionID.String()}
	}
	if v.FileID != fileID {
		return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "version belongs to a different file", Path: versionID.String()}
	}

	file.CurrentVersionID = versionID
	file.ModifiedAt = time.Now()
	return nil
}

// PruneVersions removes non-current versions beyond keepCount or older than
// olderThan and credits the creators' ledgers.
func (s *MemoryMetadataStore) PruneVersions(ctx context.Context, fileID uuid.UUID, keepCount int, olderThan time.Time) ([]*metadata.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, ok := s.nodes[fileID]
	if !ok {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "file not found", Path: fileID.String()}
	}
	if file.Kind != metadata.KindFile {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFile, Message: "not a file", Path: file.Name}
	}

	return s.pruneFileLocked(file, keepCount, olderThan), nil
}

// PruneAllVersions applies the retention policy to every file.
func (s *MemoryMetadataStore) PruneAllVersions(ctx context.Context, keepCount int, olderThan time.Time) ([]*metadata.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned []*metadata.Version
	for fileID := range s.fileVersions {
		file, ok := s.nodes[fileID]
		if !ok {
			continue
		}
		pruned = append(pruned, s.pruneFileLocked(file, keepCount, olderThan)...)
	}
	return pruned, nil
}

// pruneFileLocked removes prunable versions of one file and returns them.
// A version is prunable when it is not current and either falls outside the
// newest keepCount entries (keepCount > 0) or predates olderThan (non-zero).
// Callers must hold the mutex.
func (s *MemoryMetadataStore) pruneFileLocked(file *metadata.Node, keepCount int, olderThan time.Time) []*metadata.Version {
	ids := s.fileVersions[file.ID]
	var pruned []*metadata.Version
	var kept []uuid.UUID

	for i, id := range ids {
		v := s.versions[id]
		fromEnd := len(ids) - i // 1 for the newest
		prune := false
		if v.ID != file.CurrentVersionID {
			if keepCount > 0 && fromEnd > keepCount {
				prune = true
			}
			if !olderThan.IsZero() && v.CreatedAt.Before(olderThan) {
				prune = true
			}
		}
		if prune {
			pruned = append(pruned, copyVersion(v))
			s.creditLedgerLocked(v.Creator, v.Size)
			delete(s.versions, id)
		} else {
			kept = append(kept, id)
		}
	}

	s.fileVersions[file.ID] = kept
	return pruned
}
