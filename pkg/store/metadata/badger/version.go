package badger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// loadVersion reads a version record, mapping a missing key to ErrNotFound.
func loadVersion(txn *badger.Txn, id uuid.UUID) (*metadata.Version, error) {
	var v metadata.Version
	err := getJSON(txn, versionKey(id), &v)
	if errors.Is(err, errKeyNotFound) {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "version not found", Path: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// lastSeqTxn returns a file's highest committed sequence number, 0 when the
// file has no versions. Zero-padded sequence keys make the reverse scan's
// first hit the highest number.
func lastSeqTxn(txn *badger.Txn, fileID uuid.UUID) (uint64, error) {
	prefix := versionSeqPrefix(fileID)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(append(append([]byte{}, prefix...), 0xff))
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	key := it.Item().Key()
	seq, err := strconv.ParseUint(string(key[len(prefix):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt version sequence key %q: %w", key, err)
	}
	return seq, nil
}

// fileVersionsTxn returns a file's retained versions by ascending sequence.
func fileVersionsTxn(txn *badger.Txn, fileID uuid.UUID) ([]*metadata.Version, error) {
	prefix := versionSeqPrefix(fileID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var out []*metadata.Version
	for it.Rewind(); it.Valid(); it.Next() {
		var versionID uuid.UUID
		err := it.Item().Value(func(val []byte) error {
			parsed, err := uuid.FromBytes(val)
			if err != nil {
				return fmt.Errorf("corrupt version index entry: %w", err)
			}
			versionID = parsed
			return nil
		})
		if err != nil {
			return nil, err
		}
		v, err := loadVersion(txn, versionID)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// appendVersionTxn assigns the next sequence number, stores the version, and
// moves the file's current pointer, saving the node record. The sequence
// continues from the highest committed number even after low-end pruning,
// so history is never renumbered.
func appendVersionTxn(txn *badger.Txn, file *metadata.Node, digest metadata.ContentDigest, size uint64, creator metadata.Principal) (*metadata.Version, error) {
	lastSeq, err := lastSeqTxn(txn, file.ID)
	if err != nil {
		return nil, err
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
	if err := setJSON(txn, versionKey(version.ID), version); err != nil {
		return nil, err
	}
	if err := setUUID(txn, versionSeqKey(file.ID, version.Seq), version.ID); err != nil {
		return nil, err
	}

	file.CurrentVersionID = version.ID
	file.ModifiedAt = now
	if err := saveNode(txn, file); err != nil {
		return nil, err
	}

	return version, nil
}

// CommitVersion appends a revision and updates the current pointer in one
// transaction. Two concurrent committers both read the sequence index, so
// BadgerDB fails one with a conflict; the caller retries and gets the next
// number.
func (s *BadgerMetadataStore) CommitVersion(ctx context.Context, fileID uuid.UUID, digest metadata.ContentDigest, size uint64, creator metadata.Principal) (*metadata.Version, error) {
	var version *metadata.Version
	err := s.update(ctx, func(txn *badger.Txn) error {
		file, err := loadNode(txn, fileID)
		if err != nil {
			return err
		}
		if file.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "file not found", Path: fileID.String()}
		}
		if file.Kind != metadata.KindFile {
			return &metadata.StoreError{Code: metadata.ErrNotFile, Message: "not a file", Path: file.Name}
		}

		version, err = appendVersionTxn(txn, file, digest, size, creator)
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// ListVersions returns a file's retained versions by ascending sequence.
func (s *BadgerMetadataStore) ListVersions(ctx context.Context, fileID uuid.UUID) ([]*metadata.Version, error) {
	var out []*metadata.Version
	err := s.view(ctx, func(txn *badger.Txn) error {
		file, err := loadNode(txn, fileID)
		if err != nil {
			return err
		}
		if file.Kind != metadata.KindFile {
			return &metadata.StoreError{Code: metadata.ErrNotFile, Message: "not a file", Path: file.Name}
		}
		out, err = fileVersionsTxn(txn, fileID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetVersion retrieves a single version by ID.
func (s *BadgerMetadataStore) GetVersion(ctx context.Context, versionID uuid.UUID) (*metadata.Version, error) {
	var v *metadata.Version
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		v, err = loadVersion(txn, versionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// SetCurrentVersion points a file at one of its existing versions.
func (s *BadgerMetadataStore) SetCurrentVersion(ctx context.Context, fileID, versionID uuid.UUID) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		file, err := loadNode(txn, fileID)
		if err != nil {
			return err
		}
		if file.Kind != metadata.KindFile {
			return &metadata.StoreError{Code: metadata.ErrNotFile, Message: "not a file", Path: file.Name}
		}
		v, err := loadVersion(txn, versionID)
		if err != nil {
			return err
		}
		if v.FileID != fileID {
			return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "version belongs to a different file", Path: versionID.String()}
		}

		file.CurrentVersionID = versionID
		file.ModifiedAt = time.Now()
		return saveNode(txn, file)
	})
}

// pruneFileTxn removes prunable versions of one file, credits the creators'
// ledgers, and returns what it removed. A version is prunable when it is
// not current and either falls outside the newest keepCount entries
// (keepCount > 0) or predates olderThan (non-zero).
func pruneFileTxn(txn *badger.Txn, file *metadata.Node, keepCount int, olderThan time.Time) ([]*metadata.Version, error) {
	versions, err := fileVersionsTxn(txn, file.ID)
	if err != nil {
		return nil, err
	}

	var pruned []*metadata.Version
	for i, v := range versions {
		fromEnd := len(versions) - i // 1 for the newest
		prune := false
		if v.ID != file.CurrentVersionID {
			if keepCount > 0 && fromEnd > keepCount {
				prune = true
			}
			if !olderThan.IsZero() && v.CreatedAt.Before(olderThan) {
				prune = true
			}
		}
		if !prune {
			continue
		}
		if err := txn.Delete(versionKey(v.ID)); err != nil {
			return nil, err
		}
		if err := txn.Delete(versionSeqKey(file.ID, v.Seq)); err != nil {
			return nil, err
		}
		if err := creditLedger(txn, v.Creator, v.Size); err != nil {
			return nil, err
		}
		pruned = append(pruned, v)
	}
	return pruned, nil
}

// PruneVersions removes non-current versions beyond keepCount or older than
// olderThan and credits the creators' ledgers.
func (s *BadgerMetadataStore) PruneVersions(ctx context.Context, fileID uuid.UUID, keepCount int, olderThan time.Time) ([]*metadata.Version, error) {
	var pruned []*metadata.Version
	err := s.update(ctx, func(txn *badger.Txn) error {
		file, err := loadNode(txn, fileID)
		if err != nil {
			return err
		}
		if file.Kind != metadata.KindFile {
			return &metadata.StoreError{Code: metadata.ErrNotFile, Message: "not a file", Path: file.Name}
		}
		pruned, err = pruneFileTxn(txn, file, keepCount, olderThan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pruned, nil
}

// PruneAllVersions applies the retention policy to every file with retained
// versions. Files are pruned one transaction each: the sweeper needs
// per-file atomicity, not a single store-wide transaction that could exceed
// BadgerDB's transaction size limit.
func (s *BadgerMetadataStore) PruneAllVersions(ctx context.Context, keepCount int, olderThan time.Time) ([]*metadata.Version, error) {
	var fileIDs []uuid.UUID
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixVersionSeq)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		var last uuid.UUID
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			// vs:<fileUUID>:<seq>, the UUID is fixed-width.
			idPart := key[len(prefixVersionSeq) : len(prefixVersionSeq)+36]
			id, err := uuid.Parse(idPart)
			if err != nil {
				return fmt.Errorf("corrupt version sequence key %q: %w", key, err)
			}
			if id != last {
				fileIDs = append(fileIDs, id)
				last = id
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var pruned []*metadata.Version
	for _, fileID := range fileIDs {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		p, err := s.PruneVersions(ctx, fileID, keepCount, olderThan)
		if err != nil {
			// The file may have been purged since the scan.
			if metadata.IsCode(err, metadata.ErrNotFound) {
				continue
			}
			return pruned, err
		}
		pruned = append(pruned, p...)
	}
	return pruned, nil
}
