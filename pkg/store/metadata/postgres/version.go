package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// appendVersionTx assigns the next sequence number, inserts the version,
// and moves the file's current pointer. COALESCE over MAX(seq) continues
// the sequence from the highest committed number even after low-end
// pruning. The unique (file_id, seq) index catches concurrent committers
// that read the same MAX.
func appendVersionTx(ctx context.Context, tx pgx.Tx, file *metadata.Node, digest metadata.ContentDigest, size uint64, creator metadata.Principal) (*metadata.Version, error) {
	var lastSeq int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM versions WHERE file_id = $1`, file.ID).Scan(&lastSeq)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	version := &metadata.Version{
		ID:        uuid.New(),
		FileID:    file.ID,
		Seq:       uint64(lastSeq) + 1,
		Digest:    digest,
		Size:      size,
		Creator:   creator,
		CreatedAt: now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO versions (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		version.ID, version.FileID, int64(version.Seq), version.Digest,
		int64(version.Size), version.Creator, version.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE nodes SET current_version_id = $2, modified_at = $3 WHERE id = $1`,
		file.ID, version.ID, now)
	if err != nil {
		return nil, err
	}
	file.CurrentVersionID = version.ID
	file.ModifiedAt = now

	return version, nil
}

// getFileTx loads a node and verifies it is a file.
func getFileTx(ctx context.Context, tx pgx.Tx, fileID uuid.UUID) (*metadata.Node, error) {
	file, err := getNodeTx(ctx, tx, fileID)
	if err != nil {
		return nil, err
	}
	if file.Kind != metadata.KindFile {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFile, Message: "not a file", Path: file.Name}
	}
	return file, nil
}

// CommitVersion appends a revision and updates the current pointer in one
// transaction.
func (s *PostgresMetadataStore) CommitVersion(ctx context.Context, fileID uuid.UUID, digest metadata.ContentDigest, size uint64, creator metadata.Principal) (*metadata.Version, error) {
	var version *metadata.Version
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		file, err := getFileTx(ctx, tx, fileID)
		if err != nil {
			return err
		}
		if file.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "file not found", Path: fileID.String()}
		}
		version, err = appendVersionTx(ctx, tx, file, digest, size, creator)
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// ListVersions returns a file's retained versions by ascending sequence.
func (s *PostgresMetadataStore) ListVersions(ctx context.Context, fileID uuid.UUID) ([]*metadata.Version, error) {
	var out []*metadata.Version
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := getFileTx(ctx, tx, fileID); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			SELECT `+versionColumns+` FROM versions
			WHERE file_id = $1 ORDER BY seq`, fileID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			v, err := scanVersion(rows)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetVersion retrieves a single version by ID.
func (s *PostgresMetadataStore) GetVersion(ctx context.Context, versionID uuid.UUID) (*metadata.Version, error) {
	var version *metadata.Version
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+versionColumns+` FROM versions WHERE id = $1`, versionID)
		v, err := scanVersion(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "version not found", Path: versionID.String()}
		}
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// SetCurrentVersion points a file at one of its existing versions.
func (s *PostgresMetadataStore) SetCurrentVersion(ctx context.Context, fileID, versionID uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := getFileTx(ctx, tx, fileID); err != nil {
			return err
		}

		row := tx.QueryRow(ctx, `
			SELECT `+versionColumns+` FROM versions WHERE id = $1`, versionID)
		v, err := scanVersion(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "version not found", Path: versionID.String()}
		}
		if err != nil {
			return err
		}
		if v.FileID != fileID {
			return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "version belongs to a different file", Path: versionID.String()}
		}

		_, err = tx.Exec(ctx, `
			UPDATE nodes SET current_version_id = $2, modified_at = $3 WHERE id = $1`,
			fileID, versionID, time.Now())
		return err
	})
}

// pruneFileTx removes prunable versions of one file, credits the creators'
// ledgers, and returns what it removed.
func pruneFileTx(ctx context.Context, tx pgx.Tx, file *metadata.Node, keepCount int, olderThan time.Time) ([]*metadata.Version, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+versionColumns+` FROM versions
		WHERE file_id = $1 ORDER BY seq`, file.ID)
	if err != nil {
		return nil, err
	}
	var versions []*metadata.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		versions = append(versions, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
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
		if _, err := tx.Exec(ctx, `DELETE FROM versions WHERE id = $1`, v.ID); err != nil {
			return nil, err
		}
		if err := creditLedgerTx(ctx, tx, v.Creator, v.Size); err != nil {
			return nil, err
		}
		pruned = append(pruned, v)
	}
	return pruned, nil
}

// PruneVersions removes non-current versions beyond keepCount or older than
// olderThan and credits the creators' ledgers.
func (s *PostgresMetadataStore) PruneVersions(ctx context.Context, fileID uuid.UUID, keepCount int, olderThan time.Time) ([]*metadata.Version, error) {
	var pruned []*metadata.Version
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		file, err := getFileTx(ctx, tx, fileID)
		if err != nil {
			return err
		}
		pruned, err = pruneFileTx(ctx, tx, file, keepCount, olderThan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pruned, nil
}

// PruneAllVersions applies the retention policy to every file with retained
// versions, one transaction per file so the sweeper never holds a
// store-wide transaction open.
func (s *PostgresMetadataStore) PruneAllVersions(ctx context.Context, keepCount int, olderThan time.Time) ([]*metadata.Version, error) {
	var fileIDs []uuid.UUID
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT DISTINCT file_id FROM versions`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			fileIDs = append(fileIDs, id)
		}
		return rows.Err()
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
			if metadata.IsCode(err, metadata.ErrNotFound) {
				continue
			}
			return pruned, err
		}
		pruned = append(pruned, p...)
	}
	return pruned, nil
}
