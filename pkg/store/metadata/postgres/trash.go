package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// subtreeIDsTx collects id and all its descendants with a recursive CTE,
// parents before children.
func subtreeIDsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `
		WITH RECURSIVE subtree AS (
			SELECT id, 0 AS depth FROM nodes WHERE id = $1
			UNION ALL
			SELECT n.id, s.depth + 1 FROM nodes n
			JOIN subtree s ON n.parent_id = s.id
		)
		SELECT id FROM subtree ORDER BY depth`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var nodeID uuid.UUID
		if err := rows.Scan(&nodeID); err != nil {
			return nil, err
		}
		out = append(out, nodeID)
	}
	return out, rows.Err()
}

// TrashNode soft-deletes a node and its subtree in one transaction. A
// single UPDATE stamps every not-yet-trashed descendant with this deletion's
// root and timestamp; separately trashed descendants keep their own entry.
func (s *PostgresMetadataStore) TrashNode(ctx context.Context, id uuid.UUID, at time.Time) (int, error) {
	count := 0
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		node, err := getNodeTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if node.IsRoot() {
			return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "root folders cannot be trashed"}
		}
		if node.Trashed {
			return &metadata.StoreError{Code: metadata.ErrAlreadyTrashed, Message: "node is already in the trash", Path: node.Name}
		}

		tag, err := tx.Exec(ctx, `
			WITH RECURSIVE subtree AS (
				SELECT id FROM nodes WHERE id = $1
				UNION ALL
				SELECT n.id FROM nodes n JOIN subtree s ON n.parent_id = s.id
			)
			UPDATE nodes SET trashed = TRUE, trashed_at = $2, trash_root_id = $1
			WHERE id IN (SELECT id FROM subtree) AND NOT trashed`, id, at)
		if err != nil {
			return err
		}
		count = int(tag.RowsAffected())

		return touchNodeTx(ctx, tx, node.ParentID, time.Now())
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RestoreNode reverses one trash entry all-or-nothing. The clearing UPDATE
// re-enters every restored row into the active-name index; any clash fails
// the statement with a unique violation and rolls the whole restore back.
func (s *PostgresMetadataStore) RestoreNode(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		node, err := getNodeTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !node.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotTrashed, Message: "node is not in the trash", Path: node.Name}
		}
		if node.TrashRootID != node.ID {
			return &metadata.StoreError{Code: metadata.ErrNotTrashed, Message: "node is not a trash entry; restore its deletion root", Path: node.Name}
		}

		parent, err := getNodeTx(ctx, tx, node.ParentID)
		if err != nil || parent.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "original parent no longer exists", Path: node.Name}
		}

		_, err = tx.Exec(ctx, `
			UPDATE nodes
			SET trashed = FALSE, trashed_at = $2, trash_root_id = $3
			WHERE trash_root_id = $1 AND trashed`, id, time.Time{}, uuid.Nil)
		if err != nil {
			return err
		}

		return touchNodeTx(ctx, tx, node.ParentID, time.Now())
	})
}

// ListTrashRoots returns the principal's trash entries, most recent first.
func (s *PostgresMetadataStore) ListTrashRoots(ctx context.Context, owner metadata.Principal) ([]*metadata.Node, error) {
	var out []*metadata.Node
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+nodeColumns+` FROM nodes
			WHERE trashed AND trash_root_id = id AND owner_name = $1
			ORDER BY trashed_at DESC`, owner)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			n, err := scanNode(rows)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpiredTrashRoots returns trash entries older than the cutoff.
func (s *PostgresMetadataStore) ExpiredTrashRoots(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id FROM nodes
			WHERE trashed AND trash_root_id = id AND trashed_at < $1`, before)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out = append(out, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeNode permanently removes a trashed node's subtree and its versions,
// crediting quota ledgers in the same transaction. Separately trashed
// descendants are purged too: they cannot exist without their ancestors.
func (s *PostgresMetadataStore) PurgeNode(ctx context.Context, id uuid.UUID) (*metadata.PurgeResult, error) {
	result := &metadata.PurgeResult{BytesFreed: make(map[metadata.Principal]uint64)}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		node, err := getNodeTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !node.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotTrashed, Message: "only trashed nodes can be purged", Path: node.Name}
		}

		ids, err := subtreeIDsTx(ctx, tx, id)
		if err != nil {
			return err
		}
		result.NodeIDs = ids

		rows, err := tx.Query(ctx, `
			SELECT `+versionColumns+` FROM versions
			WHERE file_id = ANY($1) ORDER BY file_id, seq`, ids)
		if err != nil {
			return err
		}
		for rows.Next() {
			v, err := scanVersion(rows)
			if err != nil {
				rows.Close()
				return err
			}
			result.Versions = append(result.Versions, v)
			result.BytesFreed[v.Creator] += v.Size
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for creator, bytes := range result.BytesFreed {
			if err := creditLedgerTx(ctx, tx, creator, bytes); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM versions WHERE file_id = ANY($1)`, ids); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM nodes WHERE id = ANY($1)`, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
