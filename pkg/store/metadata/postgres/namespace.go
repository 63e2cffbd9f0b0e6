package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// EnsureRoot returns the principal's root folder, creating it on first use.
// The partial unique index on root owners makes concurrent first calls
// race-safe: the loser's insert conflicts and the retry finds the winner's
// row.
func (s *PostgresMetadataStore) EnsureRoot(ctx context.Context, owner metadata.Principal) (*metadata.Node, error) {
	var root *metadata.Node
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+nodeColumns+` FROM nodes
			WHERE owner_name = $1 AND parent_id = $2`, owner, uuid.Nil)
		n, err := scanNode(row)
		if err == nil {
			root = n
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
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
		return insertNodeTx(ctx, tx, root)
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

// GetNode retrieves a node by ID, trashed or not.
func (s *PostgresMetadataStore) GetNode(ctx context.Context, id uuid.UUID) (*metadata.Node, error) {
	var node *metadata.Node
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		node, err = getNodeTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// checkParentTx validates that parentID is a live folder fit to receive a
// child.
func checkParentTx(ctx context.Context, tx pgx.Tx, parentID uuid.UUID) (*metadata.Node, error) {
	parent, err := getNodeTx(ctx, tx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Trashed {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "parent folder not found", Path: parentID.String()}
	}
	if parent.Kind != metadata.KindFolder {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFolder, Message: "parent is not a folder", Path: parent.Name}
	}
	return parent, nil
}

func touchNodeTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE nodes SET modified_at = $2 WHERE id = $1`, id, at)
	return err
}

// createNodeTx is the shared insert path for CreateNode and
// CreateFileWithVersion. Sibling uniqueness is enforced by the partial
// unique index, not a pre-check: a clash fails the INSERT with SQLSTATE
// 23505, which withTx maps to ErrNameConflict.
func createNodeTx(ctx context.Context, tx pgx.Tx, parentID uuid.UUID, name string, kind metadata.NodeKind, owner metadata.Principal) (*metadata.Node, error) {
	if _, err := checkParentTx(ctx, tx, parentID); err != nil {
		return nil, err
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
	if err := insertNodeTx(ctx, tx, node); err != nil {
		return nil, err
	}
	return node, touchNodeTx(ctx, tx, parentID, now)
}

// CreateNode creates a file or folder under parentID.
func (s *PostgresMetadataStore) CreateNode(ctx context.Context, parentID uuid.UUID, name string, kind metadata.NodeKind, owner metadata.Principal) (*metadata.Node, error) {
	if err := metadata.ValidateName(name); err != nil {
		return nil, err
	}

	var node *metadata.Node
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		node, err = createNodeTx(ctx, tx, parentID, name, kind, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// CreateFileWithVersion creates a file node and its first version in one
// transaction.
func (s *PostgresMetadataStore) CreateFileWithVersion(ctx context.Context, parentID uuid.UUID, name string, owner metadata.Principal, digest metadata.ContentDigest, size uint64, creator metadata.Principal) (*metadata.Node, *metadata.Version, error) {
	if err := metadata.ValidateName(name); err != nil {
		return nil, nil, err
	}

	var (
		node    *metadata.Node
		version *metadata.Version
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		node, err = createNodeTx(ctx, tx, parentID, name, metadata.KindFile, owner)
		if err != nil {
			return err
		}
		version, err = appendVersionTx(ctx, tx, node, digest, size, creator)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return node, version, nil
}

// RenameNode changes a node's name in place. The active-name index rejects
// a clashing rename at UPDATE time.
func (s *PostgresMetadataStore) RenameNode(ctx context.Context, id uuid.UUID, newName string) (*metadata.Node, error) {
	if err := metadata.ValidateName(newName); err != nil {
		return nil, err
	}

	var node *metadata.Node
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		node, err = getNodeTx(ctx, tx, id)
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

		now := time.Now()
		_, err = tx.Exec(ctx, `UPDATE nodes SET name = $2, modified_at = $3 WHERE id = $1`, id, newName, now)
		if err != nil {
			return err
		}
		node.Name = newName
		node.ModifiedAt = now
		return touchNodeTx(ctx, tx, node.ParentID, now)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// MoveNode reparents a node, keeping its name. The cycle check walks the
// destination's ancestor chain with a recursive CTE inside the transaction.
func (s *PostgresMetadataStore) MoveNode(ctx context.Context, id, newParentID uuid.UUID) (*metadata.Node, error) {
	var node *metadata.Node
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		node, err = getNodeTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if node.IsRoot() {
			return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "root folders cannot be moved"}
		}
		if node.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "node is trashed", Path: node.Name}
		}

		dest, err := getNodeTx(ctx, tx, newParentID)
		if err != nil {
			return err
		}
		if dest.Trashed {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "destination folder not found", Path: newParentID.String()}
		}
		if dest.Kind != metadata.KindFolder {
			return &metadata.StoreError{Code: metadata.ErrNotFolder, Message: "destination is not a folder", Path: dest.Name}
		}

		// Ancestor chain of the destination, root-bound. Hitting the moved
		// node means the destination lives inside it.
		var inSubtree bool
		err = tx.QueryRow(ctx, `
			WITH RECURSIVE ancestors AS (
				SELECT id, parent_id FROM nodes WHERE id = $1
				UNION ALL
				SELECT n.id, n.parent_id FROM nodes n
				JOIN ancestors a ON n.id = a.parent_id
			)
			SELECT EXISTS (SELECT 1 FROM ancestors WHERE id = $2)`, newParentID, id).Scan(&inSubtree)
		if err != nil {
			return err
		}
		if inSubtree {
			return &metadata.StoreError{Code: metadata.ErrCycleDetected, Message: "destination is inside the folder being moved", Path: node.Name}
		}

		if node.ParentID == newParentID {
			return nil
		}

		now := time.Now()
		oldParentID := node.ParentID
		_, err = tx.Exec(ctx, `UPDATE nodes SET parent_id = $2, modified_at = $3 WHERE id = $1`, id, newParentID, now)
		if err != nil {
			return err
		}
		node.ParentID = newParentID
		node.ModifiedAt = now
		if err := touchNodeTx(ctx, tx, oldParentID, now); err != nil {
			return err
		}
		return touchNodeTx(ctx, tx, newParentID, now)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// ListChildren returns a folder's children sorted by name.
func (s *PostgresMetadataStore) ListChildren(ctx context.Context, parentID uuid.UUID, includeTrashed bool) ([]*metadata.Node, error) {
	var out []*metadata.Node
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		parent, err := getNodeTx(ctx, tx, parentID)
		if err != nil {
			return err
		}
		if parent.Kind != metadata.KindFolder {
			return &metadata.StoreError{Code: metadata.ErrNotFolder, Message: "not a folder", Path: parent.Name}
		}

		rows, err := tx.Query(ctx, `
			SELECT `+nodeColumns+` FROM nodes
			WHERE parent_id = $1 AND (NOT trashed OR $2)
			ORDER BY name`, parentID, includeTrashed)
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

// ResolvePath walks name segments from rootID, one indexed lookup per
// segment.
func (s *PostgresMetadataStore) ResolvePath(ctx context.Context, rootID uuid.UUID, segments []string) (*metadata.Node, error) {
	var node *metadata.Node
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		cur, err := getNodeTx(ctx, tx, rootID)
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
			row := tx.QueryRow(ctx, `
				SELECT `+nodeColumns+` FROM nodes
				WHERE parent_id = $1 AND name = $2 AND NOT trashed`, cur.ID, seg)
			next, err := scanNode(row)
			if errors.Is(err, pgx.ErrNoRows) {
				return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "path not found", Path: seg}
			}
			if err != nil {
				return err
			}
			cur = next
		}

		node = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}
