package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

const tokenColumns = `secret, node_id, permission, expires_at, issuer, issued_at, revoked`

func scanToken(row rowScanner) (*metadata.ShareToken, error) {
	var t metadata.ShareToken
	var permission string
	err := row.Scan(&t.Secret, &t.NodeID, &permission, &t.ExpiresAt, &t.Issuer, &t.IssuedAt, &t.Revoked)
	if err != nil {
		return nil, err
	}
	t.Permission, err = metadata.ParsePermission(permission)
	if err != nil {
		return nil, fmt.Errorf("share token %s: %w", t.Secret, err)
	}
	return &t, nil
}

// PutShareToken stores a newly issued token.
func (s *PostgresMetadataStore) PutShareToken(ctx context.Context, token *metadata.ShareToken) error {
	if token.Secret == "" {
		return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "token secret must not be empty"}
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO share_tokens (`+tokenColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (secret) DO UPDATE SET
				node_id = EXCLUDED.node_id,
				permission = EXCLUDED.permission,
				expires_at = EXCLUDED.expires_at,
				issuer = EXCLUDED.issuer,
				issued_at = EXCLUDED.issued_at,
				revoked = EXCLUDED.revoked`,
			token.Secret, token.NodeID, token.Permission.String(), token.ExpiresAt,
			token.Issuer, token.IssuedAt, token.Revoked)
		return err
	})
}

// GetShareToken retrieves a token by secret.
func (s *PostgresMetadataStore) GetShareToken(ctx context.Context, secret string) (*metadata.ShareToken, error) {
	var token *metadata.ShareToken
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+tokenColumns+` FROM share_tokens WHERE secret = $1`, secret)
		t, err := scanToken(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return &metadata.StoreError{Code: metadata.ErrTokenInvalid, Message: "unknown share token"}
		}
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// RevokeShareToken marks a token revoked. Idempotent.
func (s *PostgresMetadataStore) RevokeShareToken(ctx context.Context, secret string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE share_tokens SET revoked = TRUE WHERE secret = $1`, secret)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return &metadata.StoreError{Code: metadata.ErrTokenInvalid, Message: "unknown share token"}
		}
		return nil
	})
}

// ListShareTokens returns tokens issued by a principal, newest first.
func (s *PostgresMetadataStore) ListShareTokens(ctx context.Context, issuer metadata.Principal) ([]*metadata.ShareToken, error) {
	var out []*metadata.ShareToken
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT `+tokenColumns+` FROM share_tokens
			WHERE issuer = $1 ORDER BY issued_at DESC`, issuer)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanToken(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
