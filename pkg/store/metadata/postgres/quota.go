package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// creditLedgerTx reduces a principal's consumption, clamping at zero.
// Missing ledgers are ignored.
func creditLedgerTx(ctx context.Context, tx pgx.Tx, p metadata.Principal, bytes uint64) error {
	_, err := tx.Exec(ctx, `
		UPDATE quota_ledgers
		SET consumed_bytes = GREATEST(consumed_bytes - $2, 0)
		WHERE owner_name = $1`, p, int64(bytes))
	return err
}

// EnsureQuota creates the principal's ledger with the given limit if absent.
func (s *PostgresMetadataStore) EnsureQuota(ctx context.Context, p metadata.Principal, limitBytes uint64) (*metadata.QuotaLedger, error) {
	var ledger metadata.QuotaLedger
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO quota_ledgers (owner_name, limit_bytes, consumed_bytes)
			VALUES ($1, $2, 0)
			ON CONFLICT (owner_name) DO NOTHING`, p, int64(limitBytes))
		if err != nil {
			return err
		}
		var limit, consumed int64
		err = tx.QueryRow(ctx, `
			SELECT owner_name, limit_bytes, consumed_bytes
			FROM quota_ledgers WHERE owner_name = $1`, p).Scan(&ledger.Principal, &limit, &consumed)
		if err != nil {
			return err
		}
		ledger.LimitBytes = uint64(limit)
		ledger.ConsumedBytes = uint64(consumed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

// SetQuotaLimit updates the principal's limit, creating the ledger if
// needed. 0 means unlimited.
func (s *PostgresMetadataStore) SetQuotaLimit(ctx context.Context, p metadata.Principal, limitBytes uint64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO quota_ledgers (owner_name, limit_bytes, consumed_bytes)
			VALUES ($1, $2, 0)
			ON CONFLICT (owner_name) DO UPDATE SET limit_bytes = EXCLUDED.limit_bytes`,
			p, int64(limitBytes))
		return err
	})
}

// GetQuota returns the principal's ledger.
func (s *PostgresMetadataStore) GetQuota(ctx context.Context, p metadata.Principal) (*metadata.QuotaLedger, error) {
	var ledger metadata.QuotaLedger
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var limit, consumed int64
		err := tx.QueryRow(ctx, `
			SELECT owner_name, limit_bytes, consumed_bytes
			FROM quota_ledgers WHERE owner_name = $1`, p).Scan(&ledger.Principal, &limit, &consumed)
		if errors.Is(err, pgx.ErrNoRows) {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "no quota ledger for principal", Path: string(p)}
		}
		if err != nil {
			return err
		}
		ledger.LimitBytes = uint64(limit)
		ledger.ConsumedBytes = uint64(consumed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

// Reserve places a provisional hold on quota capacity. The admission check
// and the reservation insert run in one serializable transaction; two
// concurrent reservations that would jointly exceed the limit cannot both
// commit.
func (s *PostgresMetadataStore) Reserve(ctx context.Context, p metadata.Principal, bytes uint64, now time.Time) (*metadata.Reservation, error) {
	var reservation *metadata.Reservation
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO quota_ledgers (owner_name, limit_bytes, consumed_bytes)
			VALUES ($1, 0, 0)
			ON CONFLICT (owner_name) DO NOTHING`, p)
		if err != nil {
			return err
		}

		var limit, consumed, pending int64
		err = tx.QueryRow(ctx, `
			SELECT l.limit_bytes, l.consumed_bytes,
				COALESCE((SELECT SUM(r.bytes) FROM reservations r WHERE r.owner_name = $1), 0)
			FROM quota_ledgers l WHERE l.owner_name = $1`, p).Scan(&limit, &consumed, &pending)
		if err != nil {
			return err
		}
		if limit > 0 && uint64(consumed)+uint64(pending)+bytes > uint64(limit) {
			return &metadata.StoreError{Code: metadata.ErrQuotaExceeded, Message: "storage quota exceeded", Path: string(p)}
		}

		reservation = &metadata.Reservation{
			ID:        uuid.New(),
			Principal: p,
			Bytes:     bytes,
			CreatedAt: now,
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO reservations (id, owner_name, bytes, created_at)
			VALUES ($1, $2, $3, $4)`,
			reservation.ID, reservation.Principal, int64(reservation.Bytes), reservation.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// CommitReservation converts a reservation into permanent consumption.
func (s *PostgresMetadataStore) CommitReservation(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var owner metadata.Principal
		var bytes int64
		err := tx.QueryRow(ctx, `
			DELETE FROM reservations WHERE id = $1
			RETURNING owner_name, bytes`, id).Scan(&owner, &bytes)
		if errors.Is(err, pgx.ErrNoRows) {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "reservation not found", Path: id.String()}
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO quota_ledgers (owner_name, limit_bytes, consumed_bytes)
			VALUES ($1, 0, $2)
			ON CONFLICT (owner_name) DO UPDATE
				SET consumed_bytes = quota_ledgers.consumed_bytes + EXCLUDED.consumed_bytes`,
			owner, bytes)
		return err
	})
}

// ReleaseReservation drops a reservation without consuming.
func (s *PostgresMetadataStore) ReleaseReservation(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "reservation not found", Path: id.String()}
		}
		return nil
	})
}

// ReleaseExpiredReservations drops reservations created before the cutoff.
func (s *PostgresMetadataStore) ReleaseExpiredReservations(ctx context.Context, before time.Time) (int, error) {
	count := 0
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM reservations WHERE created_at < $1`, before)
		if err != nil {
			return err
		}
		count = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
