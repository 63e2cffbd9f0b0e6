package badger

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// loadOrCreateLedger returns the principal's ledger, creating it with the
// given limit if missing.
func loadOrCreateLedger(txn *badger.Txn, p metadata.Principal, limitBytes uint64) (*metadata.QuotaLedger, error) {
	var ledger metadata.QuotaLedger
	err := getJSON(txn, quotaKey(p), &ledger)
	if err == nil {
		return &ledger, nil
	}
	if !errors.Is(err, errKeyNotFound) {
		return nil, err
	}
	ledger = metadata.QuotaLedger{Principal: p, LimitBytes: limitBytes}
	if err := setJSON(txn, quotaKey(p), &ledger); err != nil {
		return nil, err
	}
	return &ledger, nil
}

// EnsureQuota creates the principal's ledger with the given limit if absent.
func (s *BadgerMetadataStore) EnsureQuota(ctx context.Context, p metadata.Principal, limitBytes uint64) (*metadata.QuotaLedger, error) {
	var ledger *metadata.QuotaLedger
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		ledger, err = loadOrCreateLedger(txn, p, limitBytes)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

// SetQuotaLimit updates the principal's limit, creating the ledger if
// needed. 0 means unlimited.
func (s *BadgerMetadataStore) SetQuotaLimit(ctx context.Context, p metadata.Principal, limitBytes uint64) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		ledger, err := loadOrCreateLedger(txn, p, limitBytes)
		if err != nil {
			return err
		}
		ledger.LimitBytes = limitBytes
		return setJSON(txn, quotaKey(p), ledger)
	})
}

// GetQuota returns the principal's ledger.
func (s *BadgerMetadataStore) GetQuota(ctx context.Context, p metadata.Principal) (*metadata.QuotaLedger, error) {
	var ledger metadata.QuotaLedger
	err := s.view(ctx, func(txn *badger.Txn) error {
		err := getJSON(txn, quotaKey(p), &ledger)
		if errors.Is(err, errKeyNotFound) {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "no quota ledger for principal", Path: string(p)}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

// pendingBytesTxn sums the principal's outstanding reservations.
func pendingBytesTxn(txn *badger.Txn, p metadata.Principal) (uint64, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefixReservation)

	it := txn.NewIterator(opts)
	defer it.Close()

	var pending uint64
	for it.Rewind(); it.Valid(); it.Next() {
		var r metadata.Reservation
		err := it.Item().Value(func(val []byte) error {
			return decodeJSON(val, &r)
		})
		if err != nil {
			return 0, err
		}
		if r.Principal == p {
			pending += r.Bytes
		}
	}
	return pending, nil
}

// Reserve places a provisional hold on quota capacity. The admission check
// reads the ledger and every outstanding reservation inside the transaction,
// so two concurrent reservations that would jointly exceed the limit
// conflict: one commits, the other retries against the updated state and
// is rejected.
func (s *BadgerMetadataStore) Reserve(ctx context.Context, p metadata.Principal, bytes uint64, now time.Time) (*metadata.Reservation, error) {
	var reservation *metadata.Reservation
	err := s.update(ctx, func(txn *badger.Txn) error {
		ledger, err := loadOrCreateLedger(txn, p, 0)
		if err != nil {
			return err
		}
		if ledger.LimitBytes > 0 {
			pending, err := pendingBytesTxn(txn, p)
			if err != nil {
				return err
			}
			if ledger.ConsumedBytes+pending+bytes > ledger.LimitBytes {
				return &metadata.StoreError{Code: metadata.ErrQuotaExceeded, Message: "storage quota exceeded", Path: string(p)}
			}
		}

		reservation = &metadata.Reservation{
			ID:        uuid.New(),
			Principal: p,
			Bytes:     bytes,
			CreatedAt: now,
		}
		return setJSON(txn, reservationKey(reservation.ID), reservation)
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// CommitReservation converts a reservation into permanent consumption.
func (s *BadgerMetadataStore) CommitReservation(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var r metadata.Reservation
		err := getJSON(txn, reservationKey(id), &r)
		if errors.Is(err, errKeyNotFound) {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "reservation not found", Path: id.String()}
		}
		if err != nil {
			return err
		}

		ledger, err := loadOrCreateLedger(txn, r.Principal, 0)
		if err != nil {
			return err
		}
		ledger.ConsumedBytes += r.Bytes
		if err := setJSON(txn, quotaKey(r.Principal), ledger); err != nil {
			return err
		}
		return txn.Delete(reservationKey(id))
	})
}

// ReleaseReservation drops a reservation without consuming.
func (s *BadgerMetadataStore) ReleaseReservation(ctx context.Context, id uuid.UUID) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var r metadata.Reservation
		err := getJSON(txn, reservationKey(id), &r)
		if errors.Is(err, errKeyNotFound) {
			return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "reservation not found", Path: id.String()}
		}
		if err != nil {
			return err
		}
		return txn.Delete(reservationKey(id))
	})
}

// ReleaseExpiredReservations drops reservations created before the cutoff.
func (s *BadgerMetadataStore) ReleaseExpiredReservations(ctx context.Context, before time.Time) (int, error) {
	count := 0
	err := s.update(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixReservation)

		it := txn.NewIterator(opts)
		defer it.Close()

		var expired [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			var r metadata.Reservation
			err := it.Item().Value(func(val []byte) error {
				return decodeJSON(val, &r)
			})
			if err != nil {
				return err
			}
			if r.CreatedAt.Before(before) {
				expired = append(expired, it.Item().KeyCopy(nil))
			}
		}
		for _, key := range expired {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		count = len(expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
