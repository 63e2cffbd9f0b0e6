package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// EnsureQuota creates the principal's ledger with the given limit if absent.
func (s *MemoryMetadataStore) EnsureQuota(ctx context.Context, p metadata.Principal, limitBytes uint64) (*metadata.QuotaLedger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ledger := s.ledgerLocked(p, limitBytes)
	c := *ledger
	return &c, nil
}

// ledgerLocked returns the principal's ledger, creating it with the given
// limit if missing. Callers must hold the mutex.
func (s *MemoryMetadataStore) ledgerLocked(p metadata.Principal, limitBytes uint64) *metadata.QuotaLedger {
	if l, ok := s.ledgers[p]; ok {
		return l
	}
	l := &metadata.QuotaLedger{Principal: p, LimitBytes: limitBytes}
	s.ledgers[p] = l
	return l
}

// creditLedgerLocked reduces consumption when versions are pruned or purged,
// clamping at zero. Callers must hold the mutex.
func (s *MemoryMetadataStore) creditLedgerLocked(p metadata.Principal, bytes uint64) {
	l, ok := s.ledgers[p]
	if !ok {
		return
	}
	if l.ConsumedBytes < bytes {
		l.ConsumedBytes = 0
		return
	}
	l.ConsumedBytes -= bytes
}

// SetQuotaLimit updates the principal's limit, creating the ledger if
// needed. 0 means unlimited.
func (s *MemoryMetadataStore) SetQuotaLimit(ctx context.Context, p metadata.Principal, limitBytes uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledgerLocked(p, limitBytes).LimitBytes = limitBytes
	return nil
}

// GetQuota returns the principal's ledger.
func (s *MemoryMetadataStore) GetQuota(ctx context.Context, p metadata.Principal) (*metadata.QuotaLedger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[p]
	if !ok {
		return nil, &metadata.StoreError{Code: metadata.ErrNotFound, Message: "no quota ledger for principal", Path: string(p)}
	}
	c := *l
	return &c, nil
}

// Reserve places a provisional hold on quota capacity. The admission check
// counts pending reservations, so two concurrent reservations that would
// jointly exceed the limit cannot both succeed.
func (s *MemoryMetadataStore) Reserve(ctx context.Context, p metadata.Principal, bytes uint64, now time.Time) (*metadata.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ledger := s.ledgerLocked(p, 0)
	if ledger.LimitBytes > 0 {
		var pending uint64
		for _, r := range s.reservations {
			if r.Principal == p {
				pending += r.Bytes
			}
		}
		if ledger.ConsumedBytes+pending+bytes > ledger.LimitBytes {
			return nil, &metadata.StoreError{Code: metadata.ErrQuotaExceeded, Message: "storage quota exceeded", Path: string(p)}
		}
	}

	r := &metadata.Reservation{
		ID:        uuid.New(),
		Principal: p,
		Bytes:     bytes,
		CreatedAt: now,
	}
	s.reservations[r.ID] = r

	c := *r
	return &c, nil
}

// CommitReservation converts a reservation into permanent consumption.
func (s *MemoryMetadataStore) CommitReservation(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "reservation not found", Path: id.String()}
	}

	s.ledgerLocked(r.Principal, 0).ConsumedBytes += r.Bytes
	delete(s.reservations, id)
	return nil
}

// ReleaseReservation drops a reservation without consuming.
func (s *MemoryMetadataStore) ReleaseReservation(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[id]; !ok {
		return &metadata.StoreError{Code: metadata.ErrNotFound, Message: "reservation not found", Path: id.String()}
	}
	delete(s.reservations, id)
	return nil
}

// ReleaseExpiredReservations drops reservations created before the cutoff.
func (s *MemoryMetadataStore) ReleaseExpiredReservations(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, r := range s.reservations {
		if r.CreatedAt.Before(before) {
			delete(s.reservations, id)
			count++
		}
	}
	return count, nil
}
