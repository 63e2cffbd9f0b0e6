// Package memory implements an in-memory blob store.
//
// Blobs live in a mutex-guarded map. Ephemeral by nature, it exists for
// tests and development and doubles as the reference semantics for the
// persistent backends.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/driftdrive/driftdrive/pkg/store/content"
	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// MemoryBlobStore implements content.BlobStore with in-memory maps. Safe for
// concurrent use.
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[metadata.ContentDigest]*blobEntry
}

type blobEntry struct {
	data      []byte
	refCount  int64
	zeroSince time.Time
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		blobs: make(map[metadata.ContentDigest]*blobEntry),
	}
}

// PutBlob stores data under its digest, deduplicating against existing
// content.
func (s *MemoryBlobStore) PutBlob(ctx context.Context, data []byte) (*content.BlobInfo, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	digest := content.DigestBytes(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.blobs[digest]; ok {
		e.refCount++
		e.zeroSince = time.Time{}
		return s.infoLocked(digest, e), true, nil
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	e := &blobEntry{data: stored, refCount: 1}
	s.blobs[digest] = e

	return s.infoLocked(digest, e), false, nil
}

// ReadBlob returns a reader over a copy of the blob's bytes.
func (s *MemoryBlobStore) ReadBlob(ctx context.Context, digest metadata.ContentDigest) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.blobs[digest]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", digest, content.ErrBlobMissing)
	}
	return io.NopCloser(bytes.NewReader(e.data)), nil
}

// StatBlob returns size and reference count without reading data.
func (s *MemoryBlobStore) StatBlob(ctx context.Context, digest metadata.ContentDigest) (*content.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.blobs[digest]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", digest, content.ErrBlobMissing)
	}
	return s.infoLocked(digest, e), nil
}

// IncRef increments the blob's reference count.
func (s *MemoryBlobStore) IncRef(ctx context.Context, digest metadata.ContentDigest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.blobs[digest]
	if !ok {
		return fmt.Errorf("blob %s: %w", digest, content.ErrBlobMissing)
	}
	e.refCount++
	e.zeroSince = time.Time{}
	return nil
}

// DecRef decrements the reference count. Reaching zero stamps the blob
// reclaimable; deletion waits for Sweep.
func (s *MemoryBlobStore) DecRef(ctx context.Context, digest metadata.ContentDigest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.blobs[digest]
	if !ok {
		return fmt.Errorf("blob %s: %w", digest, content.ErrBlobMissing)
	}
	if e.refCount == 0 {
		return fmt.Errorf("blob %s: %w", digest, content.ErrNegativeRefCount)
	}
	e.refCount--
	if e.refCount == 0 {
		e.zeroSince = time.Now()
	}
	return nil
}

// Sweep removes blobs whose reference count has been zero for at least
// grace.
func (s *MemoryBlobStore) Sweep(ctx context.Context, grace time.Duration) (*content.SweepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-grace)
	result := &content.SweepResult{}
	for digest, e := range s.blobs {
		if e.refCount > 0 {
			continue
		}
		if e.zeroSince.After(cutoff) {
			result.Skipped++
			continue
		}
		result.Removed++
		result.BytesReclaimed += uint64(len(e.data))
		delete(s.blobs, digest)
	}
	return result, nil
}

// Healthcheck always succeeds.
func (s *MemoryBlobStore) Healthcheck(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op for the in-memory store.
func (s *MemoryBlobStore) Close() error {
	return nil
}

func (s *MemoryBlobStore) infoLocked(digest metadata.ContentDigest, e *blobEntry) *content.BlobInfo {
	return &content.BlobInfo{
		Digest:    digest,
		Size:      uint64(len(e.data)),
		RefCount:  e.refCount,
		ZeroSince: e.zeroSince,
	}
}
