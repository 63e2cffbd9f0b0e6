// Package fs implements filesystem-backed blob storage.
//
// Blob bytes live under <base>/blobs/<aa>/<digest>, where <aa> is the first
// two hex characters of the digest (fan-out keeps directories small).
// Reference counts live in sidecar JSON files under <base>/refs/<digest>.
// Writes go to a temp file first and are moved into place with rename, so a
// crash can leave stray temp files but never a half-written blob.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/driftdrive/driftdrive/pkg/store/content"
	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// FSBlobStore implements content.BlobStore on the local filesystem.
//
// Thread Safety:
// Blob bytes are written once and never mutated, so reads need no locking.
// Reference count files are read-modify-write and are guarded by a single
// mutex; ref updates are short and purely local, so the coarse lock is not a
// bottleneck.
type FSBlobStore struct {
	basePath string

	// refMu serializes refcount file updates.
	refMu sync.Mutex
}

// refRecord is the sidecar file format for one blob's bookkeeping.
type refRecord struct {
	Size     uint64 `json:"size"`
	RefCount int64  `json:"ref_count"`

	// ZeroSinceUnixNano is when the count last hit zero; 0 while referenced.
	ZeroSinceUnixNano int64 `json:"zero_since_unix_nano"`
}

// NewFSBlobStore creates a filesystem blob store rooted at basePath,
// creating the directory layout if needed.
func NewFSBlobStore(ctx context.Context, basePath string) (*FSBlobStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, dir := range []string{basePath, filepath.Join(basePath, "blobs"), filepath.Join(basePath, "refs"), filepath.Join(basePath, "tmp")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create blob store directory: %w", err)
		}
	}

	return &FSBlobStore{basePath: basePath}, nil
}

func (s *FSBlobStore) blobPath(digest metadata.ContentDigest) string {
	d := string(digest)
	return filepath.Join(s.basePath, "blobs", d[:2], d)
}

func (s *FSBlobStore) refPath(digest metadata.ContentDigest) string {
	return filepath.Join(s.basePath, "refs", string(digest))
}

func validDigest(digest metadata.ContentDigest) error {
	if !digestPattern.MatchString(string(digest)) {
		return fmt.Errorf("%q: %w", digest, content.ErrInvalidDigest)
	}
	return nil
}

// readRef loads a blob's sidecar record. Callers must hold refMu.
func (s *FSBlobStore) readRef(digest metadata.ContentDigest) (*refRecord, error) {
	data, err := os.ReadFile(s.refPath(digest))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("blob %s: %w", digest, content.ErrBlobMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ref file: %w", err)
	}
	var rec refRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt ref file for %s: %w", digest, err)
	}
	return &rec, nil
}

// writeRef persists a blob's sidecar record. Callers must hold refMu.
func (s *FSBlobStore) writeRef(digest metadata.ContentDigest, rec *refRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode ref record: %w", err)
	}
	if err := os.WriteFile(s.refPath(digest), data, 0644); err != nil {
		return fmt.Errorf("failed to write ref file: %w", err)
	}
	return nil
}

// PutBlob stores data under its digest. Existing digests are not rewritten;
// their reference count is incremented instead.
func (s *FSBlobStore) PutBlob(ctx context.Context, data []byte) (*content.BlobInfo, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	digest := content.DigestBytes(data)

	s.refMu.Lock()
	defer s.refMu.Unlock()

	rec, err := s.readRef(digest)
	switch {
	case err == nil:
		rec.RefCount++
		rec.ZeroSinceUnixNano = 0
		if err := s.writeRef(digest, rec); err != nil {
			return nil, false, err
		}
		return refInfo(digest, rec), true, nil
	case !errors.Is(err, content.ErrBlobMissing):
		// A corrupt or unreadable ref file must not be mistaken for absent
		// content, or the rewrite would reset the blob's reference count.
		return nil, false, err
	}

	// New content: spool to a temp file, fsync, then rename into place so a
	// partially written blob is never visible under its digest.
	tmp, err := os.CreateTemp(filepath.Join(s.basePath, "tmp"), "put-*")
	if err != nil {
		return nil, false, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, false, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, false, fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, false, fmt.Errorf("failed to close blob: %w", err)
	}

	target := s.blobPath(digest)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		os.Remove(tmpName)
		return nil, false, fmt.Errorf("failed to create fan-out directory: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return nil, false, fmt.Errorf("failed to move blob into place: %w", err)
	}

	rec = &refRecord{Size: uint64(len(data)), RefCount: 1}
	if err := s.writeRef(digest, rec); err != nil {
		return nil, false, err
	}

	return refInfo(digest, rec), false, nil
}

// ReadBlob opens the blob's bytes for sequential reading.
func (s *FSBlobStore) ReadBlob(ctx context.Context, digest metadata.ContentDigest) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validDigest(digest); err != nil {
		return nil, err
	}

	f, err := os.Open(s.blobPath(digest))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("blob %s: %w", digest, content.ErrBlobMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// StatBlob returns size and reference count from the sidecar record.
func (s *FSBlobStore) StatBlob(ctx context.Context, digest metadata.ContentDigest) (*content.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validDigest(digest); err != nil {
		return nil, err
	}

	s.refMu.Lock()
	defer s.refMu.Unlock()

	rec, err := s.readRef(digest)
	if err != nil {
		return nil, err
	}
	return refInfo(digest, rec), nil
}

// IncRef increments the blob's reference count.
func (s *FSBlobStore) IncRef(ctx context.Context, digest metadata.ContentDigest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validDigest(digest); err != nil {
		return err
	}

	s.refMu.Lock()
	defer s.refMu.Unlock()

	rec, err := s.readRef(digest)
	if err != nil {
		return err
	}
	rec.RefCount++
	rec.ZeroSinceUnixNano = 0
	return s.writeRef(digest, rec)
}

// DecRef decrements the reference count, stamping the zero instant when it
// bottoms out.
func (s *FSBlobStore) DecRef(ctx context.Context, digest metadata.ContentDigest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validDigest(digest); err != nil {
		return err
	}

	s.refMu.Lock()
	defer s.refMu.Unlock()

	rec, err := s.readRef(digest)
	if err != nil {
		return err
	}
	if rec.RefCount == 0 {
		return fmt.Errorf("blob %s: %w", digest, content.ErrNegativeRefCount)
	}
	rec.RefCount--
	if rec.RefCount == 0 {
		rec.ZeroSinceUnixNano = time.Now().UnixNano()
	}
	return s.writeRef(digest, rec)
}

// Sweep scans the refs directory and removes blobs whose count has been zero
// past the grace window, re-checking each record under the lock right before
// deleting.
func (s *FSBlobStore) Sweep(ctx context.Context, grace time.Duration) (*content.SweepResult, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, "refs"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan refs directory: %w", err)
	}

	cutoff := time.Now().Add(-grace).UnixNano()
	result := &content.SweepResult{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		digest := metadata.ContentDigest(entry.Name())
		if validDigest(digest) != nil {
			continue
		}

		s.refMu.Lock()
		rec, err := s.readRef(digest)
		if err != nil {
			s.refMu.Unlock()
			continue
		}
		if rec.RefCount > 0 {
			s.refMu.Unlock()
			continue
		}
		if rec.ZeroSinceUnixNano == 0 || rec.ZeroSinceUnixNano > cutoff {
			result.Skipped++
			s.refMu.Unlock()
			continue
		}

		if err := os.Remove(s.blobPath(digest)); err != nil && !os.IsNotExist(err) {
			s.refMu.Unlock()
			return result, fmt.Errorf("failed to remove blob %s: %w", digest, err)
		}
		if err := os.Remove(s.refPath(digest)); err != nil {
			s.refMu.Unlock()
			return result, fmt.Errorf("failed to remove ref file %s: %w", digest, err)
		}
		result.Removed++
		result.BytesReclaimed += rec.Size
		s.refMu.Unlock()
	}

	return result, nil
}

// Healthcheck verifies the base directory is accessible.
func (s *FSBlobStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.basePath); err != nil {
		return fmt.Errorf("blob store base path unavailable: %w", err)
	}
	return nil
}

// Close is a no-op; the store holds no long-lived descriptors.
func (s *FSBlobStore) Close() error {
	return nil
}

func refInfo(digest metadata.ContentDigest, rec *refRecord) *content.BlobInfo {
	info := &content.BlobInfo{
		Digest:   digest,
		Size:     rec.Size,
		RefCount: rec.RefCount,
	}
	if rec.ZeroSinceUnixNano != 0 {
		info.ZeroSince = time.Unix(0, rec.ZeroSinceUnixNano)
	}
	return info
}
