// Package s3 implements blob storage on Amazon S3 or any S3-compatible
// object store (MinIO, Cubbit DS3, LocalStack).
//
// Key Layout:
//   - Blob bytes:  <prefix>blobs/<digest>
//   - Ref records: <prefix>refs/<digest>  (small JSON documents)
//
// Reference counts are read-modify-write on the ref object. S3 offers no
// atomic compare-and-swap, so this store assumes a single engine process
// owns the bucket's reference counts; the engine already serializes ref
// updates per blob, which is enough for that deployment shape.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/driftdrive/driftdrive/pkg/store/content"
	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// S3BlobStore implements content.BlobStore on an S3 bucket.
//
// Thread Safety:
// Safe for concurrent use within one process. Ref record updates are guarded
// by a mutex; concurrent processes sharing a bucket would race on them.
type S3BlobStore struct {
	client    *s3.Client
	bucket    string
	keyPrefix string

	// refMu serializes ref record read-modify-write cycles.
	refMu sync.Mutex
}

// S3BlobStoreConfig contains configuration for the S3 blob store.
type S3BlobStoreConfig struct {
	// Client is the configured S3 client.
	Client *s3.Client

	// Bucket is the S3 bucket name. It must already exist.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys.
	// Example: "driftdrive/" results in keys like "driftdrive/blobs/abc123".
	KeyPrefix string
}

// refRecord is the JSON body of a ref object.
type refRecord struct {
	Size              uint64 `json:"size"`
	RefCount          int64  `json:"ref_count"`
	ZeroSinceUnixNano int64  `json:"zero_since_unix_nano"`
}

// NewS3BlobStore creates an S3-backed blob store and verifies bucket access.
func NewS3BlobStore(ctx context.Context, cfg S3BlobStoreConfig) (*S3BlobStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3BlobStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (s *S3BlobStore) blobKey(digest metadata.ContentDigest) string {
	return s.keyPrefix + "blobs/" + string(digest)
}

func (s *S3BlobStore) refKey(digest metadata.ContentDigest) string {
	return s.keyPrefix + "refs/" + string(digest)
}

// readRef fetches and decodes a blob's ref record. Callers must hold refMu.
func (s *S3BlobStore) readRef(ctx context.Context, digest metadata.ContentDigest) (*refRecord, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.refKey(digest)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("blob %s: %w", digest, content.ErrBlobMissing)
		}
		return nil, fmt.Errorf("failed to get ref record: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ref record: %w", err)
	}
	var rec refRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt ref record for %s: %w", digest, err)
	}
	return &rec, nil
}

// writeRef uploads a blob's ref record. Callers must hold refMu.
func (s *S3BlobStore) writeRef(ctx context.Context, digest metadata.ContentDigest, rec *refRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode ref record: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.refKey(digest)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put ref record: %w", err)
	}
	return nil
}

// PutBlob uploads data under its digest, or increments the reference count
// when the digest already exists.
func (s *S3BlobStore) PutBlob(ctx context.Context, data []byte) (*content.BlobInfo, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	digest := content.DigestBytes(data)

	s.refMu.Lock()
	defer s.refMu.Unlock()

	rec, err := s.readRef(ctx, digest)
	switch {
	case err == nil:
		rec.RefCount++
		rec.ZeroSinceUnixNano = 0
		if err := s.writeRef(ctx, digest, rec); err != nil {
			return nil, false, err
		}
		return refInfo(digest, rec), true, nil
	case errors.Is(err, content.ErrBlobMissing):
		// New content, fall through to upload.
	default:
		return nil, false, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.blobKey(digest)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to upload blob %s: %w", digest, err)
	}

	rec = &refRecord{Size: uint64(len(data)), RefCount: 1}
	if err := s.writeRef(ctx, digest, rec); err != nil {
		return nil, false, err
	}

	return refInfo(digest, rec), false, nil
}

// ReadBlob streams the blob's bytes from S3.
func (s *S3BlobStore) ReadBlob(ctx context.Context, digest metadata.ContentDigest) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.blobKey(digest)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("blob %s: %w", digest, content.ErrBlobMissing)
		}
		return nil, fmt.Errorf("failed to get blob %s: %w", digest, err)
	}
	return out.Body, nil
}

// StatBlob returns size and reference count from the ref record.
func (s *S3BlobStore) StatBlob(ctx context.Context, digest metadata.ContentDigest) (*content.BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.refMu.Lock()
	defer s.refMu.Unlock()

	rec, err := s.readRef(ctx, digest)
	if err != nil {
		return nil, err
	}
	return refInfo(digest, rec), nil
}

// IncRef increments the blob's reference count.
func (s *S3BlobStore) IncRef(ctx context.Context, digest metadata.ContentDigest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.refMu.Lock()
	defer s.refMu.Unlock()

	rec, err := s.readRef(ctx, digest)
	if err != nil {
		return err
	}
	rec.RefCount++
	rec.ZeroSinceUnixNano = 0
	return s.writeRef(ctx, digest, rec)
}

// DecRef decrements the reference count, stamping the zero instant when it
// bottoms out.
func (s *S3BlobStore) DecRef(ctx context.Context, digest metadata.ContentDigest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.refMu.Lock()
	defer s.refMu.Unlock()

	rec, err := s.readRef(ctx, digest)
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
	return s.writeRef(ctx, digest, rec)
}

// Sweep lists ref records and deletes blobs whose count has been zero past
// the grace window.
func (s *S3BlobStore) Sweep(ctx context.Context, grace time.Duration) (*content.SweepResult, error) {
	cutoff := time.Now().Add(-grace).UnixNano()
	result := &content.SweepResult{}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix + "refs/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to list ref records: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			digest := metadata.ContentDigest(key[len(s.keyPrefix)+len("refs/"):])

			s.refMu.Lock()
			rec, err := s.readRef(ctx, digest)
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

			if err := s.deleteObject(ctx, s.blobKey(digest)); err != nil {
				s.refMu.Unlock()
				return result, err
			}
			if err := s.deleteObject(ctx, s.refKey(digest)); err != nil {
				s.refMu.Unlock()
				return result, err
			}
			result.Removed++
			result.BytesReclaimed += rec.Size
			s.refMu.Unlock()
		}
	}

	return result, nil
}

func (s *S3BlobStore) deleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Healthcheck verifies the bucket is still reachable.
func (s *S3BlobStore) Healthcheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %q unavailable: %w", s.bucket, err)
	}
	return nil
}

// Close is a no-op; the S3 client has no resources to release.
func (s *S3BlobStore) Close() error {
	return nil
}

func isNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
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
