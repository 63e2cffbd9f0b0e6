// Package engine is the storage and metadata consistency engine: the
// operation surface that protocol adapters call to work with the namespace,
// file content, versions, trash, share links, and quotas.
//
// The engine owns the choreography that spans both stores. Single-store
// operations delegate to one atomic MetadataStore call; writes that touch
// content go through reserve -> put blob -> commit version -> commit
// reservation, rolling back the reservation and the blob reference on any
// failure so no partial state survives. The engine never retries: every
// error is surfaced typed to the caller, who can re-read and decide.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/driftdrive/driftdrive/internal/logger"
	"github.com/driftdrive/driftdrive/pkg/metrics"
	"github.com/driftdrive/driftdrive/pkg/store/content"
	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// Policy carries the injected product configuration the engine consults. The
// zero value disables every background behavior and leaves quotas unlimited.
type Policy struct {
	// DefaultQuotaBytes is the limit applied when a principal's ledger is
	// first created. 0 means unlimited.
	DefaultQuotaBytes uint64

	// TrashRetention is how long trashed entries stay restorable before the
	// sweeper purges them. 0 disables automatic purging.
	TrashRetention time.Duration

	// VersionMaxCount keeps at most this many versions per file (the
	// current version always survives). 0 disables count-based pruning.
	VersionMaxCount int

	// VersionMaxAge prunes non-current versions older than this. 0 disables
	// age-based pruning.
	VersionMaxAge time.Duration

	// SweepInterval is the cadence of the background sweeper. 0 disables
	// the sweeper entirely.
	SweepInterval time.Duration

	// BlobGrace is how long a blob's reference count must have been zero
	// before a sweep physically removes it.
	BlobGrace time.Duration

	// ReservationExpiry is the age after which an unsettled quota
	// reservation is considered abandoned and released by the sweeper.
	ReservationExpiry time.Duration
}

// Engine coordinates a MetadataStore and a BlobStore behind one consistent
// operation surface.
type Engine struct {
	meta    metadata.MetadataStore
	blobs   content.BlobStore
	policy  Policy
	metrics metrics.EngineMetrics
	events  *eventBus

	sweeperStop chan struct{}
	sweeperDone chan struct{}
}

// New creates an engine over the given stores. Metrics may be nil.
//
// The background sweeper is not started; call StartSweeper once the process
// is ready to run maintenance.
func New(meta metadata.MetadataStore, blobs content.BlobStore, policy Policy, m metrics.EngineMetrics) *Engine {
	if m == nil {
		m = metrics.NewEngineMetrics()
	}

	return &Engine{
		meta:    meta,
		blobs:   blobs,
		policy:  policy,
		metrics: m,
		events:  newEventBus(),
	}
}

// Healthcheck verifies both backing stores can serve requests.
func (e *Engine) Healthcheck(ctx context.Context) error {
	if err := e.meta.Healthcheck(ctx); err != nil {
		return fmt.Errorf("metadata store unhealthy: %w", err)
	}
	if err := e.blobs.Healthcheck(ctx); err != nil {
		return fmt.Errorf("content store unhealthy: %w", err)
	}
	return nil
}

// Close stops the sweeper, closes the event bus, and closes both stores.
func (e *Engine) Close() error {
	e.StopSweeper()
	e.events.close()

	var firstErr error
	if err := e.meta.Close(); err != nil {
		firstErr = err
	}
	if err := e.blobs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// instrument records the operation's duration and outcome, and logs
// failures at debug level. Call it deferred with a pointer to the named
// error result.
func (e *Engine) instrument(op string, start time.Time, err *error) {
	e.metrics.RecordOperation(op, time.Since(start), *err)
	if *err != nil {
		logger.Debug("%s failed: %v", op, *err)
	}
}
