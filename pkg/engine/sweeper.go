package engine

import (
	"context"
	"time"

	"github.com/driftdrive/driftdrive/internal/logger"
)

// StartSweeper launches the background maintenance loop: purging expired
// trash, pruning versions by retention, releasing abandoned quota
// reservations, and reclaiming unreferenced blobs. No-op when the policy
// disables the sweeper.
//
// Call StopSweeper (or Close) to stop it. Starting twice panics.
func (e *Engine) StartSweeper() {
	if e.policy.SweepInterval <= 0 {
		logger.Info("Background sweeper disabled")
		return
	}
	if e.sweeperStop != nil {
		panic("engine: sweeper already started")
	}

	e.sweeperStop = make(chan struct{})
	e.sweeperDone = make(chan struct{})
	logger.Info("Background sweeper started: interval=%v trash_retention=%v blob_grace=%v",
		e.policy.SweepInterval, e.policy.TrashRetention, e.policy.BlobGrace)

	go func() {
		defer close(e.sweeperDone)
		ticker := time.NewTicker(e.policy.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-e.sweeperStop:
				return
			case <-ticker.C:
				e.RunSweep(context.Background())
			}
		}
	}()
}

// StopSweeper stops the background loop and waits for an in-flight cycle to
// finish. Safe to call when the sweeper never started.
func (e *Engine) StopSweeper() {
	if e.sweeperStop == nil {
		return
	}
	close(e.sweeperStop)
	<-e.sweeperDone
	e.sweeperStop = nil
	e.sweeperDone = nil
}

// RunSweep executes one maintenance cycle immediately. The sweeper calls
// this on its ticker; tests and admin tooling can call it directly.
//
// Each stage is independent: a failure in one is logged and the remaining
// stages still run, since skipping maintenance only delays reclamation.
func (e *Engine) RunSweep(ctx context.Context) {
	now := time.Now()
	trashPurged := e.sweepTrash(ctx, now)
	versionsPruned := e.sweepVersions(ctx, now)
	e.sweepReservations(ctx, now)
	blobsRemoved, bytesReclaimed := e.sweepBlobs(ctx)

	e.metrics.RecordSweep(trashPurged, versionsPruned, blobsRemoved, bytesReclaimed)
	logger.Debug("Sweep cycle done: trash_purged=%d versions_pruned=%d blobs_removed=%d bytes_reclaimed=%d",
		trashPurged, versionsPruned, blobsRemoved, bytesReclaimed)
}

func (e *Engine) sweepTrash(ctx context.Context, now time.Time) int {
	if e.policy.TrashRetention <= 0 {
		return 0
	}

	expired, err := e.meta.ExpiredTrashRoots(ctx, now.Add(-e.policy.TrashRetention))
	if err != nil {
		logger.Warn("Sweep: failed to list expired trash: %v", err)
		return 0
	}

	purged := 0
	for _, id := range expired {
		if _, err := e.purgeAndReclaim(ctx, id); err != nil {
			logger.Warn("Sweep: failed to purge trash entry %s: %v", id, err)
			continue
		}
		purged++
	}
	return purged
}

func (e *Engine) sweepVersions(ctx context.Context, now time.Time) int {
	if e.policy.VersionMaxCount <= 0 && e.policy.VersionMaxAge <= 0 {
		return 0
	}

	var olderThan time.Time
	if e.policy.VersionMaxAge > 0 {
		olderThan = now.Add(-e.policy.VersionMaxAge)
	}

	pruned, err := e.meta.PruneAllVersions(ctx, e.policy.VersionMaxCount, olderThan)
	if err != nil {
		logger.Warn("Sweep: version pruning failed: %v", err)
		return 0
	}
	for _, v := range pruned {
		if err := e.blobs.DecRef(ctx, v.Digest); err != nil {
			logger.Warn("Sweep: failed to release blob reference %s for pruned version %s: %v", v.Digest, v.ID, err)
		}
	}
	return len(pruned)
}

func (e *Engine) sweepReservations(ctx context.Context, now time.Time) {
	if e.policy.ReservationExpiry <= 0 {
		return
	}

	released, err := e.meta.ReleaseExpiredReservations(ctx, now.Add(-e.policy.ReservationExpiry))
	if err != nil {
		logger.Warn("Sweep: failed to release expired reservations: %v", err)
		return
	}
	if released > 0 {
		logger.Info("Sweep: released %d abandoned quota reservations", released)
	}
}

func (e *Engine) sweepBlobs(ctx context.Context) (int, uint64) {
	result, err := e.blobs.Sweep(ctx, e.policy.BlobGrace)
	if err != nil {
		logger.Warn("Sweep: blob reclamation failed: %v", err)
		return 0, 0
	}
	return result.Removed, result.BytesReclaimed
}
