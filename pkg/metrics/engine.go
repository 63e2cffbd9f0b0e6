package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics provides observability for engine operations: namespace
// mutations, file reads and writes, sharing, and the background sweeper.
//
// This interface is optional - if not provided to the engine, operations
// proceed without metrics collection (zero overhead).
type EngineMetrics interface {
	// RecordOperation records a completed engine operation with its name,
	// duration, and outcome.
	RecordOperation(operation string, duration time.Duration, err error)

	// RecordDedupHit records an uploaded payload that was already present
	// in the content store, with the bytes that did not need storing.
	RecordDedupHit(bytes uint64)

	// RecordQuotaRejection records a write refused by quota admission.
	RecordQuotaRejection()

	// RecordSweep records the outcome of one background sweep cycle.
	RecordSweep(trashPurged int, versionsPruned int, blobsRemoved int, bytesReclaimed uint64)

	// RecordIntegrityError records a version whose blob was missing at read
	// time. These should never happen and always warrant investigation.
	RecordIntegrityError()
}

// engineMetrics is the Prometheus implementation of EngineMetrics.
type engineMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	dedupHitsTotal    prometheus.Counter
	dedupBytesTotal   prometheus.Counter
	quotaRejections   prometheus.Counter
	sweepsTotal       prometheus.Counter
	trashPurgedTotal  prometheus.Counter
	versionsPruned    prometheus.Counter
	blobsRemoved      prometheus.Counter
	bytesReclaimed    prometheus.Counter
	integrityErrors   prometheus.Counter
}

// NewEngineMetrics creates a new Prometheus-backed EngineMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewEngineMetrics() EngineMetrics {
	if !IsEnabled() {
		return &noopEngineMetrics{}
	}

	reg := GetRegistry()

	return &engineMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftdrive_engine_operations_total",
				Help: "Total number of engine operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "driftdrive_engine_operation_duration_seconds",
				Help: "Duration of engine operations in seconds",
				Buckets: []float64{
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.025,  // 25ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.25,   // 250ms
					0.5,    // 500ms
					1.0,    // 1s
					2.5,    // 2.5s
				},
			},
			[]string{"operation"},
		),
		dedupHitsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "driftdrive_engine_dedup_hits_total",
				Help: "Total number of uploads whose content was already stored",
			},
		),
		dedupBytesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "driftdrive_engine_dedup_bytes_total",
				Help: "Total bytes of uploads deduplicated against existing blobs",
			},
		),
		quotaRejections: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "driftdrive_engine_quota_rejections_total",
				Help: "Total number of writes refused by quota admission",
			},
		),
		sweepsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "driftdrive_sweeper_cycles_total",
				Help: "Total number of completed background sweep cycles",
			},
		),
		trashPurgedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "driftdrive_sweeper_trash_purged_total",
				Help: "Total number of trash entries purged by the sweeper",
			},
		),
		versionsPruned: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "driftdrive_sweeper_versions_pruned_total",
				Help: "Total number of file versions pruned by retention",
			},
		),
		blobsRemoved: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "driftdrive_sweeper_blobs_removed_total",
				Help: "Total number of unreferenced blobs reclaimed",
			},
		),
		bytesReclaimed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "driftdrive_sweeper_bytes_reclaimed_total",
				Help: "Total physical bytes reclaimed from the content store",
			},
		),
		integrityErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "driftdrive_engine_integrity_errors_total",
				Help: "Total number of reads that found a version's blob missing",
			},
		),
	}
}

func (m *engineMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *engineMetrics) RecordDedupHit(bytes uint64) {
	m.dedupHitsTotal.Inc()
	m.dedupBytesTotal.Add(float64(bytes))
}

func (m *engineMetrics) RecordQuotaRejection() {
	m.quotaRejections.Inc()
}

func (m *engineMetrics) RecordSweep(trashPurged int, versionsPruned int, blobsRemoved int, bytesReclaimed uint64) {
	m.sweepsTotal.Inc()
	m.trashPurgedTotal.Add(float64(trashPurged))
	m.versionsPruned.Add(float64(versionsPruned))
	m.blobsRemoved.Add(float64(blobsRemoved))
	m.bytesReclaimed.Add(float64(bytesReclaimed))
}

func (m *engineMetrics) RecordIntegrityError() {
	m.integrityErrors.Inc()
}

// noopEngineMetrics is a no-op implementation of EngineMetrics with zero
// overhead.
type noopEngineMetrics struct{}

func (noopEngineMetrics) RecordOperation(operation string, duration time.Duration, err error) {}
func (noopEngineMetrics) RecordDedupHit(bytes uint64)                                         {}
func (noopEngineMetrics) RecordQuotaRejection()                                               {}
func (noopEngineMetrics) RecordSweep(trashPurged, versionsPruned, blobsRemoved int, bytesReclaimed uint64) {
}
func (noopEngineMetrics) RecordIntegrityError() {}
