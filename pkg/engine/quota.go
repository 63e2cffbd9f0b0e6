package engine

import (
	"context"
	"time"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// Usage returns a principal's quota ledger, creating it with the default
// limit on first use.
func (e *Engine) Usage(ctx context.Context, p metadata.Principal) (ledger *metadata.QuotaLedger, err error) {
	defer e.instrument("Usage", time.Now(), &err)
	return e.meta.EnsureQuota(ctx, p, e.policy.DefaultQuotaBytes)
}

// SetQuotaLimit updates a principal's byte limit. 0 means unlimited.
// Lowering the limit below current consumption does not evict anything; it
// only blocks further writes until usage drops.
func (e *Engine) SetQuotaLimit(ctx context.Context, p metadata.Principal, limitBytes uint64) (err error) {
	defer e.instrument("SetQuotaLimit", time.Now(), &err)
	return e.meta.SetQuotaLimit(ctx, p, limitBytes)
}
