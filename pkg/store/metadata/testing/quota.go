package testing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// RunQuotaTests executes quota ledger and reservation tests.
func (suite *MetadataStoreTestSuite) RunQuotaTests(t *testing.T) {
	t.Run("EnsureIsIdempotent", suite.testQuotaEnsure)
	t.Run("SetLimit", suite.testQuotaSetLimit)
	t.Run("GetMissing", suite.testQuotaGetMissing)
	t.Run("ReserveAndCommit", suite.testQuotaReserveCommit)
	t.Run("ReserveCountsPending", suite.testQuotaPending)
	t.Run("UnlimitedAlwaysAdmits", suite.testQuotaUnlimited)
	t.Run("ReleaseReservation", suite.testQuotaRelease)
	t.Run("ReleaseExpiredReservations", suite.testQuotaReleaseExpired)
}

func (suite *MetadataStoreTestSuite) testQuotaEnsure(t *testing.T) {
	store := suite.NewStore(t)

	ledger, err := store.EnsureQuota(testContext(), testOwner, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), ledger.LimitBytes)
	assert.Equal(t, uint64(0), ledger.ConsumedBytes)

	again, err := store.EnsureQuota(testContext(), testOwner, 5000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), again.LimitBytes, "second ensure must not overwrite the limit")
}

func (suite *MetadataStoreTestSuite) testQuotaSetLimit(t *testing.T) {
	store := suite.NewStore(t)
	_, err := store.EnsureQuota(testContext(), testOwner, 1000)
	require.NoError(t, err)

	require.NoError(t, store.SetQuotaLimit(testContext(), testOwner, 2000))

	ledger, err := store.GetQuota(testContext(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), ledger.LimitBytes)

	// Setting the limit on a principal without a ledger creates one.
	require.NoError(t, store.SetQuotaLimit(testContext(), "bob", 500))
	bob, err := store.GetQuota(testContext(), "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), bob.LimitBytes)
}

func (suite *MetadataStoreTestSuite) testQuotaGetMissing(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.GetQuota(testContext(), "nobody")
	assertCode(t, err, metadata.ErrNotFound)
}

func (suite *MetadataStoreTestSuite) testQuotaReserveCommit(t *testing.T) {
	store := suite.NewStore(t)
	_, err := store.EnsureQuota(testContext(), testOwner, 100)
	require.NoError(t, err)

	res, err := store.Reserve(testContext(), testOwner, 60, time.Now())
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, res.ID)
	assert.Equal(t, uint64(60), res.Bytes)

	require.NoError(t, store.CommitReservation(testContext(), res.ID))

	ledger, err := store.GetQuota(testContext(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, uint64(60), ledger.ConsumedBytes)

	// A committed reservation is gone; committing twice must fail.
	err = store.CommitReservation(testContext(), res.ID)
	assertCode(t, err, metadata.ErrNotFound)

	_, err = store.Reserve(testContext(), testOwner, 50, time.Now())
	assertCode(t, err, metadata.ErrQuotaExceeded)
}

func (suite *MetadataStoreTestSuite) testQuotaPending(t *testing.T) {
	store := suite.NewStore(t)
	_, err := store.EnsureQuota(testContext(), testOwner, 100)
	require.NoError(t, err)

	_, err = store.Reserve(testContext(), testOwner, 70, time.Now())
	require.NoError(t, err)

	// 70 of the 100 is held even though nothing is consumed yet.
	_, err = store.Reserve(testContext(), testOwner, 40, time.Now())
	assertCode(t, err, metadata.ErrQuotaExceeded)

	_, err = store.Reserve(testContext(), testOwner, 30, time.Now())
	require.NoError(t, err)
}

func (suite *MetadataStoreTestSuite) testQuotaUnlimited(t *testing.T) {
	store := suite.NewStore(t)
	_, err := store.EnsureQuota(testContext(), testOwner, 0)
	require.NoError(t, err)

	res, err := store.Reserve(testContext(), testOwner, 1<<40, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.CommitReservation(testContext(), res.ID))

	_, err = store.Reserve(testContext(), testOwner, 1<<40, time.Now())
	require.NoError(t, err)
}

func (suite *MetadataStoreTestSuite) testQuotaRelease(t *testing.T) {
	store := suite.NewStore(t)
	_, err := store.EnsureQuota(testContext(), testOwner, 100)
	require.NoError(t, err)

	res, err := store.Reserve(testContext(), testOwner, 100, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.ReleaseReservation(testContext(), res.ID))

	ledger, err := store.GetQuota(testContext(), testOwner)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ledger.ConsumedBytes, "released reservations never consume")

	_, err = store.Reserve(testContext(), testOwner, 100, time.Now())
	require.NoError(t, err)

	err = store.ReleaseReservation(testContext(), uuid.New())
	assertCode(t, err, metadata.ErrNotFound)
}

func (suite *MetadataStoreTestSuite) testQuotaReleaseExpired(t *testing.T) {
	store := suite.NewStore(t)
	_, err := store.EnsureQuota(testContext(), testOwner, 100)
	require.NoError(t, err)

	now := time.Now()
	_, err = store.Reserve(testContext(), testOwner, 50, now.Add(-2*time.Hour))
	require.NoError(t, err)
	fresh, err := store.Reserve(testContext(), testOwner, 50, now)
	require.NoError(t, err)

	released, err := store.ReleaseExpiredReservations(testContext(), now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	// The stale hold is gone, so its capacity is available again.
	_, err = store.Reserve(testContext(), testOwner, 50, now)
	require.NoError(t, err)

	require.NoError(t, store.CommitReservation(testContext(), fresh.ID))
}
