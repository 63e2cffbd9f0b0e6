package testing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// RunShareTokenTests executes share token record tests.
func (suite *MetadataStoreTestSuite) RunShareTokenTests(t *testing.T) {
	t.Run("PutAndGet", suite.testTokenPutAndGet)
	t.Run("WritePermissionRoundTrip", suite.testTokenWritePermission)
	t.Run("UnknownSecret", suite.testTokenUnknown)
	t.Run("EmptySecretRejected", suite.testTokenEmptySecret)
	t.Run("RevokeIsIdempotent", suite.testTokenRevoke)
	t.Run("ListByIssuer", suite.testTokenList)
}

func newTestToken(secret string, nodeID uuid.UUID, issuedAt time.Time) *metadata.ShareToken {
	return &metadata.ShareToken{
		Secret:     secret,
		NodeID:     nodeID,
		Permission: metadata.PermissionRead,
		Issuer:     testOwner,
		IssuedAt:   issuedAt,
	}
}

func (suite *MetadataStoreTestSuite) testTokenPutAndGet(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	file := mustFile(t, store, root, "shared.txt", "data")

	token := newTestToken("secret-abc", file.ID, time.Now())
	require.NoError(t, store.PutShareToken(testContext(), token))

	got, err := store.GetShareToken(testContext(), "secret-abc")
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.NodeID)
	assert.Equal(t, metadata.PermissionRead, got.Permission)
	assert.False(t, got.Revoked)
	assert.True(t, got.ExpiresAt.IsZero(), "no expiry means the zero time")
}

func (suite *MetadataStoreTestSuite) testTokenWritePermission(t *testing.T) {
	store := suite.NewStore(t)
	root := mustRoot(t, store)
	file := mustFile(t, store, root, "editable.txt", "data")

	token := newTestToken("secret-rw", file.ID, time.Now())
	token.Permission = metadata.PermissionWrite
	require.NoError(t, store.PutShareToken(testContext(), token))

	got, err := store.GetShareToken(testContext(), "secret-rw")
	require.NoError(t, err)
	assert.Equal(t, metadata.PermissionWrite, got.Permission)
	assert.True(t, got.Permission.CanWrite())
}

func (suite *MetadataStoreTestSuite) testTokenUnknown(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.GetShareToken(testContext(), "never-issued")
	assertCode(t, err, metadata.ErrTokenInvalid)
}

func (suite *MetadataStoreTestSuite) testTokenEmptySecret(t *testing.T) {
	store := suite.NewStore(t)

	err := store.PutShareToken(testContext(), newTestToken("", uuid.New(), time.Now()))
	assertCode(t, err, metadata.ErrInvalidArgument)
}

func (suite *MetadataStoreTestSuite) testTokenRevoke(t *testing.T) {
	store := suite.NewStore(t)
	require.NoError(t, store.PutShareToken(testContext(), newTestToken("revocable", uuid.New(), time.Now())))

	require.NoError(t, store.RevokeShareToken(testContext(), "revocable"))
	require.NoError(t, store.RevokeShareToken(testContext(), "revocable"))

	got, err := store.GetShareToken(testContext(), "revocable")
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	err = store.RevokeShareToken(testContext(), "never-issued")
	assertCode(t, err, metadata.ErrTokenInvalid)
}

func (suite *MetadataStoreTestSuite) testTokenList(t *testing.T) {
	store := suite.NewStore(t)
	base := time.Now()
	require.NoError(t, store.PutShareToken(testContext(), newTestToken("older", uuid.New(), base.Add(-time.Hour))))
	require.NoError(t, store.PutShareToken(testContext(), newTestToken("newer", uuid.New(), base)))

	other := newTestToken("foreign", uuid.New(), base)
	other.Issuer = "bob"
	require.NoError(t, store.PutShareToken(testContext(), other))

	tokens, err := store.ListShareTokens(testContext(), testOwner)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "newer", tokens[0].Secret)
	assert.Equal(t, "older", tokens[1].Secret)
}
