package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

func shareFixture(t *testing.T, e *Engine) *metadata.Node {
	t.Helper()
	ctx := context.Background()
	root, err := e.EnsureRoot(ctx, alice)
	require.NoError(t, err)
	file, _, err := e.CreateFile(ctx, alice, root.ID, "shared.txt", []byte("original"))
	require.NoError(t, err)
	return file
}

func TestShareReadFlow(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})
	file := shareFixture(t, e)

	token, err := e.IssueToken(ctx, alice, file.ID, metadata.PermissionRead, time.Time{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(token.Secret), 43, "secret must carry full entropy")

	r, version, err := e.SharedRead(ctx, token.Secret)
	require.NoError(t, err)
	assert.Equal(t, file.CurrentVersionID, version.ID)
	assert.Equal(t, "original", readAll(t, r))

	// Read tokens must not write.
	_, err = e.SharedWrite(ctx, token.Secret, []byte("defaced"))
	assertCode(t, err, metadata.ErrPermissionDenied)
}

func TestShareWriteFlow(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})
	file := shareFixture(t, e)

	token, err := e.IssueToken(ctx, alice, file.ID, metadata.PermissionWrite, time.Time{})
	require.NoError(t, err)

	version, err := e.SharedWrite(ctx, token.Secret, []byte("contributed"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version.Seq)
	assert.Equal(t, alice, version.Creator, "anonymous writes are charged to the issuer")

	r, _, err := e.ReadFile(ctx, alice, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "contributed", readAll(t, r))
}

func TestTokenValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})
	file := shareFixture(t, e)

	t.Run("UnknownSecret", func(t *testing.T) {
		_, _, err := e.ValidateToken(ctx, "no-such-token")
		assertCode(t, err, metadata.ErrTokenInvalid)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		token, err := e.IssueToken(ctx, alice, file.ID, metadata.PermissionRead, time.Now().Add(-time.Minute))
		require.NoError(t, err)

		_, _, err = e.ValidateToken(ctx, token.Secret)
		assertCode(t, err, metadata.ErrTokenInvalid)
	})

	t.Run("RevokedToken", func(t *testing.T) {
		token, err := e.IssueToken(ctx, alice, file.ID, metadata.PermissionRead, time.Time{})
		require.NoError(t, err)

		err = e.RevokeToken(ctx, bob, token.Secret)
		assertCode(t, err, metadata.ErrPermissionDenied)

		require.NoError(t, e.RevokeToken(ctx, alice, token.Secret))
		_, _, err = e.ValidateToken(ctx, token.Secret)
		assertCode(t, err, metadata.ErrTokenInvalid)
	})

	t.Run("TrashedTarget", func(t *testing.T) {
		token, err := e.IssueToken(ctx, alice, file.ID, metadata.PermissionRead, time.Time{})
		require.NoError(t, err)

		require.NoError(t, e.Delete(ctx, alice, file.ID))
		_, _, err = e.ValidateToken(ctx, token.Secret)
		assertCode(t, err, metadata.ErrTokenInvalid)

		// Restoring the target makes the token usable again.
		require.NoError(t, e.Restore(ctx, alice, file.ID))
		_, node, err := e.ValidateToken(ctx, token.Secret)
		require.NoError(t, err)
		assert.Equal(t, file.ID, node.ID)
	})
}

func TestIssueTokenRequiresOwnership(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})
	file := shareFixture(t, e)

	_, err := e.IssueToken(ctx, bob, file.ID, metadata.PermissionRead, time.Time{})
	assertCode(t, err, metadata.ErrPermissionDenied)
}

func TestListTokens(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Policy{})
	file := shareFixture(t, e)

	first, err := e.IssueToken(ctx, alice, file.ID, metadata.PermissionRead, time.Time{})
	require.NoError(t, err)
	second, err := e.IssueToken(ctx, alice, file.ID, metadata.PermissionWrite, time.Time{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Secret, second.Secret)

	tokens, err := e.ListTokens(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, tokens, 2)

	tokens, err = e.ListTokens(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}
