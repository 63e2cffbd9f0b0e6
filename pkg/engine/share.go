package engine

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// secretBytes sizes the random token secret. 32 bytes of entropy encoded
// with unpadded base64url yields a 43-character secret; the secret is the
// sole access check for anonymous links, so it must stay unguessable.
const secretBytes = 32

// IssueToken creates a share token for a node the principal owns.
// expiresAt zero means the token never expires.
func (e *Engine) IssueToken(ctx context.Context, p metadata.Principal, nodeID uuid.UUID, perm metadata.Permission, expiresAt time.Time) (token *metadata.ShareToken, err error) {
	defer e.instrument("IssueToken", time.Now(), &err)

	node, err := e.ownedNode(ctx, p, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Trashed {
		return nil, &metadata.StoreError{
			Code:    metadata.ErrNotFound,
			Message: "cannot share a trashed node",
		}
	}

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	token = &metadata.ShareToken{
		Secret:     secret,
		NodeID:     nodeID,
		Permission: perm,
		ExpiresAt:  expiresAt,
		Issuer:     p,
		IssuedAt:   time.Now(),
	}
	if err := e.meta.PutShareToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// ValidateToken checks a secret and returns the token with its target node.
// Unknown, revoked, and expired tokens, and tokens whose target is trashed,
// all fail with TokenInvalid; callers cannot distinguish why, which keeps
// probing uninformative.
func (e *Engine) ValidateToken(ctx context.Context, secret string) (token *metadata.ShareToken, node *metadata.Node, err error) {
	defer e.instrument("ValidateToken", time.Now(), &err)
	return e.validateToken(ctx, secret)
}

// RevokeToken invalidates a token the principal issued. Idempotent.
func (e *Engine) RevokeToken(ctx context.Context, p metadata.Principal, secret string) (err error) {
	defer e.instrument("RevokeToken", time.Now(), &err)

	token, err := e.meta.GetShareToken(ctx, secret)
	if err != nil {
		return err
	}
	if token.Issuer != p {
		return &metadata.StoreError{
			Code:    metadata.ErrPermissionDenied,
			Message: "token was issued by another principal",
		}
	}
	return e.meta.RevokeShareToken(ctx, secret)
}

// ListTokens returns the tokens the principal has issued, newest first.
func (e *Engine) ListTokens(ctx context.Context, p metadata.Principal) (tokens []*metadata.ShareToken, err error) {
	defer e.instrument("ListTokens", time.Now(), &err)
	return e.meta.ListShareTokens(ctx, p)
}

// SharedRead serves an anonymous read through a share token. The token's
// target must be a file; read permission suffices.
func (e *Engine) SharedRead(ctx context.Context, secret string) (r io.ReadCloser, version *metadata.Version, err error) {
	defer e.instrument("SharedRead", time.Now(), &err)

	_, node, err := e.validateToken(ctx, secret)
	if err != nil {
		return nil, nil, err
	}
	return e.readCurrent(ctx, node)
}

// SharedWrite serves an anonymous content update through a write-capable
// share token. The new version is created and charged in the issuer's name:
// anonymous writers have no account, and the issuer opened their storage to
// them by handing out a write token.
func (e *Engine) SharedWrite(ctx context.Context, secret string, data []byte) (version *metadata.Version, err error) {
	defer e.instrument("SharedWrite", time.Now(), &err)

	token, node, err := e.validateToken(ctx, secret)
	if err != nil {
		return nil, err
	}
	if !token.Permission.CanWrite() {
		return nil, &metadata.StoreError{
			Code:    metadata.ErrPermissionDenied,
			Message: "token does not grant write access",
		}
	}
	if node.Kind != metadata.KindFile {
		return nil, &metadata.StoreError{
			Code:    metadata.ErrNotFile,
			Message: "token target is not a file",
		}
	}

	version, err = e.commitContent(ctx, token.Issuer, node.ID, data)
	if err != nil {
		return nil, err
	}
	e.notify(node.ID, ChangeContent)
	return version, nil
}

func (e *Engine) validateToken(ctx context.Context, secret string) (*metadata.ShareToken, *metadata.Node, error) {
	invalid := &metadata.StoreError{
		Code:    metadata.ErrTokenInvalid,
		Message: "share token is not usable",
	}

	token, err := e.meta.GetShareToken(ctx, secret)
	if err != nil {
		return nil, nil, err
	}
	if !token.Usable(time.Now()) {
		return nil, nil, invalid
	}
	node, err := e.meta.GetNode(ctx, token.NodeID)
	if err != nil {
		if metadata.IsCode(err, metadata.ErrNotFound) {
			return nil, nil, invalid
		}
		return nil, nil, err
	}
	if node.Trashed {
		return nil, nil, invalid
	}
	return token, node, nil
}

func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
