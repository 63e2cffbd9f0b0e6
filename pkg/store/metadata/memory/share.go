package memory

import (
	"context"
	"sort"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// PutShareToken stores a newly issued token.
func (s *MemoryMetadataStore) PutShareToken(ctx context.Context, token *metadata.ShareToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if token.Secret == "" {
		return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "token secret must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := *token
	s.tokens[token.Secret] = &t
	return nil
}

// GetShareToken retrieves a token by secret.
func (s *MemoryMetadataStore) GetShareToken(ctx context.Context, secret string) (*metadata.ShareToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[secret]
	if !ok {
		return nil, &metadata.StoreError{Code: metadata.ErrTokenInvalid, Message: "unknown share token"}
	}
	c := *t
	return &c, nil
}

// RevokeShareToken marks a token revoked. Idempotent.
func (s *MemoryMetadataStore) RevokeShareToken(ctx context.Context, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[secret]
	if !ok {
		return &metadata.StoreError{Code: metadata.ErrTokenInvalid, Message: "unknown share token"}
	}
	t.Revoked = true
	return nil
}

// ListShareTokens returns tokens issued by a principal, newest first.
func (s *MemoryMetadataStore) ListShareTokens(ctx context.Context, issuer metadata.Principal) ([]*metadata.ShareToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*metadata.ShareToken
	for _, t := range s.tokens {
		if t.Issuer == issuer {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}
