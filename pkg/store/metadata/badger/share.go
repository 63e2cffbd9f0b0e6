package badger

import (
	"context"
	"errors"
	"sort"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// PutShareToken stores a newly issued token.
func (s *BadgerMetadataStore) PutShareToken(ctx context.Context, token *metadata.ShareToken) error {
	if token.Secret == "" {
		return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "token secret must not be empty"}
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, shareTokenKey(token.Secret), token)
	})
}

// GetShareToken retrieves a token by secret.
func (s *BadgerMetadataStore) GetShareToken(ctx context.Context, secret string) (*metadata.ShareToken, error) {
	var token metadata.ShareToken
	err := s.view(ctx, func(txn *badger.Txn) error {
		err := getJSON(txn, shareTokenKey(secret), &token)
		if errors.Is(err, errKeyNotFound) {
			return &metadata.StoreError{Code: metadata.ErrTokenInvalid, Message: "unknown share token"}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// RevokeShareToken marks a token revoked. Idempotent.
func (s *BadgerMetadataStore) RevokeShareToken(ctx context.Context, secret string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var token metadata.ShareToken
		err := getJSON(txn, shareTokenKey(secret), &token)
		if errors.Is(err, errKeyNotFound) {
			return &metadata.StoreError{Code: metadata.ErrTokenInvalid, Message: "unknown share token"}
		}
		if err != nil {
			return err
		}
		if token.Revoked {
			return nil
		}
		token.Revoked = true
		return setJSON(txn, shareTokenKey(secret), &token)
	})
}

// ListShareTokens returns tokens issued by a principal, newest first.
// Tokens are scanned rather than indexed: issuance is rare and per-issuer
// counts are small.
func (s *BadgerMetadataStore) ListShareTokens(ctx context.Context, issuer metadata.Principal) ([]*metadata.ShareToken, error) {
	var out []*metadata.ShareToken
	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixShareToken)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var token metadata.ShareToken
			err := it.Item().Value(func(val []byte) error {
				return decodeJSON(val, &token)
			})
			if err != nil {
				return err
			}
			if token.Issuer == issuer {
				t := token
				out = append(out, &t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}
