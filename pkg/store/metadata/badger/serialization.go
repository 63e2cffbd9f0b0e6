package badger

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Serialization Strategy
// ======================
//
// Record structs (Node, Version, ShareToken, QuotaLedger, Reservation) are
// stored as JSON: human-readable, debuggable with badger's CLI tooling, and
// tolerant of field additions. Index values (UUIDs) are stored as their
// 16-byte binary form since they never need inspection and save space in
// the hot child and version indexes.

var errKeyNotFound = errors.New("key not found")

// getJSON loads and decodes a JSON value into out. Returns errKeyNotFound
// when the key is absent so callers can map it to their domain error.
func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, out); err != nil {
			return fmt.Errorf("corrupt record at %q: %w", key, err)
		}
		return nil
	})
}

// decodeJSON unmarshals an iterator value already in hand.
func decodeJSON(val []byte, out any) error {
	if err := json.Unmarshal(val, out); err != nil {
		return fmt.Errorf("corrupt record: %w", err)
	}
	return nil
}

// setJSON encodes v as JSON and stores it under key.
func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record for %q: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// getUUID loads a 16-byte UUID value.
func getUUID(txn *badger.Txn, key []byte) (uuid.UUID, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return uuid.Nil, errKeyNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	var id uuid.UUID
	err = item.Value(func(val []byte) error {
		parsed, err := uuid.FromBytes(val)
		if err != nil {
			return fmt.Errorf("corrupt UUID at %q: %w", key, err)
		}
		id = parsed
		return nil
	})
	return id, err
}

// setUUID stores a UUID in its 16-byte binary form.
func setUUID(txn *badger.Txn, key []byte, id uuid.UUID) error {
	if err := txn.Set(key, id[:]); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}
