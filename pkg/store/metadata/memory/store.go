// Package memory implements an in-memory metadata store.
//
// This implementation keeps every record in Go maps guarded by a single
// read-write mutex. Nothing survives a restart, which makes it suitable for
// tests, development, and as the reference semantics the persistent backends
// are checked against. This coarse-grained locking is simple and correct;
// the persistent backends provide finer-grained concurrency.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// MemoryMetadataStore implements metadata.MetadataStore with mutex-guarded
// maps. Safe for concurrent use; every operation holds the mutex for its
// full duration, so each operation is trivially atomic.
type MemoryMetadataStore struct {
	mu sync.RWMutex

	// nodes holds every node record, active and trashed, keyed by ID.
	nodes map[uuid.UUID]*metadata.Node

	// roots maps each principal to its root folder ID.
	roots map[metadata.Principal]uuid.UUID

	// versions holds every retained version keyed by ID.
	versions map[uuid.UUID]*metadata.Version

	// fileVersions orders each file's version IDs by ascending sequence.
	fileVersions map[uuid.UUID][]uuid.UUID

	// tokens maps share token secrets to token records.
	tokens map[string]*metadata.ShareToken

	// ledgers holds one quota ledger per principal.
	ledgers map[metadata.Principal]*metadata.QuotaLedger

	// reservations holds pending quota reservations keyed by ID.
	reservations map[uuid.UUID]*metadata.Reservation
}

// NewMemoryMetadataStore creates an empty in-memory metadata store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{
		nodes:        make(map[uuid.UUID]*metadata.Node),
		roots:        make(map[metadata.Principal]uuid.UUID),
		versions:     make(map[uuid.UUID]*metadata.Version),
		fileVersions: make(map[uuid.UUID][]uuid.UUID),
		tokens:       make(map[string]*metadata.ShareToken),
		ledgers:      make(map[metadata.Principal]*metadata.QuotaLedger),
		reservations: make(map[uuid.UUID]*metadata.Reservation),
	}
}

// Healthcheck always succeeds: there is no external dependency to probe.
func (s *MemoryMetadataStore) Healthcheck(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op for the in-memory store.
func (s *MemoryMetadataStore) Close() error {
	return nil
}

// copyNode returns a copy so callers can't mutate internal state.
func copyNode(n *metadata.Node) *metadata.Node {
	c := *n
	return &c
}

func copyVersion(v *metadata.Version) *metadata.Version {
	c := *v
	return &c
}

// childrenOf returns the IDs of all children of parentID. Callers must hold
// the mutex.
func (s *MemoryMetadataStore) childrenOf(parentID uuid.UUID) []*metadata.Node {
	var out []*metadata.Node
	for _, n := range s.nodes {
		if n.ParentID == parentID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// activeChildByName finds a non-trashed child with the given name. Callers
// must hold the mutex.
func (s *MemoryMetadataStore) activeChildByName(parentID uuid.UUID, name string) *metadata.Node {
	for _, n := range s.nodes {
		if n.ParentID == parentID && !n.Trashed && n.Name == name {
			return n
		}
	}
	return nil
}

// subtreeOf collects id and all its descendants, parents before children.
// Callers must hold the mutex.
func (s *MemoryMetadataStore) subtreeOf(id uuid.UUID) []*metadata.Node {
	root, ok := s.nodes[id]
	if !ok {
		return nil
	}
	out := []*metadata.Node{root}
	queue := []uuid.UUID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range s.childrenOf(cur) {
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}
	return out
}
