package metadata

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// MetadataStore Interface
// ============================================================================

// MetadataStore is the transactional record store underneath the engine. It
// holds Node, Version, ShareToken, QuotaLedger, and Reservation records and
// enforces the structural invariants that keep the namespace consistent.
//
// Atomicity:
//
// Every method is one atomic unit: it either applies completely or leaves no
// trace. Implementations back this with whatever their storage engine offers
// (a mutex over in-memory maps, a BadgerDB Update transaction, a Postgres
// transaction). Multi-record operations such as committing a version together
// with the current-pointer update, restoring a whole subtree, or purging with
// ledger credits must never expose partial state to concurrent readers.
//
// Sibling uniqueness is enforced inside the mutating transaction (a unique
// constraint where the backend has one), never by a separate pre-check, so
// two concurrent creates of the same name cannot both succeed.
//
// Concurrency:
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Backends using optimistic concurrency surface commit-time clashes as
// StoreError{Code: ErrConflict}; the caller may re-read and retry. The store
// itself never retries.
//
// Error Handling:
//
// Business failures are returned as *StoreError with a code from errors.go.
// Infrastructure failures are returned wrapped with %w. Context cancellation
// is respected on every call.
type MetadataStore interface {
	// ========================================================================
	// Namespace
	// ========================================================================

	// EnsureRoot returns the principal's root folder, creating it on first
	// use. Roots are the only nodes with a nil parent; they cannot be
	// renamed, moved, or trashed.
	EnsureRoot(ctx context.Context, owner Principal) (*Node, error)

	// GetNode retrieves a node by ID, trashed or not.
	//
	// Returns ErrNotFound if no such node exists (or it has been purged).
	GetNode(ctx context.Context, id uuid.UUID) (*Node, error)

	// CreateNode creates a file or folder under parentID.
	//
	// Returns ErrNotFound if the parent does not exist or is trashed,
	// ErrNotFolder if the parent is a file, ErrNameConflict if a non-trashed
	// sibling already has the name, ErrInvalidArgument for empty names or
	// names containing a path separator. The new node inherits the parent's
	// owner; the parent's ModifiedAt is bumped in the same transaction.
	CreateNode(ctx context.Context, parentID uuid.UUID, name string, kind NodeKind, owner Principal) (*Node, error)

	// CreateFileWithVersion creates a file node and commits its first
	// version in one transaction, so a newly uploaded file never exists
	// without content metadata.
	CreateFileWithVersion(ctx context.Context, parentID uuid.UUID, name string, owner Principal, digest ContentDigest, size uint64, creator Principal) (*Node, *Version, error)

	// RenameNode changes a node's name in place.
	//
	// The uniqueness check against non-trashed siblings happens inside the
	// transaction. Roots and trashed nodes cannot be renamed. Bumps
	// ModifiedAt on the node and its parent.
	RenameNode(ctx context.Context, id uuid.UUID, newName string) (*Node, error)

	// MoveNode reparents a node, keeping its name.
	//
	// Returns ErrCycleDetected if newParentID is the node itself or one of
	// its descendants; the check walks the destination's ancestor chain to a
	// root inside the transaction, so a concurrent move cannot slip a cycle
	// past it. Name uniqueness is checked against the destination's
	// non-trashed children. Bumps ModifiedAt on the node and both parents.
	MoveNode(ctx context.Context, id, newParentID uuid.UUID) (*Node, error)

	// ListChildren returns the children of a folder, sorted by name.
	// Trashed children are excluded unless includeTrashed is set.
	ListChildren(ctx context.Context, parentID uuid.UUID, includeTrashed bool) ([]*Node, error)

	// ResolvePath walks name segments from rootID and returns the final
	// node. An empty segment list resolves to the root itself. Trashed nodes
	// terminate the walk with ErrNotFound.
	ResolvePath(ctx context.Context, rootID uuid.UUID, segments []string) (*Node, error)

	// ========================================================================
	// Versions
	// ========================================================================

	// CommitVersion appends a revision to a file's history and moves the
	// current pointer to it, both in one transaction. The sequence number is
	// assigned inside the same transaction, so concurrent writers both
	// succeed with distinct, correctly ordered sequence numbers and neither
	// write is dropped; last committed wins the current pointer.
	//
	// Quota is settled separately: the caller holds a reservation covering
	// size and converts it with CommitReservation once the commit succeeds.
	//
	// Returns ErrNotFound if the file doesn't exist or is trashed, ErrNotFile
	// for folders.
	CommitVersion(ctx context.Context, fileID uuid.UUID, digest ContentDigest, size uint64, creator Principal) (*Version, error)

	// ListVersions returns a file's retained versions ordered by ascending
	// sequence number.
	ListVersions(ctx context.Context, fileID uuid.UUID) ([]*Version, error)

	// GetVersion retrieves a single version by ID.
	GetVersion(ctx context.Context, versionID uuid.UUID) (*Version, error)

	// SetCurrentVersion points a file at one of its existing versions.
	//
	// This is repair tooling: normal operation never moves the pointer
	// backwards (restoring an old revision commits a new version instead).
	// Returns ErrInvalidArgument if the version belongs to another file.
	SetCurrentVersion(ctx context.Context, fileID, versionID uuid.UUID) error

	// PruneVersions removes non-current versions beyond keepCount or older
	// than olderThan (zero values disable the respective criterion) and
	// credits the creators' ledgers. The current version is never pruned and
	// sequence numbers of survivors are never renumbered.
	//
	// Returns the pruned versions so the caller can decrement blob reference
	// counts.
	PruneVersions(ctx context.Context, fileID uuid.UUID, keepCount int, olderThan time.Time) ([]*Version, error)

	// PruneAllVersions applies PruneVersions to every file in the store.
	// Used by the background sweeper.
	PruneAllVersions(ctx context.Context, keepCount int, olderThan time.Time) ([]*Version, error)

	// ========================================================================
	// Trash
	// ========================================================================

	// TrashNode soft-deletes a node and its entire subtree atomically. Every
	// node in the subtree is flagged with the same trash root and timestamp,
	// so a later restore brings back exactly this deletion and nothing else.
	// Nodes already trashed by an earlier, separate deletion keep their own
	// trash entry.
	//
	// Returns the number of nodes newly trashed. Roots cannot be trashed.
	TrashNode(ctx context.Context, id uuid.UUID, at time.Time) (int, error)

	// RestoreNode reverses one trash entry: it restores the trash root and
	// every node trashed with it, all-or-nothing.
	//
	// Fails with ErrNotFound if the original parent no longer exists or is
	// itself trashed, and with ErrNameConflict if any restored node would
	// clash with a non-trashed sibling; in either case nothing is restored.
	// The node must be a trash root (ErrNotTrashed otherwise).
	RestoreNode(ctx context.Context, id uuid.UUID) error

	// ListTrashRoots returns the principal's trash entries (most recent
	// first).
	ListTrashRoots(ctx context.Context, owner Principal) ([]*Node, error)

	// ExpiredTrashRoots returns the IDs of trash roots trashed before the
	// given cutoff, for the sweeper to purge.
	ExpiredTrashRoots(ctx context.Context, before time.Time) ([]uuid.UUID, error)

	// PurgeNode permanently removes a trashed node, its subtree, and all
	// their versions, crediting quota ledgers in the same transaction. The
	// removed versions are returned so the caller can decrement blob
	// reference counts. Terminal: purged records are gone.
	PurgeNode(ctx context.Context, id uuid.UUID) (*PurgeResult, error)

	// ========================================================================
	// Share Tokens
	// ========================================================================

	// PutShareToken stores a newly issued token.
	PutShareToken(ctx context.Context, token *ShareToken) error

	// GetShareToken retrieves a token by secret. Returns ErrTokenInvalid if
	// unknown. Revocation, expiry, and target trash state are the caller's
	// checks (the engine owns the validation policy).
	GetShareToken(ctx context.Context, secret string) (*ShareToken, error)

	// RevokeShareToken marks a token revoked. Idempotent on already-revoked
	// tokens; ErrTokenInvalid if unknown.
	RevokeShareToken(ctx context.Context, secret string) error

	// ListShareTokens returns tokens issued by a principal.
	ListShareTokens(ctx context.Context, issuer Principal) ([]*ShareToken, error)

	// ========================================================================
	// Quota
	// ========================================================================

	// EnsureQuota creates the principal's ledger with the given limit if it
	// doesn't exist yet. Existing ledgers are left untouched.
	EnsureQuota(ctx context.Context, p Principal, limitBytes uint64) (*QuotaLedger, error)

	// SetQuotaLimit updates the principal's limit (creating the ledger if
	// needed). 0 means unlimited.
	SetQuotaLimit(ctx context.Context, p Principal, limitBytes uint64) error

	// GetQuota returns the principal's ledger. ErrNotFound if absent.
	GetQuota(ctx context.Context, p Principal) (*QuotaLedger, error)

	// Reserve places a provisional hold on quota capacity. Fails with
	// ErrQuotaExceeded when consumed + pending reservations + bytes would
	// exceed the limit. The admission check and the reservation insert are
	// one transaction, so concurrent reservations cannot jointly overcommit.
	Reserve(ctx context.Context, p Principal, bytes uint64, now time.Time) (*Reservation, error)

	// CommitReservation converts a reservation into permanent consumption.
	// ErrNotFound if the reservation is unknown (already settled).
	CommitReservation(ctx context.Context, id uuid.UUID) error

	// ReleaseReservation drops a reservation without consuming, used on
	// rollback. ErrNotFound if unknown.
	ReleaseReservation(ctx context.Context, id uuid.UUID) error

	// ReleaseExpiredReservations drops reservations created before the
	// cutoff and returns how many were released. Crash hygiene: a process
	// that died between Reserve and Commit must not pin capacity forever.
	ReleaseExpiredReservations(ctx context.Context, before time.Time) (int, error)

	// ========================================================================
	// Lifecycle
	// ========================================================================

	// Healthcheck verifies the store can serve requests.
	Healthcheck(ctx context.Context) error

	// Close releases resources. The store must not be used afterwards.
	Close() error
}
