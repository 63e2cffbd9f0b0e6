package metadata

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Principal identifies an already-authenticated user. The engine performs no
// authentication itself; adapters hand it a principal that upstream layers
// have verified.
type Principal string

// ContentDigest is the content address of a blob: the lowercase hex SHA-256
// of its bytes. Metadata references content exclusively through digests so
// identical content is stored once regardless of how many versions or users
// point at it.
type ContentDigest string

// NodeKind distinguishes files from folders.
type NodeKind int

const (
	KindFile NodeKind = iota
	KindFolder
)

func (k NodeKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	default:
		return "unknown"
	}
}

// Node is one entry in the folder/file hierarchy.
//
// Invariants maintained by every store implementation:
//   - The parent chain from any node terminates at a root (ParentID == uuid.Nil)
//     and contains no cycles.
//   - No two non-trashed siblings share a name.
//   - CurrentVersionID is set only for files, and always references the
//     version with the highest sequence number.
type Node struct {
	// ID is the stable identifier of the node. It never changes across
	// renames, moves, trashing, or restores.
	ID uuid.UUID `json:"id"`

	// ParentID is the containing folder. uuid.Nil only for per-principal
	// roots.
	ParentID uuid.UUID `json:"parent_id"`

	// Name is unique among non-trashed siblings.
	Name string `json:"name"`

	Kind NodeKind `json:"kind"`

	// Owner is the principal whose tree this node belongs to. Writes made
	// through a share token keep the tree owner here; the writing principal
	// is recorded on the Version.
	Owner Principal `json:"owner"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`

	// Trashed marks the node soft-deleted. Trashing a folder marks its whole
	// subtree; TrashRootID records which deletion covered this node so that
	// restoring one trash entry does not resurrect nodes trashed separately.
	Trashed     bool      `json:"trashed"`
	TrashedAt   time.Time `json:"trashed_at,omitzero"`
	TrashRootID uuid.UUID `json:"trash_root_id,omitzero"`

	// CurrentVersionID references the latest committed version. uuid.Nil for
	// folders and for files that have never had content committed.
	CurrentVersionID uuid.UUID `json:"current_version_id,omitzero"`
}

// IsRoot reports whether the node is a per-principal root folder.
func (n *Node) IsRoot() bool {
	return n.ParentID == uuid.Nil
}

// Version is one immutable revision of a file's content. Versions are
// append-only: they are created by writes, optionally pruned by retention,
// and never mutated or renumbered.
type Version struct {
	ID uuid.UUID `json:"id"`

	// FileID is the owning file node.
	FileID uuid.UUID `json:"file_id"`

	// Seq is the position in the file's history. Sequence numbers are
	// strictly increasing and gap-free from 1 at commit time; pruning may
	// later remove entries from the low end.
	Seq uint64 `json:"seq"`

	Digest ContentDigest `json:"digest"`
	Size   uint64        `json:"size"`

	// Creator is the principal that wrote this revision and the one whose
	// quota it is charged against.
	Creator   Principal `json:"creator"`
	CreatedAt time.Time `json:"created_at"`
}

// Permission is the access level granted by a share token. Write implies
// read.
type Permission int

const (
	PermissionRead Permission = iota
	PermissionWrite
)

func (p Permission) String() string {
	if p == PermissionWrite {
		return "write"
	}
	return "read"
}

// CanWrite reports whether the permission allows mutations.
func (p Permission) CanWrite() bool {
	return p == PermissionWrite
}

// ParsePermission is the inverse of Permission.String, used by backends that
// persist permissions as text.
func ParsePermission(s string) (Permission, error) {
	switch s {
	case "read":
		return PermissionRead, nil
	case "write":
		return PermissionWrite, nil
	}
	return 0, fmt.Errorf("unknown permission %q", s)
}

// ShareToken grants scoped access to exactly one node without an account.
// The secret is the sole access check, so it must be drawn from a
// cryptographically strong random space and treated as opaque.
type ShareToken struct {
	// Secret is the opaque, unguessable token string handed to recipients.
	Secret string `json:"secret"`

	NodeID     uuid.UUID  `json:"node_id"`
	Permission Permission `json:"permission"`

	// ExpiresAt is optional; the zero value means the token never expires.
	ExpiresAt time.Time `json:"expires_at,omitzero"`

	Issuer   Principal `json:"issuer"`
	IssuedAt time.Time `json:"issued_at"`
	Revoked  bool      `json:"revoked"`
}

// Usable reports whether the token grants access at the given instant. The
// target node's trash state is checked separately by the store.
func (t *ShareToken) Usable(now time.Time) bool {
	if t.Revoked {
		return false
	}
	if !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt) {
		return false
	}
	return true
}

// QuotaLedger tracks one principal's storage consumption against a limit.
//
// Consumed counts the logical size of every retained version the principal
// created, including versions on trashed-but-unpurged nodes. Deduplication
// never discounts it: two principals storing identical content are each
// charged the full size.
type QuotaLedger struct {
	Principal Principal `json:"principal"`

	// LimitBytes caps consumption. 0 means unlimited.
	LimitBytes uint64 `json:"limit_bytes"`

	ConsumedBytes uint64 `json:"consumed_bytes"`
}

// Reservation is a provisional hold on quota capacity. It exists so that two
// concurrent writes cannot both pass a check-then-write and jointly exceed
// the limit: capacity is claimed before bytes are stored and converted to
// consumption (or released) when the write settles.
type Reservation struct {
	ID        uuid.UUID `json:"id"`
	Principal Principal `json:"principal"`
	Bytes     uint64    `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// PurgeResult reports what a purge removed, so the caller can decrement blob
// reference counts for every version that went away.
type PurgeResult struct {
	// NodeIDs lists every node record removed, the purge root included.
	NodeIDs []uuid.UUID

	// Versions lists every version removed with the nodes.
	Versions []*Version

	// BytesFreed is the ledger credit applied per principal.
	BytesFreed map[Principal]uint64
}
