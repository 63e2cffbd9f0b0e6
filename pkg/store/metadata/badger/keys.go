package badger

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/driftdrive/driftdrive/pkg/store/metadata"
)

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so we use prefixed keys to organize different
// record types into logical namespaces. This design:
//   - Prevents key collisions between record types
//   - Enables efficient range scans (children of a folder, versions of a file)
//   - Makes the database structure self-documenting
//
// Key Namespace Prefixes:
//
// Record Type           Prefix   Key Format                         Value
// =============================================================================
// Node                  "n:"     n:<nodeUUID>                       Node (JSON)
// Root Mapping          "r:"     r:<principal>                      nodeUUID (bytes)
// Child Index           "c:"     c:<parentUUID>:<childUUID>         (empty)
// Active Name Index     "a:"     a:<parentUUID>:<name>              childUUID (bytes)
// Version               "v:"     v:<versionUUID>                    Version (JSON)
// Version Sequence      "vs:"    vs:<fileUUID>:<seq, %020d>         versionUUID (bytes)
// Share Token           "s:"     s:<secret>                         ShareToken (JSON)
// Quota Ledger          "q:"     q:<principal>                      QuotaLedger (JSON)
// Reservation           "e:"     e:<reservationUUID>                Reservation (JSON)
// Trash Root Index      "t:"     t:<nodeUUID>                       (empty)
//
// Key Design Rationale:
//
// 1. Node (n:)
//    - One entry per node, active or trashed. Point lookup by UUID: O(1).
//
// 2. Child Index (c:)
//    - Denormalized: one entry per child, keyed by parent then child UUID.
//    - Listing a folder is a range scan over "c:<parentUUID>:".
//    - Covers ALL children including trashed ones, because a trashed child
//      still belongs to its parent until purged or restored.
//
// 3. Active Name Index (a:)
//    - Maps (parent, name) to the one non-trashed child holding that name.
//    - Doubles as the sibling-uniqueness constraint: an insert that finds an
//      existing entry is a name conflict. Maintained on create, rename,
//      move, trash, restore, and purge.
//    - Trashed nodes have no entry here, which is exactly why a deleted
//      name is immediately reusable.
//
// 4. Version Sequence (vs:)
//    - Zero-padded decimal sequence numbers keep lexicographic order equal
//      to numeric order, so a prefix scan yields versions in commit order
//      and the last key of the scan is the highest sequence.
//
// 5. Trash Root Index (t:)
//    - One entry per trash entry (deletion), not per trashed node.
//    - Listing and expiry scans touch only actual trash roots instead of
//      every node in the store.
const (
	prefixNode        = "n:"
	prefixRoot        = "r:"
	prefixChild       = "c:"
	prefixActiveName  = "a:"
	prefixVersion     = "v:"
	prefixVersionSeq  = "vs:"
	prefixShareToken  = "s:"
	prefixQuota       = "q:"
	prefixReservation = "e:"
	prefixTrashRoot   = "t:"
)

func nodeKey(id uuid.UUID) []byte {
	return []byte(prefixNode + id.String())
}

func rootKey(owner metadata.Principal) []byte {
	return []byte(prefixRoot + string(owner))
}

func childKey(parentID, childID uuid.UUID) []byte {
	return []byte(prefixChild + parentID.String() + ":" + childID.String())
}

func childPrefix(parentID uuid.UUID) []byte {
	return []byte(prefixChild + parentID.String() + ":")
}

func activeNameKey(parentID uuid.UUID, name string) []byte {
	return []byte(prefixActiveName + parentID.String() + ":" + name)
}

func versionKey(id uuid.UUID) []byte {
	return []byte(prefixVersion + id.String())
}

func versionSeqKey(fileID uuid.UUID, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixVersionSeq, fileID.String(), seq))
}

func versionSeqPrefix(fileID uuid.UUID) []byte {
	return []byte(prefixVersionSeq + fileID.String() + ":")
}

func shareTokenKey(secret string) []byte {
	return []byte(prefixShareToken + secret)
}

func quotaKey(p metadata.Principal) []byte {
	return []byte(prefixQuota + string(p))
}

func reservationKey(id uuid.UUID) []byte {
	return []byte(prefixReservation + id.String())
}

func trashRootKey(id uuid.UUID) []byte {
	return []byte(prefixTrashRoot + id.String())
}
