package postgres

// Relational Schema
// =================
//
// One table per record type, mirroring the Go structs. UUID "none" values
// (root parents, unset trash roots, files without versions) are stored as
// the all-zero UUID rather than NULL so rows round-trip exactly into the
// Go types.
//
// Structural invariants live in the schema where Postgres can enforce them:
//
//   - nodes_active_name_idx is a partial unique index over (parent_id, name)
//     WHERE NOT trashed. Sibling uniqueness among live nodes is checked by
//     the database at insert/update time, so two concurrent creates of the
//     same name can never both commit: one fails with SQLSTATE 23505,
//     surfaced as ErrNameConflict. Trashed rows fall outside the index,
//     which is what frees a deleted name for immediate reuse.
//
//   - nodes_root_owner_idx makes the per-principal root unique, so
//     concurrent EnsureRoot calls cannot create two roots.
//
//   - versions_file_seq_idx keeps (file_id, seq) unique; a sequence clash
//     between concurrent committers is a serialization failure, not silent
//     corruption.
//
// Transactions run SERIALIZABLE; serialization failures (SQLSTATE 40001)
// and deadlocks (40P01) surface as ErrConflict for the caller to retry.
const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id                 UUID        PRIMARY KEY,
	parent_id          UUID        NOT NULL,
	name               TEXT        NOT NULL,
	kind               SMALLINT    NOT NULL,
	owner_name         TEXT        NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	modified_at        TIMESTAMPTZ NOT NULL,
	trashed            BOOLEAN     NOT NULL,
	trashed_at         TIMESTAMPTZ NOT NULL,
	trash_root_id      UUID        NOT NULL,
	current_version_id UUID        NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS nodes_active_name_idx
	ON nodes (parent_id, name) WHERE NOT trashed;

CREATE UNIQUE INDEX IF NOT EXISTS nodes_root_owner_idx
	ON nodes (owner_name) WHERE parent_id = '00000000-0000-0000-0000-000000000000';

CREATE INDEX IF NOT EXISTS nodes_parent_idx ON nodes (parent_id);

CREATE INDEX IF NOT EXISTS nodes_trash_root_idx
	ON nodes (trashed_at) WHERE trashed AND trash_root_id = id;

CREATE TABLE IF NOT EXISTS versions (
	id         UUID        PRIMARY KEY,
	file_id    UUID        NOT NULL,
	seq        BIGINT      NOT NULL,
	digest     TEXT        NOT NULL,
	size       BIGINT      NOT NULL,
	creator    TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS versions_file_seq_idx
	ON versions (file_id, seq);

CREATE TABLE IF NOT EXISTS share_tokens (
	secret     TEXT        PRIMARY KEY,
	node_id    UUID        NOT NULL,
	permission TEXT        NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	issuer     TEXT        NOT NULL,
	issued_at  TIMESTAMPTZ NOT NULL,
	revoked    BOOLEAN     NOT NULL
);

CREATE INDEX IF NOT EXISTS share_tokens_issuer_idx ON share_tokens (issuer);

CREATE TABLE IF NOT EXISTS quota_ledgers (
	owner_name     TEXT   PRIMARY KEY,
	limit_bytes    BIGINT NOT NULL,
	consumed_bytes BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS reservations (
	id         UUID        PRIMARY KEY,
	owner_name TEXT        NOT NULL,
	bytes      BIGINT      NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS reservations_owner_idx ON reservations (owner_name);
`
