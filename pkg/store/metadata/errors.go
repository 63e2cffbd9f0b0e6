package metadata

import "errors"

// StoreError represents a domain error from metadata store operations.
//
// These are business logic errors (name conflict, quota exceeded, etc.) as
// opposed to infrastructure errors (disk failure, connection loss), which are
// returned wrapped with %w instead. Callers branch on Code; adapters
// translate codes to their protocol's error vocabulary.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the node name or path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of a store error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested node, version, ledger, or
	// reservation doesn't exist, or the target parent is trashed
	ErrNotFound ErrorCode = iota

	// ErrNameConflict indicates a non-trashed sibling already has the name
	ErrNameConflict

	// ErrPermissionDenied indicates the principal lacks the capability the
	// operation requires
	ErrPermissionDenied

	// ErrCycleDetected indicates a move would place a folder inside its own
	// descendant chain
	ErrCycleDetected

	// ErrQuotaExceeded indicates consumed + pending reservations + requested
	// bytes would exceed the principal's limit
	ErrQuotaExceeded

	// ErrTokenInvalid indicates a share token is unknown, revoked, expired,
	// or its target is trashed
	ErrTokenInvalid

	// ErrConflict indicates an optimistic concurrency failure: the records
	// read by the transaction changed before it committed. The caller may
	// re-read and retry.
	ErrConflict

	// ErrInvalidArgument indicates invalid parameters (empty name, root
	// mutation, wrong version reference, negative sizes)
	ErrInvalidArgument

	// ErrNotFolder indicates the operation expected a folder but got a file
	ErrNotFolder

	// ErrNotFile indicates the operation expected a file but got a folder
	ErrNotFile

	// ErrAlreadyTrashed indicates the node is already in the trash
	ErrAlreadyTrashed

	// ErrNotTrashed indicates a restore or purge targeted an active node
	ErrNotTrashed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not_found"
	case ErrNameConflict:
		return "name_conflict"
	case ErrPermissionDenied:
		return "permission_denied"
	case ErrCycleDetected:
		return "cycle_detected"
	case ErrQuotaExceeded:
		return "quota_exceeded"
	case ErrTokenInvalid:
		return "token_invalid"
	case ErrConflict:
		return "conflict"
	case ErrInvalidArgument:
		return "invalid_argument"
	case ErrNotFolder:
		return "not_folder"
	case ErrNotFile:
		return "not_file"
	case ErrAlreadyTrashed:
		return "already_trashed"
	case ErrNotTrashed:
		return "not_trashed"
	default:
		return "unknown"
	}
}

// IsCode reports whether err is (or wraps) a StoreError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
