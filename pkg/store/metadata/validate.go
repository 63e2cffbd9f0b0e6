package metadata

import "strings"

// MaxNameLen is the longest accepted node name, matching the usual Unix
// filename limit.
const MaxNameLen = 255

// ValidateName checks a node name against the rules shared by every store
// backend: non-empty, no path separators, not "." or "..", at most
// MaxNameLen bytes.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &StoreError{Code: ErrInvalidArgument, Message: "name must not be empty"}
	case name == "." || name == "..":
		return &StoreError{Code: ErrInvalidArgument, Message: "name is reserved", Path: name}
	case strings.ContainsAny(name, "/\x00"):
		return &StoreError{Code: ErrInvalidArgument, Message: "name must not contain path separators", Path: name}
	case len(name) > MaxNameLen:
		return &StoreError{Code: ErrInvalidArgument, Message: "name too long", Path: name}
	}
	return nil
}
