package dir

import "errors"

// Sentinel errors returned by directory operations.
//
// Callers should use [errors.Is] to check error types.
var (
	// ErrBadName indicates a name that cannot be stored: empty, too
	// long, a reserved word or containing forbidden characters.
	ErrBadName = errors.New("dir: bad name")

	// ErrNameCollision indicates an insert with a name that is already
	// present.
	ErrNameCollision = errors.New("dir: name already exists")

	// ErrNotFound indicates no entry carries the requested name.
	ErrNotFound = errors.New("dir: entry not found")

	// ErrDirectoryFull indicates every slot in the directory region is
	// occupied.
	//
	// Recovery: remove entries or format with a larger directory region.
	ErrDirectoryFull = errors.New("dir: directory full")
)
