package fsys

import "errors"

// Sentinel errors returned by file system operations.
//
// Callers should use [errors.Is] to check error types. Errors from the
// layers below are wrapped, not replaced: a missing file still matches
// dir.ErrNotFound, an exhausted disk matches fat.ErrFull, a damaged
// chain matches fat.ErrCorruptChain.
var (
	// ErrClosed indicates the file system has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("fsys: closed")

	// ErrFileBusy indicates a delete was attempted while the file is
	// leased by a concurrent operation.
	//
	// Recovery: retry after the holder releases its lease.
	ErrFileBusy = errors.New("fsys: file busy")

	// ErrLeaseNotHeld indicates a release for a lease that is not
	// registered, either never acquired, already released, or carrying
	// a foreign token.
	ErrLeaseNotHeld = errors.New("fsys: lease not held")

	// ErrOutOfRange indicates a file block index outside the file, or
	// one that no geometry could hold.
	ErrOutOfRange = errors.New("fsys: out of range")
)
