package bcache

import "errors"

// Sentinel errors returned by cache operations.
//
// Callers should use [errors.Is] to check error types. Device failures
// (out-of-range blocks, closed devices) are wrapped and propagated, so a
// check against the device package's sentinels also works through errors
// returned here.
var (
	// ErrInvalidInput indicates invalid constructor arguments.
	//
	// Common causes: nil device, negative capacity.
	//
	// This is a programming error.
	ErrInvalidInput = errors.New("bcache: invalid input")
)
