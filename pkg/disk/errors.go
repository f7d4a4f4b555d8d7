package disk

import "errors"

// Sentinel errors returned by disk operations.
//
// Callers should use [errors.Is] to check error types:
//
//	if errors.Is(err, disk.ErrOutOfRange) {
//	    // index past the end of the image
//	}
var (
	// ErrOutOfRange indicates a block index at or past the total block count.
	ErrOutOfRange = errors.New("disk: block out of range")

	// ErrGeometry indicates an unusable image layout.
	//
	// Returned when the block size is too small to hold the superblock,
	// the block count exceeds the addressable range, or the reserved
	// regions leave no data blocks.
	ErrGeometry = errors.New("disk: invalid geometry")

	// ErrSuperblock indicates block 0 does not describe a usable image.
	//
	// This covers a missing or foreign magic, an unknown format version,
	// a checksum mismatch, an image file whose size disagrees with its
	// recorded geometry, and a geometry mismatch against [Options.Geometry].
	//
	// Recovery: delete the image and let [Open] format a fresh one.
	ErrSuperblock = errors.New("disk: bad superblock")

	// ErrClosed indicates the [Device] has already been closed.
	//
	// This is a programming error.
	ErrClosed = errors.New("disk: closed")

	// ErrInvalidInput indicates invalid arguments were provided.
	ErrInvalidInput = errors.New("disk: invalid input")
)
