package fat

import "errors"

// Sentinel errors returned by allocation table operations.
//
// Callers should use [errors.Is] to check error types.
var (
	// ErrFull indicates no free data blocks remain.
	//
	// Recovery: delete files or grow the image.
	ErrFull = errors.New("fat: no free blocks")

	// ErrOutOfRange indicates a block index at or past the total block
	// count.
	ErrOutOfRange = errors.New("fat: block out of range")

	// ErrReserved indicates an operation on a system block (superblock,
	// table region or directory region).
	ErrReserved = errors.New("fat: reserved block")

	// ErrNotAllocated indicates a chain operation on a block that is
	// not allocated. Double frees land here.
	ErrNotAllocated = errors.New("fat: block not allocated")

	// ErrCorruptChain indicates a chain that revisits a block or whose
	// next pointer leaves the valid range. The traversal aborts; no
	// partial chain is returned.
	ErrCorruptChain = errors.New("fat: corrupt chain")
)
