package disk

import "fmt"

// FATEntrySize is the width in bytes of one allocation table entry.
// The geometry needs it to size the table region; the fat package
// encodes and decodes the entries themselves.
const FATEntrySize = 4

// MaxTotalBlocks bounds the addressable block count. Block ids live in
// the low end of the uint32 space; the high end is reserved for chain
// sentinels, so the count must stay well below it.
const MaxTotalBlocks = 1 << 24

// Geometry fixes the layout of a disk image.
//
// All regions derive from the three fields: block 0 holds the
// superblock, the allocation table starts at block 1, the directory
// region follows the table, and everything after that is data.
type Geometry struct {
	// BlockSize is the size of one block in bytes.
	BlockSize uint32

	// TotalBlocks is the number of blocks in the image.
	TotalBlocks uint32

	// DirBlocks is the number of blocks reserved for the directory.
	DirBlocks uint32
}

// DefaultGeometry returns the standard layout: 1024 blocks of 64 bytes
// with a 16 block directory region.
func DefaultGeometry() Geometry {
	return Geometry{
		BlockSize:   64,
		TotalBlocks: 1024,
		DirBlocks:   16,
	}
}

// FATStart returns the first block of the allocation table region.
func (g Geometry) FATStart() uint32 { return 1 }

// FATBlocks returns the size of the allocation table region in blocks,
// one entry per block on the image, rounded up to whole blocks.
func (g Geometry) FATBlocks() uint32 {
	return ceilDiv(g.TotalBlocks*FATEntrySize, g.BlockSize)
}

// DirStart returns the first block of the directory region.
func (g Geometry) DirStart() uint32 { return g.FATStart() + g.FATBlocks() }

// DataStart returns the first general purpose data block.
func (g Geometry) DataStart() uint32 { return g.DirStart() + g.DirBlocks }

// DataBlocks returns the number of general purpose data blocks.
func (g Geometry) DataBlocks() uint32 { return g.TotalBlocks - g.DataStart() }

// ImageSize returns the backing file size in bytes.
func (g Geometry) ImageSize() int64 {
	return int64(g.TotalBlocks) * int64(g.BlockSize)
}

// Validate checks that the layout is usable. The derived regions must
// fit inside the image with at least one data block left over.
func (g Geometry) Validate() error {
	if g.BlockSize < superblockSize {
		return fmt.Errorf("%w: block size %d below minimum %d", ErrGeometry, g.BlockSize, superblockSize)
	}

	if g.BlockSize%8 != 0 {
		return fmt.Errorf("%w: block size %d not a multiple of 8", ErrGeometry, g.BlockSize)
	}

	if g.TotalBlocks > MaxTotalBlocks {
		return fmt.Errorf("%w: %d blocks exceeds maximum %d", ErrGeometry, g.TotalBlocks, MaxTotalBlocks)
	}

	if g.DirBlocks == 0 {
		return fmt.Errorf("%w: directory region is empty", ErrGeometry)
	}

	if g.DataStart() >= g.TotalBlocks {
		return fmt.Errorf("%w: reserved regions need %d blocks, image has %d", ErrGeometry, g.DataStart(), g.TotalBlocks)
	}

	return nil
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}
