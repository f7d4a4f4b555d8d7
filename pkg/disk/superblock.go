package disk

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// Image format constants.
const (
	// superblockSize is the encoded size of the superblock in bytes.
	// Every supported geometry has BlockSize >= superblockSize, so the
	// header always fits in block 0.
	superblockSize = 64

	// formatVersion is the current image format version.
	formatVersion = 1
)

// superblockMagic identifies a formatted image.
var superblockMagic = [5]byte{'F', 'A', 'T', 'F', 'S'}

// Superblock field offsets (bytes from the start of block 0).
const (
	offMagic       = 0x00 // [5]byte
	offVersion     = 0x05 // uint8
	offBlockSize   = 0x08 // uint32
	offTotalBlocks = 0x0C // uint32
	offFATStart    = 0x10 // uint32
	offFATBlocks   = 0x14 // uint32
	offDirStart    = 0x18 // uint32
	offDirBlocks   = 0x1C // uint32
	offDataStart   = 0x20 // uint32
	offCreatedAt   = 0x24 // int64, unix seconds
	offCRC32C      = 0x2C // uint32
	offReserved    = 0x30 // zero through 0x3F
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Superblock is the decoded block 0 header. It records the geometry the
// image was formatted with so later opens do not depend on caller
// supplied configuration.
type Superblock struct {
	Version     uint8
	BlockSize   uint32
	TotalBlocks uint32
	FATStart    uint32
	FATBlocks   uint32
	DirStart    uint32
	DirBlocks   uint32
	DataStart   uint32
	CreatedAt   time.Time
}

// Geometry returns the layout recorded in the superblock.
func (sb Superblock) Geometry() Geometry {
	return Geometry{
		BlockSize:   sb.BlockSize,
		TotalBlocks: sb.TotalBlocks,
		DirBlocks:   sb.DirBlocks,
	}
}

// newSuperblock builds the header for a fresh image.
func newSuperblock(geo Geometry, now time.Time) Superblock {
	return Superblock{
		Version:     formatVersion,
		BlockSize:   geo.BlockSize,
		TotalBlocks: geo.TotalBlocks,
		FATStart:    geo.FATStart(),
		FATBlocks:   geo.FATBlocks(),
		DirStart:    geo.DirStart(),
		DirBlocks:   geo.DirBlocks,
		DataStart:   geo.DataStart(),
		CreatedAt:   now,
	}
}

// encodeSuperblock serializes the header to a superblockSize byte slice.
// The CRC is computed over the buffer with the CRC field zeroed and
// stored in the output.
func encodeSuperblock(sb *Superblock) []byte {
	buf := make([]byte, superblockSize)

	copy(buf[offMagic:], superblockMagic[:])
	buf[offVersion] = sb.Version

	binary.LittleEndian.PutUint32(buf[offBlockSize:], sb.BlockSize)
	binary.LittleEndian.PutUint32(buf[offTotalBlocks:], sb.TotalBlocks)
	binary.LittleEndian.PutUint32(buf[offFATStart:], sb.FATStart)
	binary.LittleEndian.PutUint32(buf[offFATBlocks:], sb.FATBlocks)
	binary.LittleEndian.PutUint32(buf[offDirStart:], sb.DirStart)
	binary.LittleEndian.PutUint32(buf[offDirBlocks:], sb.DirBlocks)
	binary.LittleEndian.PutUint32(buf[offDataStart:], sb.DataStart)
	binary.LittleEndian.PutUint64(buf[offCreatedAt:], uint64(sb.CreatedAt.Unix()))

	binary.LittleEndian.PutUint32(buf[offCRC32C:], superblockCRC(buf))

	return buf
}

// decodeSuperblock deserializes and validates block 0 bytes.
// All failures wrap [ErrSuperblock].
func decodeSuperblock(buf []byte) (Superblock, error) {
	if len(buf) < superblockSize {
		return Superblock{}, fmt.Errorf("%w: %d bytes, need %d", ErrSuperblock, len(buf), superblockSize)
	}

	if [5]byte(buf[offMagic:offMagic+5]) != superblockMagic {
		return Superblock{}, fmt.Errorf("%w: bad magic %q", ErrSuperblock, buf[offMagic:offMagic+5])
	}

	if buf[offVersion] != formatVersion {
		return Superblock{}, fmt.Errorf("%w: unsupported version %d", ErrSuperblock, buf[offVersion])
	}

	stored := binary.LittleEndian.Uint32(buf[offCRC32C:])
	if computed := superblockCRC(buf[:superblockSize]); stored != computed {
		return Superblock{}, fmt.Errorf("%w: checksum mismatch (stored %#x, computed %#x)", ErrSuperblock, stored, computed)
	}

	sb := Superblock{
		Version:     buf[offVersion],
		BlockSize:   binary.LittleEndian.Uint32(buf[offBlockSize:]),
		TotalBlocks: binary.LittleEndian.Uint32(buf[offTotalBlocks:]),
		FATStart:    binary.LittleEndian.Uint32(buf[offFATStart:]),
		FATBlocks:   binary.LittleEndian.Uint32(buf[offFATBlocks:]),
		DirStart:    binary.LittleEndian.Uint32(buf[offDirStart:]),
		DirBlocks:   binary.LittleEndian.Uint32(buf[offDirBlocks:]),
		DataStart:   binary.LittleEndian.Uint32(buf[offDataStart:]),
		CreatedAt:   time.Unix(int64(binary.LittleEndian.Uint64(buf[offCreatedAt:])), 0).UTC(),
	}

	// The stored region bounds must agree with the geometry fields they
	// were derived from, otherwise region math elsewhere goes wrong.
	geo := sb.Geometry()
	if err := geo.Validate(); err != nil {
		return Superblock{}, fmt.Errorf("%w: %v", ErrSuperblock, err)
	}

	if sb.FATStart != geo.FATStart() || sb.FATBlocks != geo.FATBlocks() ||
		sb.DirStart != geo.DirStart() || sb.DataStart != geo.DataStart() {
		return Superblock{}, fmt.Errorf("%w: inconsistent region layout", ErrSuperblock)
	}

	return sb, nil
}

// superblockCRC calculates the CRC32-C checksum of the header buffer
// with the CRC field treated as zero.
func superblockCRC(buf []byte) uint32 {
	tmp := make([]byte, superblockSize)
	copy(tmp, buf[:superblockSize])

	for i := offCRC32C; i < offCRC32C+4; i++ {
		tmp[i] = 0
	}

	return crc32.Checksum(tmp, castagnoli)
}
