// Package fat manages the block allocation table of a disk image.
//
// The table holds one little endian uint32 entry per image block.
// Values below the total block count chain a file's blocks together;
// the high end of the uint32 space is reserved for sentinels. A file is
// the chain start -> entry(start) -> ... -> [EndOfChain].
//
// The table keeps an authoritative in-memory mirror of the whole
// region and writes each mutated table block straight through to the
// device. Table blocks never pass through the page cache.
package fat

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"fatsim/pkg/disk"
)

// Entry sentinels. Every value at or above the reserved base is a
// marker, never a chain pointer.
const (
	// Free marks an unallocated block.
	Free uint32 = 0xFFFFFFFF

	// EndOfChain terminates an allocation chain.
	EndOfChain uint32 = 0xFFFFFFFE

	// Bad marks a block excluded from allocation.
	Bad uint32 = 0xFFFFFFFD

	// ReservedFAT, ReservedDir and ReservedSuper mark the blocks the
	// system regions occupy so they can never be allocated to a file.
	ReservedFAT   uint32 = 0xFFFFFF01
	ReservedDir   uint32 = 0xFFFFFF02
	ReservedSuper uint32 = 0xFFFFFF03

	// sentinelBase is the lowest value with sentinel meaning.
	sentinelBase uint32 = 0xFFFFFF00
)

// IsSentinel reports whether v is a marker rather than a chain pointer.
func IsSentinel(v uint32) bool { return v >= sentinelBase }

// Device is the backing store the table persists to.
type Device interface {
	ReadBlock(index uint32) ([]byte, error)
	WriteBlock(index uint32, data []byte) error
}

// Options configures [New].
type Options struct {
	// Logger receives structured events. Nil discards them.
	Logger *slog.Logger
}

// Table is the allocation table for one image.
//
// Table methods are not safe for concurrent use; the file system
// service serializes access.
type Table struct {
	dev Device
	geo disk.Geometry
	log *slog.Logger

	entriesPerBlock uint32
	mirror          []uint32 // entry per image block, index = block id
	freeCount       uint32
}

// New loads the table region from dev, initializing it first when the
// image has never carried one. Initialization marks the superblock,
// table and directory regions reserved and everything else free.
func New(dev Device, geo disk.Geometry, opts Options) (*Table, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	t := &Table{
		dev:             dev,
		geo:             geo,
		log:             logger.With("component", "fat"),
		entriesPerBlock: geo.BlockSize / disk.FATEntrySize,
		mirror:          make([]uint32, geo.TotalBlocks),
	}

	if err := t.load(); err != nil {
		return nil, err
	}

	if t.mirror[0] != ReservedSuper {
		if err := t.initialize(); err != nil {
			return nil, err
		}

		t.log.Info("initialized allocation table",
			"entries", geo.TotalBlocks,
			"data_start", geo.DataStart())
	}

	for i := geo.DataStart(); i < geo.TotalBlocks; i++ {
		if t.mirror[i] == Free {
			t.freeCount++
		}
	}

	t.log.Debug("attached allocation table", "free", t.freeCount)

	return t, nil
}

// load fills the mirror from the table region on the device.
func (t *Table) load() error {
	for b := uint32(0); b < t.geo.FATBlocks(); b++ {
		data, err := t.dev.ReadBlock(t.geo.FATStart() + b)
		if err != nil {
			return fmt.Errorf("fat: load table block %d: %w", b, err)
		}

		for j := uint32(0); j < t.entriesPerBlock; j++ {
			idx := b*t.entriesPerBlock + j
			if idx >= t.geo.TotalBlocks {
				return nil
			}

			t.mirror[idx] = binary.LittleEndian.Uint32(data[j*disk.FATEntrySize:])
		}
	}

	return nil
}

// initialize writes a fresh table: reserved marks over the system
// regions, Free everywhere else.
func (t *Table) initialize() error {
	for i := range t.mirror {
		t.mirror[i] = Free
	}

	for i := t.geo.FATStart(); i < t.geo.DirStart(); i++ {
		t.mirror[i] = ReservedFAT
	}

	for i := t.geo.DirStart(); i < t.geo.DataStart(); i++ {
		t.mirror[i] = ReservedDir
	}

	t.mirror[0] = ReservedSuper

	// Entry 0 doubles as the initialized marker, so the table block
	// holding it goes out last. A crash mid write then leaves a table
	// that reinitializes cleanly on the next attach.
	for b := int(t.geo.FATBlocks()) - 1; b >= 0; b-- {
		if err := t.flushTableBlock(uint32(b)); err != nil {
			return err
		}
	}

	return nil
}

// writeEntry updates one entry in the mirror and persists its table
// block.
func (t *Table) writeEntry(block, value uint32) error {
	t.mirror[block] = value

	return t.flushTableBlock(block / t.entriesPerBlock)
}

// flushTableBlock writes table block ordinal b from the mirror to the
// device.
func (t *Table) flushTableBlock(b uint32) error {
	buf := make([]byte, t.geo.BlockSize)

	for j := uint32(0); j < t.entriesPerBlock; j++ {
		idx := b*t.entriesPerBlock + j
		if idx >= t.geo.TotalBlocks {
			break
		}

		binary.LittleEndian.PutUint32(buf[j*disk.FATEntrySize:], t.mirror[idx])
	}

	if err := t.dev.WriteBlock(t.geo.FATStart()+b, buf); err != nil {
		return fmt.Errorf("fat: flush table block %d: %w", b, err)
	}

	return nil
}

// Allocate claims the lowest free data block and marks it EndOfChain so
// it can never be handed out twice. Returns [ErrFull] when no free
// block remains.
func (t *Table) Allocate() (uint32, error) {
	for i := t.geo.DataStart(); i < t.geo.TotalBlocks; i++ {
		if t.mirror[i] != Free {
			continue
		}

		if err := t.writeEntry(i, EndOfChain); err != nil {
			return 0, err
		}

		t.freeCount--
		t.log.Debug("allocated block", "block", i)

		return i, nil
	}

	return 0, fmt.Errorf("fat: allocate: %w", ErrFull)
}

// Free returns block to the free pool. Freeing a reserved or out of
// range block is rejected; freeing a free block is a double free and
// reports [ErrNotAllocated].
func (t *Table) Free(block uint32) error {
	if err := t.checkDataBlock("free", block); err != nil {
		return err
	}

	if v := t.mirror[block]; v == Free || v == Bad {
		return fmt.Errorf("fat: free block %d: %w", block, ErrNotAllocated)
	}

	if err := t.writeEntry(block, Free); err != nil {
		return err
	}

	t.freeCount++
	t.log.Debug("freed block", "block", block)

	return nil
}

// SetNext links next after block in a chain. Both must be allocated
// data blocks.
func (t *Table) SetNext(block, next uint32) error {
	if err := t.checkAllocated("link", block); err != nil {
		return err
	}

	if err := t.checkAllocated("link target", next); err != nil {
		return err
	}

	return t.writeEntry(block, next)
}

// CloseChain marks block as the last one of its chain.
func (t *Table) CloseChain(block uint32) error {
	if err := t.checkAllocated("close chain", block); err != nil {
		return err
	}

	return t.writeEntry(block, EndOfChain)
}

// Chain returns every block of the chain starting at start, in order.
//
// Traversal is bounded by the block count. A revisited block, a next
// pointer outside the data region or a chain that runs into anything
// but [EndOfChain] reports [ErrCorruptChain] with no partial result.
func (t *Table) Chain(start uint32) ([]uint32, error) {
	if err := t.checkDataBlock("chain from", start); err != nil {
		return nil, err
	}

	if t.mirror[start] == Free {
		return nil, fmt.Errorf("fat: chain from %d: %w", start, ErrNotAllocated)
	}

	blocks := make([]uint32, 0, 8)
	seen := make(map[uint32]struct{})
	cur := start

	for {
		if _, dup := seen[cur]; dup {
			return nil, fmt.Errorf("fat: chain from %d: %w: cycle at block %d", start, ErrCorruptChain, cur)
		}

		seen[cur] = struct{}{}
		blocks = append(blocks, cur)

		next := t.mirror[cur]
		if next == EndOfChain {
			return blocks, nil
		}

		// Everything else must be a pointer into the data region. Free,
		// Bad, reserved marks and wild values all corrupt the chain.
		if next >= t.geo.TotalBlocks || next < t.geo.DataStart() {
			return nil, fmt.Errorf("fat: chain from %d: %w: block %d points at %#x", start, ErrCorruptChain, cur, next)
		}

		cur = next
	}
}

// Entry returns the raw table value for block.
func (t *Table) Entry(block uint32) (uint32, error) {
	if block >= t.geo.TotalBlocks {
		return 0, fmt.Errorf("fat: entry %d: %w (table has %d)", block, ErrOutOfRange, t.geo.TotalBlocks)
	}

	return t.mirror[block], nil
}

// FreeCount returns the number of free data blocks.
func (t *Table) FreeCount() uint32 { return t.freeCount }

// FreeBlocks returns the free data blocks in ascending order, which is
// also the order [Allocate] hands them out in.
func (t *Table) FreeBlocks() []uint32 {
	out := make([]uint32, 0, t.freeCount)

	for i := t.geo.DataStart(); i < t.geo.TotalBlocks; i++ {
		if t.mirror[i] == Free {
			out = append(out, i)
		}
	}

	return out
}

func (t *Table) checkDataBlock(op string, block uint32) error {
	if block >= t.geo.TotalBlocks {
		return fmt.Errorf("fat: %s block %d: %w (table has %d)", op, block, ErrOutOfRange, t.geo.TotalBlocks)
	}

	if block < t.geo.DataStart() {
		return fmt.Errorf("fat: %s block %d: %w", op, block, ErrReserved)
	}

	return nil
}

func (t *Table) checkAllocated(op string, block uint32) error {
	if err := t.checkDataBlock(op, block); err != nil {
		return err
	}

	if v := t.mirror[block]; v == Free || v == Bad {
		return fmt.Errorf("fat: %s block %d: %w", op, block, ErrNotAllocated)
	}

	return nil
}
