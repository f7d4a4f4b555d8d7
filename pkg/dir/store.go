// Package dir implements the directory region of a disk image.
//
// The directory is a fixed capacity table of fixed width records in
// its own reserved block range. Slots are found by linear scan, which
// is fine at the capacities involved. The store reads and writes the
// device directly; directory blocks never pass through the page cache.
package dir

import (
	"fmt"
	"log/slog"

	"fatsim/pkg/disk"
)

// Device is the backing store the directory persists to.
type Device interface {
	ReadBlock(index uint32) ([]byte, error)
	WriteBlock(index uint32, data []byte) error
}

// Options configures [New].
type Options struct {
	// Logger receives structured events. Nil discards them.
	Logger *slog.Logger
}

// Store is the directory table for one image.
//
// Store methods are not safe for concurrent use; the file system
// service serializes access.
type Store struct {
	dev Device
	geo disk.Geometry
	log *slog.Logger

	entriesPerBlock uint32
}

// New attaches a store to the directory region described by geo.
func New(dev Device, geo disk.Geometry, opts Options) (*Store, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}

	if geo.BlockSize%EntrySize != 0 {
		return nil, fmt.Errorf("dir: %w: block size %d not a multiple of record size %d",
			disk.ErrGeometry, geo.BlockSize, EntrySize)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Store{
		dev:             dev,
		geo:             geo,
		log:             logger.With("component", "dir"),
		entriesPerBlock: geo.BlockSize / EntrySize,
	}

	s.log.Debug("attached directory", "capacity", s.Capacity())

	return s, nil
}

// Capacity returns the total number of entry slots.
func (s *Store) Capacity() uint32 {
	return s.geo.DirBlocks * s.entriesPerBlock
}

// Add inserts e into the first free slot. The name must be normalized
// already; Add only enforces that it fits a record. Returns
// [ErrNameCollision] if the name exists and [ErrDirectoryFull] if no
// slot is free.
func (s *Store) Add(e Entry) error {
	if e.Name == "" || len(e.Name) > MaxNameLen {
		return fmt.Errorf("%w: %q does not fit a record", ErrBadName, e.Name)
	}

	if _, _, err := s.lookup(e.Name); err == nil {
		return fmt.Errorf("dir: add %q: %w", e.Name, ErrNameCollision)
	}

	block, off, err := s.firstFreeSlot()
	if err != nil {
		return fmt.Errorf("dir: add %q: %w", e.Name, err)
	}

	if err := s.patchSlot(block, off, encodeEntry(&e)); err != nil {
		return fmt.Errorf("dir: add %q: %w", e.Name, err)
	}

	s.log.Debug("added entry", "name", e.Name, "start", e.Start, "size", e.Size)

	return nil
}

// Find returns the entry named name, or [ErrNotFound].
func (s *Store) Find(name string) (Entry, error) {
	e, _, err := s.lookup(name)
	if err != nil {
		return Entry{}, err
	}

	return e, nil
}

// Update rewrites the record named e.Name in place. The slot does not
// move, so List order is stable across updates.
func (s *Store) Update(e Entry) error {
	_, loc, err := s.lookup(e.Name)
	if err != nil {
		return err
	}

	if err := s.patchSlot(loc.block, loc.off, encodeEntry(&e)); err != nil {
		return fmt.Errorf("dir: update %q: %w", e.Name, err)
	}

	return nil
}

// Remove zeroes the slot named name, freeing it for reuse.
func (s *Store) Remove(name string) error {
	_, loc, err := s.lookup(name)
	if err != nil {
		return err
	}

	if err := s.patchSlot(loc.block, loc.off, make([]byte, EntrySize)); err != nil {
		return fmt.Errorf("dir: remove %q: %w", name, err)
	}

	s.log.Debug("removed entry", "name", name)

	return nil
}

// List returns every stored entry in slot order. Unused and damaged
// slots are skipped.
func (s *Store) List() ([]Entry, error) {
	var entries []Entry

	err := s.scan(func(e Entry, _ slotRef) bool {
		entries = append(entries, e)

		return true
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// slotRef addresses one record inside the directory region.
type slotRef struct {
	block uint32 // image block id
	off   uint32 // byte offset inside the block
}

// scan visits every decodable entry until fn returns false.
func (s *Store) scan(fn func(e Entry, loc slotRef) bool) error {
	for b := uint32(0); b < s.geo.DirBlocks; b++ {
		block := s.geo.DirStart() + b

		data, err := s.dev.ReadBlock(block)
		if err != nil {
			return fmt.Errorf("dir: read directory block %d: %w", block, err)
		}

		for i := uint32(0); i < s.entriesPerBlock; i++ {
			off := i * EntrySize

			e, ok := decodeEntry(data[off : off+EntrySize])
			if !ok {
				continue
			}

			if !fn(e, slotRef{block: block, off: off}) {
				return nil
			}
		}
	}

	return nil
}

// lookup finds the entry and slot for name.
func (s *Store) lookup(name string) (Entry, slotRef, error) {
	var (
		found Entry
		loc   slotRef
		ok    bool
	)

	err := s.scan(func(e Entry, l slotRef) bool {
		if e.Name != name {
			return true
		}

		found, loc, ok = e, l, true

		return false
	})
	if err != nil {
		return Entry{}, slotRef{}, err
	}

	if !ok {
		return Entry{}, slotRef{}, fmt.Errorf("dir: %q: %w", name, ErrNotFound)
	}

	return found, loc, nil
}

// firstFreeSlot returns the lowest all zero slot.
func (s *Store) firstFreeSlot() (uint32, uint32, error) {
	for b := uint32(0); b < s.geo.DirBlocks; b++ {
		block := s.geo.DirStart() + b

		data, err := s.dev.ReadBlock(block)
		if err != nil {
			return 0, 0, fmt.Errorf("read directory block %d: %w", block, err)
		}

		for i := uint32(0); i < s.entriesPerBlock; i++ {
			off := i * EntrySize
			if emptySlot(data[off : off+EntrySize]) {
				return block, off, nil
			}
		}
	}

	return 0, 0, ErrDirectoryFull
}

// patchSlot read-modify-writes one record inside a directory block.
func (s *Store) patchSlot(block, off uint32, rec []byte) error {
	data, err := s.dev.ReadBlock(block)
	if err != nil {
		return fmt.Errorf("read directory block %d: %w", block, err)
	}

	copy(data[off:off+EntrySize], rec)

	if err := s.dev.WriteBlock(block, data); err != nil {
		return fmt.Errorf("write directory block %d: %w", block, err)
	}

	return nil
}
