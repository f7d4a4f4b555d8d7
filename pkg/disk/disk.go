// Package disk implements the flat backing image under the simulator.
//
// An image is a single file of TotalBlocks fixed size blocks. Block 0
// carries a superblock describing the geometry; every other block is
// opaque bytes to this package. The file is memory mapped for the
// lifetime of a [Device] and all block reads and writes go through the
// mapping. Nothing here interprets allocation chains or directory
// records; that is the fat and dir packages.
package disk

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/sys/unix"
)

// Options configures [Open].
type Options struct {
	// Path is the image file location. A missing file is formatted on
	// first open.
	Path string

	// Geometry fixes the layout for a fresh image. The zero value means
	// [DefaultGeometry]. An existing image always uses the geometry
	// recorded in its superblock; a non zero Geometry that disagrees
	// with it is rejected with [ErrSuperblock].
	Geometry Geometry

	// Logger receives structured events. Nil discards them.
	Logger *slog.Logger
}

// Device is an open disk image.
//
// ReadBlock may be called concurrently with other reads. WriteBlock,
// Sync and Close take the exclusive lock. Ordering between writers is
// the caller's concern.
type Device struct {
	path string
	geo  Geometry
	sb   Superblock
	log  *slog.Logger

	mu     sync.RWMutex
	file   *os.File
	data   []byte // mmap of the whole image
	closed bool
}

// Open maps the image at opts.Path, formatting a fresh one first when
// the file does not exist. The superblock is validated on every open.
func Open(opts Options) (*Device, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("disk: open: %w: empty path", ErrInvalidInput)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	logger = logger.With("component", "disk")

	geo := opts.Geometry
	explicit := geo != (Geometry{})

	if !explicit {
		geo = DefaultGeometry()
	}

	if err := geo.Validate(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(opts.Path); errors.Is(err, os.ErrNotExist) {
		if err := formatImage(opts.Path, geo); err != nil {
			return nil, err
		}

		logger.Info("formatted image",
			"path", opts.Path,
			"blocks", geo.TotalBlocks,
			"block_size", geo.BlockSize)
	} else if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", opts.Path, err)
	}

	file, err := os.OpenFile(opts.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", opts.Path, err)
	}

	dev, err := attach(file, opts.Path, geo, explicit, logger)
	if err != nil {
		_ = file.Close()

		return nil, err
	}

	return dev, nil
}

// attach validates the superblock against the file and maps the image.
func attach(file *os.File, path string, geo Geometry, explicit bool, logger *slog.Logger) (*Device, error) {
	header := make([]byte, superblockSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("disk: open %s: %w: short header read: %v", path, ErrSuperblock, err)
	}

	sb, err := decodeSuperblock(header)
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}

	fileGeo := sb.Geometry()
	if explicit && fileGeo != geo {
		return nil, fmt.Errorf("disk: open %s: %w: image is %d x %d bytes, requested %d x %d",
			path, ErrSuperblock, fileGeo.TotalBlocks, fileGeo.BlockSize, geo.TotalBlocks, geo.BlockSize)
	}

	st, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("disk: open %s: %w", path, err)
	}

	if st.Size() != fileGeo.ImageSize() {
		return nil, fmt.Errorf("disk: open %s: %w: file is %d bytes, geometry needs %d",
			path, ErrSuperblock, st.Size(), fileGeo.ImageSize())
	}

	data, err := syscall.Mmap(int(file.Fd()), 0, int(fileGeo.ImageSize()),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("disk: mmap %s: %w", path, err)
	}

	logger.Debug("opened image",
		"path", path,
		"blocks", fileGeo.TotalBlocks,
		"block_size", fileGeo.BlockSize)

	return &Device{
		path: path,
		geo:  fileGeo,
		sb:   sb,
		log:  logger,
		file: file,
		data: data,
	}, nil
}

// formatImage writes a zeroed image with an encoded superblock in block
// 0. The write is atomic so a crash cannot leave a half formatted file
// behind.
func formatImage(path string, geo Geometry) error {
	img := make([]byte, geo.ImageSize())
	sb := newSuperblock(geo, time.Now())
	copy(img, encodeSuperblock(&sb))

	if err := atomic.WriteFile(path, bytes.NewReader(img)); err != nil {
		return fmt.Errorf("disk: format %s: %w", path, err)
	}

	return nil
}

// Geometry returns the image layout.
func (d *Device) Geometry() Geometry { return d.geo }

// Superblock returns the decoded block 0 header.
func (d *Device) Superblock() Superblock { return d.sb }

// Path returns the backing file location.
func (d *Device) Path() string { return d.path }

// ReadBlock returns a copy of block index. The caller owns the slice.
func (d *Device) ReadBlock(index uint32) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, fmt.Errorf("disk: read block %d: %w", index, ErrClosed)
	}

	if index >= d.geo.TotalBlocks {
		return nil, fmt.Errorf("disk: read block %d: %w (image has %d)", index, ErrOutOfRange, d.geo.TotalBlocks)
	}

	size := int(d.geo.BlockSize)
	off := int(index) * size

	out := make([]byte, size)
	copy(out, d.data[off:off+size])

	return out, nil
}

// WriteBlock replaces block index with data. Input shorter than the
// block size is zero padded to a full block; longer input is truncated
// to one block. Callers needing multi block writes split them at a
// higher layer.
func (d *Device) WriteBlock(index uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("disk: write block %d: %w", index, ErrClosed)
	}

	if index >= d.geo.TotalBlocks {
		return fmt.Errorf("disk: write block %d: %w (image has %d)", index, ErrOutOfRange, d.geo.TotalBlocks)
	}

	size := int(d.geo.BlockSize)
	if len(data) > size {
		data = data[:size]
	}

	off := int(index) * size
	n := copy(d.data[off:off+size], data)
	clear(d.data[off+n : off+size])

	return nil
}

// Sync flushes the mapping to the backing file.
func (d *Device) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return fmt.Errorf("disk: sync: %w", ErrClosed)
	}

	if err := unix.Msync(d.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("disk: sync %s: %w", d.path, err)
	}

	return nil
}

// Close flushes the mapping and releases the file handle. The device is
// unusable afterwards. Dirty cache pages above this layer are not
// flushed here; callers flush those first.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("disk: close: %w", ErrClosed)
	}

	d.closed = true

	var firstErr error

	if err := unix.Msync(d.data, unix.MS_SYNC); err != nil {
		firstErr = fmt.Errorf("disk: close: msync: %w", err)
	}

	if err := syscall.Munmap(d.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("disk: close: munmap: %w", err)
	}

	d.data = nil

	if err := d.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("disk: close: %w", err)
	}

	d.log.Debug("closed image", "path", d.path)

	return firstErr
}
