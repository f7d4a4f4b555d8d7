// Package fsys is the file system service: create, read, write and
// delete files over the block device, allocation table, directory store
// and buffer cache.
//
// One [FS] owns a mounted image. Regular file data flows through the
// buffer cache; allocation table and directory traffic goes straight to
// the device. Structural operations (create, write, delete) serialize
// on one writer lock, reads share a reader lock, and the cache keeps
// its own internal mutex so display snapshots never block file I/O.
//
// Multi-block operations roll back on failure: blocks allocated before
// the failing step are freed and their cached pages invalidated, so a
// failed create or extension leaves no partial file behind.
package fsys

import (
	"fmt"
	"log/slog"
	"sync"

	"fatsim/pkg/bcache"
	"fatsim/pkg/dir"
	"fatsim/pkg/disk"
	"fatsim/pkg/fat"
)

// Options configures [Mount].
type Options struct {
	// Geometry shapes a freshly formatted image. The zero value selects
	// the default geometry. An existing image's superblock wins; an
	// explicit geometry that contradicts it fails the mount.
	Geometry disk.Geometry

	// CachePages is the buffer cache capacity. Zero selects
	// bcache.DefaultCapacity.
	CachePages int

	// NameMode selects flat or hierarchical file naming. The default is
	// flat: only the final path component is significant.
	NameMode dir.Mode

	// Logger receives engine events. Nil discards.
	Logger *slog.Logger
}

// FS is a mounted file system image. Safe for concurrent use.
type FS struct {
	path  string
	geo   disk.Geometry
	mode  dir.Mode
	log   *slog.Logger
	dev   *disk.Device
	table *fat.Table
	store *dir.Store
	cache *bcache.Cache

	mu     sync.RWMutex
	leases map[string]map[string]struct{}
	closed bool
}

// FileInfo describes one file for stat and listing output.
type FileInfo struct {
	Name    string
	Size    uint32
	Start   uint32 // dir.NoStart for an empty file
	Blocks  int
	Created string // wall clock, formatted for display
	Perm    string
}

// SystemInfo is a point-in-time usage snapshot, consumed by status
// displays only.
type SystemInfo struct {
	Path        string
	Geometry    disk.Geometry
	TotalBlocks uint32
	DataBlocks  uint32
	UsedBlocks  uint32
	FreeBlocks  uint32
	Files       int
	Utilization float64 // percent of data blocks in use
}

// Mount opens the image at path, formatting it first when it does not
// exist, and wires the engine on top of it.
func Mount(path string, opts Options) (*FS, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dev, err := disk.Open(disk.Options{Path: path, Geometry: opts.Geometry, Logger: opts.Logger})
	if err != nil {
		return nil, fmt.Errorf("fsys: mount %s: %w", path, err)
	}

	geo := dev.Geometry()

	table, err := fat.New(dev, geo, fat.Options{Logger: opts.Logger})
	if err != nil {
		_ = dev.Close()

		return nil, fmt.Errorf("fsys: mount %s: %w", path, err)
	}

	store, err := dir.New(dev, geo, dir.Options{Logger: opts.Logger})
	if err != nil {
		_ = dev.Close()

		return nil, fmt.Errorf("fsys: mount %s: %w", path, err)
	}

	cache, err := bcache.New(dev, geo, bcache.Options{Capacity: opts.CachePages, Logger: opts.Logger})
	if err != nil {
		_ = dev.Close()

		return nil, fmt.Errorf("fsys: mount %s: %w", path, err)
	}

	fs := &FS{
		path:   path,
		geo:    geo,
		mode:   opts.NameMode,
		log:    logger.With("component", "fsys"),
		dev:    dev,
		table:  table,
		store:  store,
		cache:  cache,
		leases: make(map[string]map[string]struct{}),
	}

	fs.log.Info("mounted",
		"path", path,
		"blocks", geo.TotalBlocks,
		"block_size", geo.BlockSize,
		"free", table.FreeCount(),
		"mode", opts.NameMode.String())

	return fs, nil
}

// Geometry returns the mounted image's geometry.
func (fs *FS) Geometry() disk.Geometry { return fs.geo }

// Info reports block usage and the file count.
func (fs *FS) Info() (SystemInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		return SystemInfo{}, fmt.Errorf("fsys: info: %w", ErrClosed)
	}

	entries, err := fs.store.List()
	if err != nil {
		return SystemInfo{}, fmt.Errorf("fsys: info: %w", err)
	}

	data := fs.geo.DataBlocks()
	free := fs.table.FreeCount()
	used := data - free

	utilization := 0.0
	if data > 0 {
		utilization = float64(used) / float64(data) * 100
	}

	return SystemInfo{
		Path:        fs.path,
		Geometry:    fs.geo,
		TotalBlocks: fs.geo.TotalBlocks,
		DataBlocks:  data,
		UsedBlocks:  used,
		FreeBlocks:  free,
		Files:       len(entries),
		Utilization: utilization,
	}, nil
}

// FreeBlocks returns the free data block indices in ascending order.
func (fs *FS) FreeBlocks() ([]uint32, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		return nil, fmt.Errorf("fsys: free blocks: %w", ErrClosed)
	}

	return fs.table.FreeBlocks(), nil
}

// CacheStatus returns the buffer cache's display snapshot. It does not
// take the structural lock; the cache synchronizes itself.
func (fs *FS) CacheStatus() bcache.Status {
	return fs.cache.Status()
}

// CacheStats returns the buffer cache's aggregate counters.
func (fs *FS) CacheStats() bcache.Stats {
	return fs.cache.Stats()
}

// Flush writes every dirty cached page back to the device and syncs the
// backing file.
func (fs *FS) Flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return fmt.Errorf("fsys: flush: %w", ErrClosed)
	}

	if err := fs.cache.FlushAll(); err != nil {
		return fmt.Errorf("fsys: flush: %w", err)
	}

	if err := fs.dev.Sync(); err != nil {
		return fmt.Errorf("fsys: flush: %w", err)
	}

	return nil
}

// Close flushes the cache and releases the device. Further operations
// fail with [ErrClosed].
func (fs *FS) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return fmt.Errorf("fsys: close: %w", ErrClosed)
	}

	fs.closed = true

	var firstErr error
	if err := fs.cache.FlushAll(); err != nil {
		firstErr = fmt.Errorf("fsys: close: %w", err)
	}

	if err := fs.dev.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("fsys: close: %w", err)
	}

	fs.log.Info("unmounted", "path", fs.path)

	return firstErr
}
