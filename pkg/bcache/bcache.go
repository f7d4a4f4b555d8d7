// Package bcache provides a fixed-capacity write-back page cache over a
// block device.
//
// The cache holds up to a configured number of pages, keyed by block
// index, with at most one resident page per block. A miss loads the
// block from the device, evicting the least recently used page first
// when the pool is full; a dirty victim is written back before it is
// dropped. Writes follow a write-allocate policy: writing a non-resident
// block loads it first, then overlays the new data and marks the page
// dirty. Dirty data reaches the device only on eviction, [Cache.FlushAll]
// or [Cache.Clear] — callers that need durability must flush.
//
// Every operation runs under one coarse mutex held for the operation's
// full duration, including any eviction write-back, so no caller can
// observe the pool mid-eviction.
package bcache

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"fatsim/pkg/disk"
)

// DefaultCapacity is the page pool size used when Options.Capacity is zero.
const DefaultCapacity = 8

// previewLen bounds the per-page byte preview in status snapshots.
const previewLen = 10

// Device is the block store the cache sits on. *disk.Device satisfies it.
type Device interface {
	ReadBlock(index uint32) ([]byte, error)
	WriteBlock(index uint32, data []byte) error
}

// Options configures a [Cache].
type Options struct {
	// Capacity is the maximum number of resident pages. Zero selects
	// DefaultCapacity; negative is rejected.
	Capacity int

	// Logger receives debug-level hit/miss/eviction events. Nil discards.
	Logger *slog.Logger
}

// page is one resident block copy.
type page struct {
	id      uint32
	buf     []byte
	dirty   bool
	owner   string
	tick    uint64    // logical access clock, drives eviction order
	touched time.Time // wall clock, display only
}

// Cache is an LRU write-back page pool. Safe for concurrent use.
type Cache struct {
	dev      Device
	geo      disk.Geometry
	log      *slog.Logger
	capacity int

	mu    sync.Mutex
	pages map[uint32]*page
	tick  uint64
	stats Stats
}

// Stats holds the aggregate access counters. All counters increase
// monotonically; Writebacks counts eviction write-backs only, not
// explicit flushes.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// Total returns the number of recorded page accesses.
func (s Stats) Total() uint64 {
	return s.Hits + s.Misses
}

// HitRatio returns hits over total accesses, or 0 when nothing was
// accessed yet.
func (s Stats) HitRatio() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

// HitRatioPercent formats the hit ratio for display, e.g. "87.5%".
func (s Stats) HitRatioPercent() string {
	return fmt.Sprintf("%.1f%%", s.HitRatio()*100)
}

// PageInfo describes one resident page in a [Status] snapshot.
type PageInfo struct {
	BlockID    uint32
	Dirty      bool
	Owner      string
	LastAccess string // wall clock, HH:MM:SS
	Preview    string // quoted first bytes of the page
}

// Status is a consistent point-in-time view of the pool.
type Status struct {
	Capacity int
	Used     int
	Free     int
	Pages    []PageInfo // most recently used first
	Stats    Stats
}

// New creates a cache over dev. The geometry supplies the block size
// pages are padded to.
func New(dev Device, geo disk.Geometry, opts Options) (*Cache, error) {
	if dev == nil {
		return nil, fmt.Errorf("bcache: new: %w: nil device", ErrInvalidInput)
	}

	if err := geo.Validate(); err != nil {
		return nil, fmt.Errorf("bcache: new: %w", err)
	}

	if opts.Capacity < 0 {
		return nil, fmt.Errorf("bcache: new: %w: capacity %d", ErrInvalidInput, opts.Capacity)
	}

	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Cache{
		dev:      dev,
		geo:      geo,
		log:      logger.With("component", "bcache"),
		capacity: capacity,
		pages:    make(map[uint32]*page, capacity),
	}, nil
}

// ReadPage returns a copy of the block's current bytes, loading it from
// the device on a miss.
func (c *Cache) ReadPage(block uint32) ([]byte, error) {
	return c.ReadPageFor(block, "")
}

// ReadPageFor is [Cache.ReadPage] with an owner tag stamped on the page
// for status display.
func (c *Cache) ReadPageFor(block uint32, owner string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pages[block]
	if ok {
		c.stats.Hits++
		c.touch(p, owner)
		c.log.Debug("cache hit", "block", block)
	} else {
		var err error

		p, err = c.loadMiss(block, owner)
		if err != nil {
			return nil, err
		}
	}

	out := make([]byte, len(p.buf))
	copy(out, p.buf)

	return out, nil
}

// WritePage overlays the block's page with data and marks it dirty.
// Data shorter than the block size is zero-padded, longer is truncated.
// The device is not touched except to load a non-resident block first.
func (c *Cache) WritePage(block uint32, data []byte) error {
	return c.WritePageFor(block, data, "")
}

// WritePageFor is [Cache.WritePage] with an owner tag stamped on the
// page for status display.
func (c *Cache) WritePageFor(block uint32, data []byte, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pages[block]
	if !ok {
		var err error

		p, err = c.loadMiss(block, owner)
		if err != nil {
			return err
		}
	}

	n := copy(p.buf, data)
	clear(p.buf[n:])
	p.dirty = true
	c.touch(p, owner)
	c.log.Debug("page written", "block", block)

	return nil
}

// FlushAll writes every dirty page back to the device in ascending block
// order and clears the dirty flags. Pages stay resident.
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	flushed, err := c.flushPages()
	if err != nil {
		return err
	}

	c.log.Debug("flushed dirty pages", "count", flushed)

	return nil
}

// Invalidate drops the block's page from the pool, discarding any dirty
// content. Callers that need the data to survive must flush first. Used
// when a file's blocks are freed, so a stale page is never served for a
// block reused by another file.
func (c *Cache) Invalidate(block uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pages[block]
	if !ok {
		return
	}

	delete(c.pages, block)
	c.log.Debug("page invalidated", "block", block, "dirty", p.dirty)
}

// Clear flushes every dirty page and then empties the pool. Statistics
// are kept.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.flushPages(); err != nil {
		return err
	}

	clear(c.pages)
	c.log.Debug("pool cleared")

	return nil
}

// Stats returns a snapshot of the aggregate counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// Status returns a consistent snapshot of the pool for display.
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	resident := make([]*page, 0, len(c.pages))
	for _, p := range c.pages {
		resident = append(resident, p)
	}

	slices.SortFunc(resident, func(a, b *page) int {
		return cmp.Compare(b.tick, a.tick)
	})

	pages := make([]PageInfo, 0, len(resident))
	for _, p := range resident {
		pages = append(pages, PageInfo{
			BlockID:    p.id,
			Dirty:      p.dirty,
			Owner:      p.owner,
			LastAccess: p.touched.Format("15:04:05"),
			Preview:    preview(p.buf),
		})
	}

	return Status{
		Capacity: c.capacity,
		Used:     len(c.pages),
		Free:     c.capacity - len(c.pages),
		Pages:    pages,
		Stats:    c.stats,
	}
}

// loadMiss records a miss and brings block into the pool, evicting first
// when the pool is full. The caller must hold mu.
func (c *Cache) loadMiss(block uint32, owner string) (*page, error) {
	c.stats.Misses++
	c.log.Debug("cache miss", "block", block)

	if len(c.pages) >= c.capacity {
		if err := c.evict(); err != nil {
			return nil, err
		}
	}

	data, err := c.dev.ReadBlock(block)
	if err != nil {
		return nil, fmt.Errorf("bcache: load block %d: %w", block, err)
	}

	p := &page{id: block, buf: data, owner: "system"}
	c.touch(p, owner)
	c.pages[block] = p

	return p, nil
}

// evict removes the page with the smallest access tick, writing it back
// first when dirty. Tick ties break toward the lowest block index. On a
// failed write-back the victim stays resident and dirty. The caller must
// hold mu.
func (c *Cache) evict() error {
	var victim *page
	for _, p := range c.pages {
		if victim == nil || p.tick < victim.tick || (p.tick == victim.tick && p.id < victim.id) {
			victim = p
		}
	}

	if victim == nil {
		return nil
	}

	if victim.dirty {
		if err := c.dev.WriteBlock(victim.id, victim.buf); err != nil {
			return fmt.Errorf("bcache: write back block %d: %w", victim.id, err)
		}

		c.stats.Writebacks++
	}

	c.stats.Evictions++
	delete(c.pages, victim.id)
	c.log.Debug("page evicted", "block", victim.id, "dirty", victim.dirty)

	return nil
}

// flushPages writes dirty pages back in ascending block order. The
// caller must hold mu.
func (c *Cache) flushPages() (int, error) {
	blocks := make([]uint32, 0, len(c.pages))
	for id := range c.pages {
		blocks = append(blocks, id)
	}
	slices.Sort(blocks)

	flushed := 0
	for _, id := range blocks {
		p := c.pages[id]
		if !p.dirty {
			continue
		}

		if err := c.dev.WriteBlock(id, p.buf); err != nil {
			return flushed, fmt.Errorf("bcache: flush block %d: %w", id, err)
		}

		p.dirty = false
		flushed++
	}

	return flushed, nil
}

// touch marks p most recently used. A non-empty owner replaces the
// page's owner tag.
func (c *Cache) touch(p *page, owner string) {
	c.tick++
	p.tick = c.tick
	p.touched = time.Now()

	if owner != "" {
		p.owner = owner
	}
}

// preview renders the leading bytes of a page for status output.
func preview(buf []byte) string {
	n := min(len(buf), previewLen)

	return strconv.QuoteToASCII(string(buf[:n]))
}
