package fsys

import (
	"errors"
	"fmt"
	"time"

	"fatsim/pkg/dir"
	"fatsim/pkg/fat"
)

// Create makes a new file holding content. Blocks are allocated and
// written through the cache first; the directory entry lands last, so a
// failure at any step leaves no partial file.
func (fs *FS) Create(name string, content []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return fmt.Errorf("fsys: create: %w", ErrClosed)
	}

	norm, err := dir.Normalize(name, fs.mode)
	if err != nil {
		return fmt.Errorf("fsys: create %q: %w", name, err)
	}

	if _, err := fs.store.Find(norm); err == nil {
		return fmt.Errorf("fsys: create %s: %w", norm, dir.ErrNameCollision)
	} else if !errors.Is(err, dir.ErrNotFound) {
		return fmt.Errorf("fsys: create %s: %w", norm, err)
	}

	if int64(len(content)) > fs.maxFileSize() {
		return fmt.Errorf("fsys: create %s: %w: content is %d bytes, image holds %d",
			norm, fat.ErrFull, len(content), fs.maxFileSize())
	}

	start := dir.NoStart
	var blocks []uint32

	if len(content) > 0 {
		blocks, err = fs.allocateChain(blockCount(uint32(len(content)), fs.geo.BlockSize))
		if err != nil {
			return fmt.Errorf("fsys: create %s: %w", norm, err)
		}

		start = blocks[0]

		if err := fs.writeChunks(norm, blocks, content); err != nil {
			fs.rollback(norm, blocks)

			return fmt.Errorf("fsys: create %s: %w", norm, err)
		}
	}

	entry := dir.Entry{
		Name:    norm,
		Size:    uint32(len(content)),
		Start:   start,
		Created: time.Now(),
		Perm:    dir.DefaultPerm,
	}

	if err := fs.store.Add(entry); err != nil {
		fs.rollback(norm, blocks)

		return fmt.Errorf("fsys: create %s: %w", norm, err)
	}

	fs.log.Debug("file created", "name", norm, "size", len(content), "blocks", len(blocks))

	return nil
}

// ReadFile returns the file's full content: every chain block read
// through the cache, trimmed to the recorded size.
func (fs *FS) ReadFile(name string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		return nil, fmt.Errorf("fsys: read: %w", ErrClosed)
	}

	norm, err := dir.Normalize(name, fs.mode)
	if err != nil {
		return nil, fmt.Errorf("fsys: read %q: %w", name, err)
	}

	e, err := fs.store.Find(norm)
	if err != nil {
		return nil, fmt.Errorf("fsys: read %s: %w", norm, err)
	}

	blocks, err := fs.chainOf(e)
	if err != nil {
		fs.log.Warn("corrupt chain", "file", norm, "err", err)

		return nil, fmt.Errorf("fsys: read %s: %w", norm, err)
	}

	buf := make([]byte, 0, len(blocks)*int(fs.geo.BlockSize))
	for _, b := range blocks {
		page, err := fs.cache.ReadPageFor(b, norm)
		if err != nil {
			return nil, fmt.Errorf("fsys: read %s: %w", norm, err)
		}

		buf = append(buf, page...)
	}

	if uint32(len(buf)) > e.Size {
		buf = buf[:e.Size]
	}

	return buf, nil
}

// ReadFileBlock returns the index-th block of the file, a full
// block-size page.
func (fs *FS) ReadFileBlock(name string, index int) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		return nil, fmt.Errorf("fsys: read block: %w", ErrClosed)
	}

	norm, err := dir.Normalize(name, fs.mode)
	if err != nil {
		return nil, fmt.Errorf("fsys: read block of %q: %w", name, err)
	}

	e, err := fs.store.Find(norm)
	if err != nil {
		return nil, fmt.Errorf("fsys: read block of %s: %w", norm, err)
	}

	blocks, err := fs.chainOf(e)
	if err != nil {
		fs.log.Warn("corrupt chain", "file", norm, "err", err)

		return nil, fmt.Errorf("fsys: read block of %s: %w", norm, err)
	}

	if index < 0 || index >= len(blocks) {
		return nil, fmt.Errorf("fsys: read block %d of %s: %w (file has %d)",
			index, norm, ErrOutOfRange, len(blocks))
	}

	page, err := fs.cache.ReadPageFor(blocks[index], norm)
	if err != nil {
		return nil, fmt.Errorf("fsys: read block %d of %s: %w", index, norm, err)
	}

	return page, nil
}

// WriteFileBlock overlays the index-th block of the file with data.
// Writing past the current chain end extends the chain, zero-filling
// any gap blocks; on allocation failure the extension is rolled back
// whole. The recorded size grows to cover the written block when the
// file grew.
func (fs *FS) WriteFileBlock(name string, index int, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return fmt.Errorf("fsys: write block: %w", ErrClosed)
	}

	norm, err := dir.Normalize(name, fs.mode)
	if err != nil {
		return fmt.Errorf("fsys: write block of %q: %w", name, err)
	}

	if index < 0 || uint32(index) >= fs.geo.DataBlocks() {
		return fmt.Errorf("fsys: write block %d of %s: %w (image holds %d data blocks)",
			index, norm, ErrOutOfRange, fs.geo.DataBlocks())
	}

	e, err := fs.store.Find(norm)
	if err != nil {
		return fmt.Errorf("fsys: write block of %s: %w", norm, err)
	}

	blocks, err := fs.chainOf(e)
	if err != nil {
		fs.log.Warn("corrupt chain", "file", norm, "err", err)

		return fmt.Errorf("fsys: write block of %s: %w", norm, err)
	}

	if index < len(blocks) {
		if err := fs.cache.WritePageFor(blocks[index], data, norm); err != nil {
			return fmt.Errorf("fsys: write block %d of %s: %w", index, norm, err)
		}

		return nil
	}

	fresh, err := fs.allocateChain(index - len(blocks) + 1)
	if err != nil {
		return fmt.Errorf("fsys: extend %s to block %d: %w", norm, index, err)
	}

	for i, b := range fresh {
		chunk := []byte(nil)
		if i == len(fresh)-1 {
			chunk = data
		}

		if err := fs.cache.WritePageFor(b, chunk, norm); err != nil {
			fs.rollback(norm, fresh)

			return fmt.Errorf("fsys: extend %s to block %d: %w", norm, index, err)
		}
	}

	if len(blocks) > 0 {
		if err := fs.table.SetNext(blocks[len(blocks)-1], fresh[0]); err != nil {
			fs.rollback(norm, fresh)

			return fmt.Errorf("fsys: extend %s to block %d: %w", norm, index, err)
		}
	} else {
		e.Start = fresh[0]
	}

	if grown := uint32(index+1) * fs.geo.BlockSize; grown > e.Size {
		e.Size = grown
	}

	if err := fs.store.Update(e); err != nil {
		if len(blocks) > 0 {
			if cerr := fs.table.CloseChain(blocks[len(blocks)-1]); cerr != nil {
				fs.log.Warn("rollback incomplete", "file", norm, "err", cerr)
			}
		}

		fs.rollback(norm, fresh)

		return fmt.Errorf("fsys: extend %s to block %d: %w", norm, index, err)
	}

	fs.log.Debug("chain extended", "file", norm, "added", len(fresh), "size", e.Size)

	return nil
}

// WriteFile replaces the file's content, reusing its existing chain:
// growth appends freshly allocated blocks, shrinkage frees and
// invalidates the tail, equal length rewrites in place.
func (fs *FS) WriteFile(name string, content []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return fmt.Errorf("fsys: write: %w", ErrClosed)
	}

	norm, err := dir.Normalize(name, fs.mode)
	if err != nil {
		return fmt.Errorf("fsys: write %q: %w", name, err)
	}

	if int64(len(content)) > fs.maxFileSize() {
		return fmt.Errorf("fsys: write %s: %w: content is %d bytes, image holds %d",
			norm, fat.ErrFull, len(content), fs.maxFileSize())
	}

	e, err := fs.store.Find(norm)
	if err != nil {
		return fmt.Errorf("fsys: write %s: %w", norm, err)
	}

	blocks, err := fs.chainOf(e)
	if err != nil {
		fs.log.Warn("corrupt chain", "file", norm, "err", err)

		return fmt.Errorf("fsys: write %s: %w", norm, err)
	}

	need := blockCount(uint32(len(content)), fs.geo.BlockSize)

	switch {
	case need == 0:
		e.Start = dir.NoStart
		e.Size = 0

		if err := fs.store.Update(e); err != nil {
			return fmt.Errorf("fsys: write %s: %w", norm, err)
		}

		if err := fs.freeBlocks(blocks); err != nil {
			return fmt.Errorf("fsys: write %s: %w", norm, err)
		}

	case need > len(blocks):
		fresh, err := fs.allocateChain(need - len(blocks))
		if err != nil {
			return fmt.Errorf("fsys: write %s: %w", norm, err)
		}

		whole := append(append([]uint32(nil), blocks...), fresh...)
		if err := fs.writeChunks(norm, whole, content); err != nil {
			fs.rollback(norm, fresh)

			return fmt.Errorf("fsys: write %s: %w", norm, err)
		}

		if len(blocks) > 0 {
			if err := fs.table.SetNext(blocks[len(blocks)-1], fresh[0]); err != nil {
				fs.rollback(norm, fresh)

				return fmt.Errorf("fsys: write %s: %w", norm, err)
			}
		} else {
			e.Start = fresh[0]
		}

		e.Size = uint32(len(content))

		if err := fs.store.Update(e); err != nil {
			if len(blocks) > 0 {
				if cerr := fs.table.CloseChain(blocks[len(blocks)-1]); cerr != nil {
					fs.log.Warn("rollback incomplete", "file", norm, "err", cerr)
				}
			}

			fs.rollback(norm, fresh)

			return fmt.Errorf("fsys: write %s: %w", norm, err)
		}

	case need < len(blocks):
		if err := fs.writeChunks(norm, blocks[:need], content); err != nil {
			return fmt.Errorf("fsys: write %s: %w", norm, err)
		}

		if err := fs.table.CloseChain(blocks[need-1]); err != nil {
			return fmt.Errorf("fsys: write %s: %w", norm, err)
		}

		e.Size = uint32(len(content))

		if err := fs.store.Update(e); err != nil {
			if rerr := fs.table.SetNext(blocks[need-1], blocks[need]); rerr != nil {
				fs.log.Warn("rollback incomplete", "file", norm, "err", rerr)
			}

			return fmt.Errorf("fsys: write %s: %w", norm, err)
		}

		if err := fs.freeBlocks(blocks[need:]); err != nil {
			return fmt.Errorf("fsys: write %s: %w", norm, err)
		}

	default:
		if err := fs.writeChunks(norm, blocks, content); err != nil {
			return fmt.Errorf("fsys: write %s: %w", norm, err)
		}

		e.Size = uint32(len(content))

		if err := fs.store.Update(e); err != nil {
			return fmt.Errorf("fsys: write %s: %w", norm, err)
		}
	}

	fs.log.Debug("file written", "name", norm, "size", len(content), "blocks", need)

	return nil
}

// Delete removes the file: every chain block is freed and its cached
// page invalidated, then the directory entry is dropped. A file with a
// held lease is refused.
func (fs *FS) Delete(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return fmt.Errorf("fsys: delete: %w", ErrClosed)
	}

	norm, err := dir.Normalize(name, fs.mode)
	if err != nil {
		return fmt.Errorf("fsys: delete %q: %w", name, err)
	}

	if len(fs.leases[norm]) > 0 {
		return fmt.Errorf("fsys: delete %s: %w", norm, ErrFileBusy)
	}

	e, err := fs.store.Find(norm)
	if err != nil {
		return fmt.Errorf("fsys: delete %s: %w", norm, err)
	}

	blocks, err := fs.chainOf(e)
	if err != nil {
		fs.log.Warn("corrupt chain", "file", norm, "err", err)

		return fmt.Errorf("fsys: delete %s: %w", norm, err)
	}

	if err := fs.freeBlocks(blocks); err != nil {
		return fmt.Errorf("fsys: delete %s: %w", norm, err)
	}

	if err := fs.store.Remove(norm); err != nil {
		return fmt.Errorf("fsys: delete %s: %w", norm, err)
	}

	fs.log.Debug("file deleted", "name", norm, "blocks", len(blocks))

	return nil
}

// Stat returns the file's directory record plus its verified chain
// length. A corrupt chain fails the stat so the damage is visible.
func (fs *FS) Stat(name string) (FileInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		return FileInfo{}, fmt.Errorf("fsys: stat: %w", ErrClosed)
	}

	norm, err := dir.Normalize(name, fs.mode)
	if err != nil {
		return FileInfo{}, fmt.Errorf("fsys: stat %q: %w", name, err)
	}

	e, err := fs.store.Find(norm)
	if err != nil {
		return FileInfo{}, fmt.Errorf("fsys: stat %s: %w", norm, err)
	}

	blocks, err := fs.chainOf(e)
	if err != nil {
		fs.log.Warn("corrupt chain", "file", norm, "err", err)

		return FileInfo{}, fmt.Errorf("fsys: stat %s: %w", norm, err)
	}

	return fileInfo(e, len(blocks)), nil
}

// List returns every directory entry. Block counts are derived from the
// recorded sizes; unreadable directory slots are already skipped by the
// store.
func (fs *FS) List() ([]FileInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		return nil, fmt.Errorf("fsys: list: %w", ErrClosed)
	}

	entries, err := fs.store.List()
	if err != nil {
		return nil, fmt.Errorf("fsys: list: %w", err)
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, fileInfo(e, blockCount(e.Size, fs.geo.BlockSize)))
	}

	return infos, nil
}

// FileChain returns the ordered block indices backing the file. An
// empty file yields an empty chain.
func (fs *FS) FileChain(name string) ([]uint32, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.closed {
		return nil, fmt.Errorf("fsys: chain: %w", ErrClosed)
	}

	norm, err := dir.Normalize(name, fs.mode)
	if err != nil {
		return nil, fmt.Errorf("fsys: chain of %q: %w", name, err)
	}

	e, err := fs.store.Find(norm)
	if err != nil {
		return nil, fmt.Errorf("fsys: chain of %s: %w", norm, err)
	}

	blocks, err := fs.chainOf(e)
	if err != nil {
		fs.log.Warn("corrupt chain", "file", norm, "err", err)

		return nil, fmt.Errorf("fsys: chain of %s: %w", norm, err)
	}

	return blocks, nil
}

// chainOf walks the entry's chain. An empty file yields nil.
func (fs *FS) chainOf(e dir.Entry) ([]uint32, error) {
	if e.Start == dir.NoStart {
		return nil, nil
	}

	return fs.table.Chain(e.Start)
}

// allocateChain claims count fresh blocks linked in order. On failure
// every block claimed so far is freed again and none stay linked.
func (fs *FS) allocateChain(count int) ([]uint32, error) {
	blocks := make([]uint32, 0, count)

	for range count {
		b, err := fs.table.Allocate()
		if err != nil {
			fs.rollback("", blocks)

			return nil, err
		}

		if n := len(blocks); n > 0 {
			if err := fs.table.SetNext(blocks[n-1], b); err != nil {
				fs.rollback("", append(blocks, b))

				return nil, err
			}
		}

		blocks = append(blocks, b)
	}

	return blocks, nil
}

// writeChunks lays content across the chain through the cache, one
// block-sized slice per page. Blocks past the content get zero pages.
func (fs *FS) writeChunks(owner string, blocks []uint32, content []byte) error {
	size := int(fs.geo.BlockSize)

	for i, b := range blocks {
		var chunk []byte
		if lo := i * size; lo < len(content) {
			chunk = content[lo:min(lo+size, len(content))]
		}

		if err := fs.cache.WritePageFor(b, chunk, owner); err != nil {
			return err
		}
	}

	return nil
}

// freeBlocks invalidates the cached page of each block, then frees it.
func (fs *FS) freeBlocks(blocks []uint32) error {
	for _, b := range blocks {
		fs.cache.Invalidate(b)

		if err := fs.table.Free(b); err != nil {
			return err
		}
	}

	return nil
}

// rollback releases blocks claimed by a failed multi-block operation.
func (fs *FS) rollback(name string, blocks []uint32) {
	if len(blocks) == 0 {
		return
	}

	if err := fs.freeBlocks(blocks); err != nil {
		fs.log.Warn("rollback incomplete", "file", name, "err", err)

		return
	}

	fs.log.Warn("rolled back", "file", name, "blocks", len(blocks))
}

// maxFileSize is the largest content one file can hold on this image.
func (fs *FS) maxFileSize() int64 {
	return int64(fs.geo.DataBlocks()) * int64(fs.geo.BlockSize)
}

func fileInfo(e dir.Entry, blocks int) FileInfo {
	return FileInfo{
		Name:    e.Name,
		Size:    e.Size,
		Start:   e.Start,
		Blocks:  blocks,
		Created: e.Created.Format("2006-01-02 15:04:05"),
		Perm:    e.Perm,
	}
}

// blockCount returns how many blocks size bytes occupy.
func blockCount(size, blockSize uint32) int {
	if size == 0 {
		return 0
	}

	return int((size + blockSize - 1) / blockSize)
}
