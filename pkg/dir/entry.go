package dir

import (
	"bytes"
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf8"
)

// Record format constants.
const (
	// EntrySize is the fixed record width in bytes. Block sizes are
	// multiples of it, so slots never straddle blocks.
	EntrySize = 64

	// MaxNameLen bounds the encoded name in bytes.
	MaxNameLen = 32

	// NoStart marks an entry whose file owns no blocks yet.
	NoStart uint32 = 0xFFFFFFFF

	// DefaultPerm is the permission string for entries created without
	// an explicit one.
	DefaultPerm = "rw-r--r--"

	// permLen is the encoded permission field width.
	permLen = 9
)

// Record field offsets (bytes from the start of a slot).
const (
	entOffName    = 0x00 // [32]byte, NUL padded UTF-8
	entOffSize    = 0x20 // uint32
	entOffStart   = 0x24 // uint32, NoStart when the file owns no blocks
	entOffCreated = 0x28 // int64, unix nanoseconds
	entOffPerm    = 0x30 // [9]byte
	entOffFlags   = 0x39 // uint8, reserved, written zero
	entOffPad     = 0x3A // zero through 0x3F
)

// Entry is one directory record.
type Entry struct {
	// Name is the stored file name. In hierarchical mode this is the
	// full cleaned path; in flat mode the final component only.
	Name string

	// Size is the file length in bytes.
	Size uint32

	// Start is the first block of the file's chain, or NoStart for an
	// empty file.
	Start uint32

	// Created is the creation timestamp.
	Created time.Time

	// Perm is the rwx style permission string.
	Perm string
}

// encodeEntry serializes e into a fixed width slot record.
func encodeEntry(e *Entry) []byte {
	buf := make([]byte, EntrySize)

	copy(buf[entOffName:entOffName+MaxNameLen], e.Name)
	binary.LittleEndian.PutUint32(buf[entOffSize:], e.Size)
	binary.LittleEndian.PutUint32(buf[entOffStart:], e.Start)
	binary.LittleEndian.PutUint64(buf[entOffCreated:], uint64(e.Created.UnixNano()))

	perm := e.Perm
	if perm == "" {
		perm = DefaultPerm
	}

	copy(buf[entOffPerm:entOffPerm+permLen], perm)

	return buf
}

// decodeEntry deserializes a slot record. The second return value is
// false for a slot that holds no entry: all zero, an empty or
// undecodable name, or a record shorter than one slot. Damaged slots
// are never an error, they just read as absent.
func decodeEntry(buf []byte) (Entry, bool) {
	if len(buf) < EntrySize {
		return Entry{}, false
	}

	name := buf[entOffName : entOffName+MaxNameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	trimmed := strings.TrimSpace(string(name))
	if trimmed == "" || !utf8.ValidString(trimmed) {
		return Entry{}, false
	}

	perm := buf[entOffPerm : entOffPerm+permLen]
	permStr := strings.TrimRight(string(perm), "\x00")

	if !validPerm(permStr) {
		permStr = DefaultPerm
	}

	return Entry{
		Name:    trimmed,
		Size:    binary.LittleEndian.Uint32(buf[entOffSize:]),
		Start:   binary.LittleEndian.Uint32(buf[entOffStart:]),
		Created: time.Unix(0, int64(binary.LittleEndian.Uint64(buf[entOffCreated:]))).UTC(),
		Perm:    permStr,
	}, true
}

// validPerm accepts a full rwx triad string.
func validPerm(s string) bool {
	if len(s) != permLen {
		return false
	}

	for i, r := range s {
		var want byte

		switch i % 3 {
		case 0:
			want = 'r'
		case 1:
			want = 'w'
		case 2:
			want = 'x'
		}

		if byte(r) != want && r != '-' {
			return false
		}
	}

	return true
}

// emptySlot reports whether the slot bytes hold no record at all.
func emptySlot(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}

	return true
}
