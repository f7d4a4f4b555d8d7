package dir

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"fatsim/pkg/disk"
)

// testGeometry gives the store 2 directory blocks of 128 bytes, so 4
// entry slots in total.
func testGeometry() disk.Geometry {
	return disk.Geometry{BlockSize: 128, TotalBlocks: 64, DirBlocks: 2}
}

// memDevice is an in-memory block store for directory tests.
type memDevice struct {
	geo    disk.Geometry
	blocks [][]byte
}

func newMemDevice(geo disk.Geometry) *memDevice {
	blocks := make([][]byte, geo.TotalBlocks)
	for i := range blocks {
		blocks[i] = make([]byte, geo.BlockSize)
	}

	return &memDevice{geo: geo, blocks: blocks}
}

func (d *memDevice) ReadBlock(index uint32) ([]byte, error) {
	if index >= d.geo.TotalBlocks {
		return nil, fmt.Errorf("mem device: read block %d out of range", index)
	}

	out := make([]byte, d.geo.BlockSize)
	copy(out, d.blocks[index])

	return out, nil
}

func (d *memDevice) WriteBlock(index uint32, data []byte) error {
	if index >= d.geo.TotalBlocks {
		return fmt.Errorf("mem device: write block %d out of range", index)
	}

	buf := make([]byte, d.geo.BlockSize)
	copy(buf, data)
	d.blocks[index] = buf

	return nil
}

func newTestStore(t *testing.T) (*Store, *memDevice) {
	t.Helper()

	dev := newMemDevice(testGeometry())

	store, err := New(dev, testGeometry(), Options{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	return store, dev
}

func testEntry(name string) Entry {
	return Entry{
		Name:    name,
		Size:    1234,
		Start:   42,
		Created: time.Unix(0, 1700000000123456789).UTC(),
		Perm:    "rw-r--r--",
	}
}

func Test_Add_Then_Find_Round_Trips_When_Entry_Valid(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	want := testEntry("a.txt")

	if err := store.Add(want); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := store.Find("a.txt")
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

func Test_Add_Returns_ErrNameCollision_When_Name_Exists(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	if err := store.Add(testEntry("a.txt")); err != nil {
		t.Fatalf("first add: %v", err)
	}

	if err := store.Add(testEntry("a.txt")); !errors.Is(err, ErrNameCollision) {
		t.Fatalf("second add error = %v, want ErrNameCollision", err)
	}
}

func Test_Add_Returns_ErrDirectoryFull_When_All_Slots_Used(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	for i := range store.Capacity() {
		if err := store.Add(testEntry(fmt.Sprintf("f%d.txt", i))); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	if err := store.Add(testEntry("overflow.txt")); !errors.Is(err, ErrDirectoryFull) {
		t.Fatalf("add past capacity error = %v, want ErrDirectoryFull", err)
	}
}

func Test_Add_Returns_ErrBadName_When_Name_Does_Not_Fit(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	for _, name := range []string{"", strings.Repeat("x", MaxNameLen+1)} {
		if err := store.Add(testEntry(name)); !errors.Is(err, ErrBadName) {
			t.Errorf("Add(%q) error = %v, want ErrBadName", name, err)
		}
	}
}

func Test_Find_Returns_ErrNotFound_When_Name_Missing(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	if _, err := store.Find("ghost.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("find error = %v, want ErrNotFound", err)
	}
}

func Test_Remove_Frees_Slot_When_Entry_Deleted(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	for i := range store.Capacity() {
		if err := store.Add(testEntry(fmt.Sprintf("f%d.txt", i))); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	if err := store.Remove("f1.txt"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := store.Find("f1.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("find removed entry error = %v, want ErrNotFound", err)
	}

	// The freed slot is available again.
	if err := store.Add(testEntry("reuse.txt")); err != nil {
		t.Fatalf("add into freed slot: %v", err)
	}
}

func Test_Remove_Returns_ErrNotFound_When_Name_Missing(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	if err := store.Remove("ghost.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("remove error = %v, want ErrNotFound", err)
	}
}

func Test_Update_Rewrites_In_Place_When_Entry_Exists(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		if err := store.Add(testEntry(name)); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	updated := testEntry("b.txt")
	updated.Size = 9999
	updated.Start = 77

	if err := store.Update(updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.Find("b.txt")
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	if got.Size != 9999 || got.Start != 77 {
		t.Errorf("entry after update = %+v", got)
	}

	// The slot does not move, so listing order is unchanged.
	entries, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}

	want := []string{"a.txt", "b.txt", "c.txt"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("list order mismatch (-want +got):\n%s", diff)
	}
}

func Test_Update_Returns_ErrNotFound_When_Name_Missing(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	if err := store.Update(testEntry("ghost.txt")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update error = %v, want ErrNotFound", err)
	}
}

func Test_List_Skips_Damaged_Slots_When_Region_Dirty(t *testing.T) {
	t.Parallel()

	store, dev := newTestStore(t)
	geo := testGeometry()

	if err := store.Add(testEntry("good.txt")); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Slot 1 of the first directory block: undecodable garbage.
	data, err := dev.ReadBlock(geo.DirStart())
	if err != nil {
		t.Fatalf("read dir block: %v", err)
	}

	copy(data[EntrySize:2*EntrySize], bytes.Repeat([]byte{0xFF}, EntrySize))

	if err := dev.WriteBlock(geo.DirStart(), data); err != nil {
		t.Fatalf("write dir block: %v", err)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(entries) != 1 || entries[0].Name != "good.txt" {
		t.Errorf("list = %+v, want only good.txt", entries)
	}
}

func Test_Add_Does_Not_Reuse_Damaged_Slot_When_Bytes_Nonzero(t *testing.T) {
	t.Parallel()

	store, dev := newTestStore(t)
	geo := testGeometry()

	// Fill every slot but one, then plant garbage in the free one.
	for i := range store.Capacity() - 1 {
		if err := store.Add(testEntry(fmt.Sprintf("f%d.txt", i))); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	last := geo.DirStart() + geo.DirBlocks - 1

	data, err := dev.ReadBlock(last)
	if err != nil {
		t.Fatalf("read dir block: %v", err)
	}

	copy(data[len(data)-EntrySize:], bytes.Repeat([]byte{0xFF}, EntrySize))

	if err := dev.WriteBlock(last, data); err != nil {
		t.Fatalf("write dir block: %v", err)
	}

	// The damaged slot reads as absent but is not handed out, so the
	// directory reports full rather than overwriting unknown bytes.
	if err := store.Add(testEntry("late.txt")); !errors.Is(err, ErrDirectoryFull) {
		t.Fatalf("add error = %v, want ErrDirectoryFull", err)
	}
}

func Test_Add_Defaults_Permissions_When_Empty(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	e := testEntry("perm.txt")
	e.Perm = ""

	if err := store.Add(e); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := store.Find("perm.txt")
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	if got.Perm != DefaultPerm {
		t.Errorf("perm = %q, want %q", got.Perm, DefaultPerm)
	}
}

func Test_Capacity_Counts_Slots_When_Derived_From_Geometry(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	// 2 blocks of 128 bytes, 64 byte records.
	if got := store.Capacity(); got != 4 {
		t.Errorf("capacity = %d, want 4", got)
	}
}
