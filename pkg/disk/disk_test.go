package disk

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// newTestDevice opens a fresh image in a temp dir and closes it on
// cleanup.
func newTestDevice(t *testing.T) *Device {
	t.Helper()

	dev, err := Open(Options{Path: filepath.Join(t.TempDir(), "test.img")})
	if err != nil {
		t.Fatalf("open device: %v", err)
	}

	t.Cleanup(func() { _ = dev.Close() })

	return dev
}

func Test_Open_Formats_Image_When_File_Missing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fresh.img")

	dev, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	geo := dev.Geometry()
	if geo != DefaultGeometry() {
		t.Errorf("geometry = %+v, want default %+v", geo, DefaultGeometry())
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat image: %v", err)
	}

	if st.Size() != geo.ImageSize() {
		t.Errorf("image size = %d, want %d", st.Size(), geo.ImageSize())
	}

	sb := dev.Superblock()
	if sb.Version != formatVersion {
		t.Errorf("superblock version = %d, want %d", sb.Version, formatVersion)
	}

	if sb.DataStart != geo.DataStart() {
		t.Errorf("superblock data start = %d, want %d", sb.DataStart, geo.DataStart())
	}
}

func Test_Open_Reuses_Existing_Image_When_Reopened(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "persist.img")

	dev, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}

	want := []byte("survives a close and reopen")

	if err := dev.WriteBlock(100, want); err != nil {
		t.Fatalf("write block: %v", err)
	}

	if err := dev.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	dev, err = Open(Options{Path: path})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer dev.Close()

	got, err := dev.ReadBlock(100)
	if err != nil {
		t.Fatalf("read block: %v", err)
	}

	if !bytes.Equal(got[:len(want)], want) {
		t.Errorf("block 100 = %q, want prefix %q", got, want)
	}
}

func Test_Open_Returns_ErrSuperblock_When_Header_Damaged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		corrupt func(t *testing.T, path string)
	}{
		{
			name: "magic overwritten",
			corrupt: func(t *testing.T, path string) {
				t.Helper()
				writeAt(t, path, 0, []byte{0xFF})
			},
		},
		{
			name: "geometry field flipped",
			corrupt: func(t *testing.T, path string) {
				t.Helper()
				// Bump the recorded block size without fixing the CRC.
				writeAt(t, path, offBlockSize, []byte{0x80})
			},
		},
		{
			name: "file truncated below header",
			corrupt: func(t *testing.T, path string) {
				t.Helper()
				if err := os.Truncate(path, 10); err != nil {
					t.Fatalf("truncate: %v", err)
				}
			},
		},
		{
			name: "file truncated below image size",
			corrupt: func(t *testing.T, path string) {
				t.Helper()
				if err := os.Truncate(path, 4096); err != nil {
					t.Fatalf("truncate: %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "victim.img")

			dev, err := Open(Options{Path: path})
			if err != nil {
				t.Fatalf("open: %v", err)
			}

			if err := dev.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			tt.corrupt(t, path)

			_, err = Open(Options{Path: path})
			if !errors.Is(err, ErrSuperblock) {
				t.Fatalf("reopen error = %v, want ErrSuperblock", err)
			}
		})
	}
}

func Test_Open_Returns_ErrSuperblock_When_Requested_Geometry_Differs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "small.img")

	dev, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := dev.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err = Open(Options{
		Path:     path,
		Geometry: Geometry{BlockSize: 128, TotalBlocks: 512, DirBlocks: 8},
	})
	if !errors.Is(err, ErrSuperblock) {
		t.Fatalf("open error = %v, want ErrSuperblock", err)
	}
}

func Test_Open_Returns_ErrInvalidInput_When_Path_Empty(t *testing.T) {
	t.Parallel()

	_, err := Open(Options{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("open error = %v, want ErrInvalidInput", err)
	}
}

func Test_Block_Ops_Return_ErrOutOfRange_When_Index_Past_End(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t)
	total := dev.Geometry().TotalBlocks

	for _, index := range []uint32{total, total + 1, ^uint32(0)} {
		if _, err := dev.ReadBlock(index); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ReadBlock(%d) error = %v, want ErrOutOfRange", index, err)
		}

		if err := dev.WriteBlock(index, []byte("x")); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("WriteBlock(%d) error = %v, want ErrOutOfRange", index, err)
		}
	}
}

func Test_WriteBlock_Zero_Pads_When_Input_Short(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t)
	size := int(dev.Geometry().BlockSize)

	// Dirty the block first so stale bytes would show through a
	// missing pad.
	if err := dev.WriteBlock(200, bytes.Repeat([]byte{0xAA}, size)); err != nil {
		t.Fatalf("prefill: %v", err)
	}

	if err := dev.WriteBlock(200, []byte("short")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := dev.ReadBlock(200)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	want := make([]byte, size)
	copy(want, "short")

	if !bytes.Equal(got, want) {
		t.Errorf("block = %v, want %v", got, want)
	}
}

func Test_WriteBlock_Truncates_When_Input_Oversize(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t)
	size := int(dev.Geometry().BlockSize)

	input := make([]byte, size+16)
	for i := range input {
		input[i] = byte(i)
	}

	if err := dev.WriteBlock(300, input); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := dev.ReadBlock(300)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if !bytes.Equal(got, input[:size]) {
		t.Errorf("block = %v, want first %d input bytes", got, size)
	}
}

func Test_ReadBlock_Returns_Detached_Copy_When_Mutated(t *testing.T) {
	t.Parallel()

	dev := newTestDevice(t)

	if err := dev.WriteBlock(5, []byte("stable")); err != nil {
		t.Fatalf("write: %v", err)
	}

	first, err := dev.ReadBlock(5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	for i := range first {
		first[i] = 0xFF
	}

	second, err := dev.ReadBlock(5)
	if err != nil {
		t.Fatalf("reread: %v", err)
	}

	if !bytes.HasPrefix(second, []byte("stable")) {
		t.Errorf("block changed through returned slice: %q", second[:6])
	}
}

func Test_Sync_Reaches_Backing_File_When_Called(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sync.img")

	dev, err := Open(Options{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	if err := dev.WriteBlock(7, []byte("durable")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := dev.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read image file: %v", err)
	}

	off := 7 * int(dev.Geometry().BlockSize)
	if !bytes.HasPrefix(raw[off:], []byte("durable")) {
		t.Errorf("backing file missing block content at offset %d", off)
	}
}

func Test_Device_Returns_ErrClosed_When_Used_After_Close(t *testing.T) {
	t.Parallel()

	dev, err := Open(Options{Path: filepath.Join(t.TempDir(), "closed.img")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := dev.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := dev.ReadBlock(0); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadBlock error = %v, want ErrClosed", err)
	}

	if err := dev.WriteBlock(0, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteBlock error = %v, want ErrClosed", err)
	}

	if err := dev.Sync(); !errors.Is(err, ErrClosed) {
		t.Errorf("Sync error = %v, want ErrClosed", err)
	}

	if err := dev.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close error = %v, want ErrClosed", err)
	}
}

// writeAt patches raw bytes into a closed image file.
func writeAt(t *testing.T, path string, off int64, b []byte) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open for patch: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(b, off); err != nil {
		t.Fatalf("patch at %d: %v", off, err)
	}
}
