package dir

import (
	"bytes"
	"testing"
	"time"
)

func Test_DecodeEntry_Reads_Slot_As_Absent_When_Undecodable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		buf  []byte
	}{
		{"all zero", make([]byte, EntrySize)},
		{"truncated", make([]byte, EntrySize-1)},
		{"invalid utf8 name", bytes.Repeat([]byte{0xFF}, EntrySize)},
		{"whitespace name", append([]byte("   \x00"), make([]byte, EntrySize-4)...)},
		{
			"zero name with payload",
			func() []byte {
				b := make([]byte, EntrySize)
				b[entOffSize] = 0xAB

				return b
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, ok := decodeEntry(tt.buf); ok {
				t.Errorf("decodeEntry read a damaged slot as present")
			}
		})
	}
}

func Test_DecodeEntry_Falls_Back_To_Default_Perm_When_Field_Mangled(t *testing.T) {
	t.Parallel()

	e := Entry{Name: "x.txt", Perm: "rw-r--r--", Created: time.Unix(0, 0).UTC()}
	buf := encodeEntry(&e)

	copy(buf[entOffPerm:entOffPerm+permLen], "garbage!!")

	got, ok := decodeEntry(buf)
	if !ok {
		t.Fatalf("decodeEntry rejected a valid record")
	}

	if got.Perm != DefaultPerm {
		t.Errorf("perm = %q, want %q", got.Perm, DefaultPerm)
	}
}

func Test_EncodeEntry_Round_Trips_When_File_Owns_No_Blocks(t *testing.T) {
	t.Parallel()

	want := Entry{
		Name:    "empty.txt",
		Size:    0,
		Start:   NoStart,
		Created: time.Unix(0, 42).UTC(),
		Perm:    DefaultPerm,
	}

	got, ok := decodeEntry(encodeEntry(&want))
	if !ok {
		t.Fatalf("decodeEntry rejected a valid record")
	}

	if got != want {
		t.Errorf("entry = %+v, want %+v", got, want)
	}
}
