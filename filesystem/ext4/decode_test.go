package ext4

import (
	"errors"
	"testing"
)

func TestRecordFromBytesTruncated(t *testing.T) {
	if _, err := recordFromBytes(make([]byte, 11), 12, "extent"); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
	r, err := recordFromBytes(make([]byte, 20), 12, "extent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r) != 12 {
		t.Errorf("record has %d bytes, expected 12", len(r))
	}
}

func TestSplitFields(t *testing.T) {
	b := make([]byte, 16)
	putSplit32(b, 0x0, 0x4, 0x1122334455667788)
	putSplit16(b, 0x8, 0xc, 0xaabb_ccddeeff)
	putPair16(b, 0xe, 0x6, 0x12345678)
	r := record(b)

	if got := r.split32(0x0, 0x4); got != 0x1122334455667788 {
		t.Errorf("split32 = %#x", got)
	}
	if got := r.split16(0x8, 0xc); got != 0xaabb_ccddeeff {
		t.Errorf("split16 = %#x", got)
	}
	if got := r.pair16(0xe, 0x6); got != 0x12345678 {
		t.Errorf("pair16 = %#x", got)
	}
	// the high half of a 48-bit value sits in its own 16-bit field
	if got := r.u16(0xc); got != 0xaabb {
		t.Errorf("high half %#x", got)
	}
}

func TestCString(t *testing.T) {
	tests := []struct {
		b        []byte
		expected string
	}{
		{[]byte("label\x00\x00\x00"), "label"},
		{[]byte("fullwidth"), "fullwidth"},
		{[]byte("\x00junk"), ""},
	}
	for _, tt := range tests {
		if got := record(tt.b).cstring(0, len(tt.b)); got != tt.expected {
			t.Errorf("cstring(%q) = %q, expected %q", tt.b, got, tt.expected)
		}
	}
}

func TestRecordBytesCopies(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	out := record(b).bytes(1, 2)
	out[0] = 9
	if b[1] != 2 {
		t.Errorf("bytes returned a view onto the record")
	}
}
