package ext4

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/diskfs/ext4ls/internal/testimage"
)

func TestBitmapFromBytes(t *testing.T) {
	b := make([]byte, 12)
	b[0] = 0x01
	b[1] = 0x80
	b[8] = 0x01
	b[11] = 0x80
	bm := bitmapFromBytes(b)
	for _, bit := range []uint{0, 15, 64, 95} {
		if !bm.Test(bit) {
			t.Errorf("bit %d not set", bit)
		}
	}
	if bm.Count() != 4 {
		t.Errorf("%d bits set, expected 4", bm.Count())
	}
}

func TestInodeAllocated(t *testing.T) {
	img := testImage(t, testimage.Options{})
	fsys := openTestFilesystem(t, img)
	tests := []struct {
		n        uint32
		expected bool
	}{
		{1, true},
		{2, true},
		{10, true},
		{11, true},
		{16, true},
		{17, true},
		{18, false},
		{32, false},
	}
	for _, tt := range tests {
		got, err := fsys.InodeAllocated(tt.n)
		if err != nil {
			t.Fatalf("inode %d: unexpected error: %v", tt.n, err)
		}
		if got != tt.expected {
			t.Errorf("inode %d: allocated %v, expected %v", tt.n, got, tt.expected)
		}
	}
	if _, err := fsys.InodeAllocated(33); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestBlockAllocated(t *testing.T) {
	img := testImage(t, testimage.Options{})
	fsys := openTestFilesystem(t, img)
	last := img.DataBlock(img.Inode("/deep/er/est.txt"))
	tests := []struct {
		block    uint64
		expected bool
	}{
		{0, true},
		{1, true},
		{8, true},
		{uint64(last), true},
		{uint64(last) + 1, false},
		{256, false},
		{257, true},
		{264, true},
		{265, false},
		{511, false},
	}
	for _, tt := range tests {
		got, err := fsys.BlockAllocated(tt.block)
		if err != nil {
			t.Fatalf("block %d: unexpected error: %v", tt.block, err)
		}
		if got != tt.expected {
			t.Errorf("block %d: allocated %v, expected %v", tt.block, got, tt.expected)
		}
	}
	if _, err := fsys.BlockAllocated(testimage.BlockCount); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestAllocationUninitializedGroup(t *testing.T) {
	img := testImage(t, testimage.Options{})
	for _, off := range img.DescriptorOffsets(1) {
		binary.LittleEndian.PutUint16(img.Bytes()[off+0x12:], uint16(blockGroupFlagInodesUninitialized|blockGroupFlagBlockBitmapUninitialized))
	}
	fsys := openTestFilesystem(t, img)
	if got, err := fsys.InodeAllocated(17); err != nil || got {
		t.Errorf("inode in uninitialized group: %v %v", got, err)
	}
	if got, err := fsys.BlockAllocated(257); err != nil || got {
		t.Errorf("block in uninitialized group: %v %v", got, err)
	}
	// group 0 is untouched
	if got, err := fsys.InodeAllocated(2); err != nil || !got {
		t.Errorf("root inode: %v %v", got, err)
	}
}
