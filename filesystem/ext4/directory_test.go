package ext4

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/diskfs/ext4ls/internal/testimage"
	"github.com/go-test/deep"
	"github.com/sirupsen/logrus/hooks/test"
)

// directoryBlock lays entries out back to back, stretching the last one to the end of the block
func directoryBlock(blockSize uint64, withFileType bool, entries ...DirectoryEntry) []byte {
	b := make([]byte, 0, blockSize)
	for i, e := range entries {
		length := minRecordLength(e.Name)
		if i == len(entries)-1 {
			length = uint32(blockSize) - uint32(len(b))
		}
		de := directoryEntry{DirectoryEntry: e, recordLength: length}
		b = append(b, de.toBytes(blockSize, withFileType)...)
	}
	return b
}

func TestParseDirectoryBlock(t *testing.T) {
	entries := []DirectoryEntry{
		{Inode: 2, Type: FileTypeDirectory, Name: "."},
		{Inode: 2, Type: FileTypeDirectory, Name: ".."},
		{Inode: 11, Type: FileTypeRegularFile, Name: "a"},
		{Inode: 12, Type: FileTypeSymbolicLink, Name: "a-rather-longer-name"},
	}
	for _, withFileType := range []bool{true, false} {
		b := directoryBlock(1024, withFileType, entries...)
		got, err := parseDirectoryBlock(b, 1024, withFileType)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expected := append([]DirectoryEntry{}, entries...)
		if !withFileType {
			for i := range expected {
				expected[i].Type = FileTypeUnknown
			}
		}
		if diff := deep.Equal(got, expected); diff != nil {
			t.Errorf("filetype=%v: %v", withFileType, diff)
		}
	}
}

func TestParseDirectoryBlockStopsAtEmptyEntry(t *testing.T) {
	b := directoryBlock(1024, true,
		DirectoryEntry{Inode: 2, Type: FileTypeDirectory, Name: "."},
		DirectoryEntry{Inode: 2, Type: FileTypeDirectory, Name: ".."},
		DirectoryEntry{Inode: 0, Name: ""},
	)
	// garbage after the terminator is never looked at
	copy(b[100:], []byte{0xff, 0xff, 0xff, 0xff, 0x03, 0x00})
	got, err := parseDirectoryBlock(b, 1024, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].Name != ".." {
		t.Errorf("got %v", got)
	}

	empty := directoryBlock(1024, true, DirectoryEntry{Inode: 0})
	if got, err := parseDirectoryBlock(empty, 1024, true); err != nil || len(got) != 0 {
		t.Errorf("empty block returned %v %v", got, err)
	}
}

func TestParseDirectoryBlockZeroFilledTail(t *testing.T) {
	b := make([]byte, 1024)
	expected := []DirectoryEntry{
		{Inode: 2, Type: FileTypeDirectory, Name: "."},
		{Inode: 2, Type: FileTypeDirectory, Name: ".."},
	}
	for i, e := range expected {
		de := directoryEntry{DirectoryEntry: e, recordLength: 12}
		copy(b[12*i:], de.toBytes(1024, true))
	}
	got, err := parseDirectoryBlock(b, 1024, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := deep.Equal(got, expected); diff != nil {
		t.Error(diff)
	}
}

func TestParseDirectoryBlockCorrupt(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b []byte)
	}{
		{"zero record length", func(b []byte) { binary.LittleEndian.PutUint16(b[12+4:], 0) }},
		{"short record length", func(b []byte) { binary.LittleEndian.PutUint16(b[12+4:], 4) }},
		{"unaligned record length", func(b []byte) { binary.LittleEndian.PutUint16(b[12+4:], 14) }},
		{"record past block end", func(b []byte) { binary.LittleEndian.PutUint16(b[12+4:], 1020) }},
		{"name past record", func(b []byte) { b[12+6] = 5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := directoryBlock(1024, true,
				DirectoryEntry{Inode: 2, Type: FileTypeDirectory, Name: "."},
				DirectoryEntry{Inode: 2, Type: FileTypeDirectory, Name: ".."},
				DirectoryEntry{Inode: 11, Type: FileTypeRegularFile, Name: "file"},
			)
			tt.mutate(b)
			if _, err := parseDirectoryBlock(b, 1024, true); !errors.Is(err, ErrCorruptFormat) {
				t.Errorf("expected ErrCorruptFormat, got %v", err)
			}
		})
	}
}

func TestRecordLength64K(t *testing.T) {
	tests := []struct {
		length  uint32
		encoded uint16
	}{
		{65536, 0xffff},
		{65532, 0xfffc},
		{12, 12},
	}
	for _, tt := range tests {
		if got := encodeRecordLength(tt.length, bigRecordBlockSize); got != tt.encoded {
			t.Errorf("encode %d = %#x", tt.length, got)
		}
		if got := decodeRecordLength(tt.encoded, bigRecordBlockSize); got != tt.length {
			t.Errorf("decode %#x = %d", tt.encoded, got)
		}
	}
	if got := decodeRecordLength(0, bigRecordBlockSize); got != 65536 {
		t.Errorf("decode 0 = %d", got)
	}
	// smaller blocks store the length as is
	if got := decodeRecordLength(0xffff, 4096); got != 0xffff {
		t.Errorf("decode on 4KiB block = %d", got)
	}

	b := directoryBlock(bigRecordBlockSize, true,
		DirectoryEntry{Inode: 2, Type: FileTypeDirectory, Name: "."},
		DirectoryEntry{Inode: 2, Type: FileTypeDirectory, Name: ".."},
	)
	got, err := parseDirectoryBlock(b, bigRecordBlockSize, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d entries from a 64KiB block", len(got))
	}
}

func TestReadDirectoryUnsupported(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(img *testimage.Image, off int64)
		feature string
	}{
		{"hashed", func(img *testimage.Image, off int64) {
			flags := binary.LittleEndian.Uint32(img.Bytes()[off+0x20:])
			binary.LittleEndian.PutUint32(img.Bytes()[off+0x20:], flags|uint32(inodeFlagHashedDirectoryIndexes))
		}, FeatureHashedDirectory},
		{"two extents", func(img *testimage.Image, off int64) {
			root := extentRoot(
				extentTreeHeader{magic: extentHeaderSignature, entries: 2, max: 4},
				Extent{FileBlock: 0, Count: 1, StartingBlock: 11}.toBytes(),
				Extent{FileBlock: 1, Count: 1, StartingBlock: 40}.toBytes(),
			)
			copy(img.Bytes()[off+0x28:], root[:])
		}, FeatureMultiExtentDirectory},
		{"inline", func(img *testimage.Image, off int64) {
			flags := binary.LittleEndian.Uint32(img.Bytes()[off+0x20:])
			binary.LittleEndian.PutUint32(img.Bytes()[off+0x20:], flags|uint32(inodeFlagInlineData))
		}, FeatureInlineData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := testImage(t, testimage.Options{})
			n := img.Inode("/docs")
			tt.mutate(img, img.InodeOffset(n))
			fsys := openTestFilesystem(t, img)
			_, err := fsys.ListDirectory(n)
			var uf *UnsupportedFeatureError
			if !errors.As(err, &uf) || uf.Feature != tt.feature {
				t.Errorf("expected unsupported %s, got %v", tt.feature, err)
			}
		})
	}
}

func TestReadDirectoryBoundedBySize(t *testing.T) {
	img := testImage(t, testimage.Options{})
	n := img.Inode("/docs")
	// the extent covers the readme blocks too, i_size still says one block
	binary.LittleEndian.PutUint16(img.Bytes()[img.InodeOffset(n)+0x28+12+4:], 4)
	fsys := openTestFilesystem(t, img)
	entries, err := fsys.ListDirectory(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, expected 3", len(entries))
	}

	// past i_size the blocks hold file data, which is not a directory block
	binary.LittleEndian.PutUint32(img.Bytes()[img.InodeOffset(n)+0x4:], 2048)
	fsys = openTestFilesystem(t, img)
	if _, err := fsys.ListDirectory(n); !errors.Is(err, ErrCorruptFormat) {
		t.Errorf("expected ErrCorruptFormat, got %v", err)
	}
}

func TestReadDirectoryZeroSize(t *testing.T) {
	img := testImage(t, testimage.Options{})
	n := img.Inode("/docs")
	binary.LittleEndian.PutUint32(img.Bytes()[img.InodeOffset(n)+0x4:], 0)
	cr := &countingReader{r: img}
	logger, _ := test.NewNullLogger()
	fsys, err := Read(cr, int64(len(img.Bytes())), 0, 0, WithLogger(logger))
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	in, err := fsys.readInode(n)
	if err != nil {
		t.Fatalf("readInode error: %v", err)
	}
	before := cr.count()
	entries, err := fsys.readDirectory(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries, expected none", len(entries))
	}
	if reads := cr.count() - before; reads != 0 {
		t.Errorf("read storage %d times, expected none", reads)
	}
}
