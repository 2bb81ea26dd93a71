package ext4

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/diskfs/ext4ls/internal/testimage"
	"github.com/go-test/deep"
	"github.com/sirupsen/logrus/hooks/test"
)

// extentRoot encodes an i_block area holding a node header and entries
func extentRoot(eh extentTreeHeader, entries ...[]byte) [60]byte {
	var root [60]byte
	copy(root[:], eh.toBytes())
	for i, e := range entries {
		copy(root[extentTreeHeaderLength+i*extentTreeEntryLength:], e)
	}
	return root
}

func extentInode(root [60]byte) *inode {
	return &inode{number: 12, mode: fileModeRegularFile, flags: inodeFlagUsesExtents, blockData: root}
}

func TestExtentsForLeafRoot(t *testing.T) {
	root := extentRoot(
		extentTreeHeader{magic: extentHeaderSignature, entries: 1, max: 4},
		Extent{FileBlock: 0, Count: 4, StartingBlock: 100}.toBytes(),
	)
	extents, err := extentsFor(extentInode(root))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := deep.Equal(extents, []Extent{{FileBlock: 0, StartingBlock: 100, Count: 4}}); diff != nil {
		t.Errorf("extents: %v", diff)
	}

	empty := extentRoot(extentTreeHeader{magic: extentHeaderSignature, max: 4})
	extents, err = extentsFor(extentInode(empty))
	if err != nil || len(extents) != 0 {
		t.Errorf("empty root returned %v %v", extents, err)
	}
}

func TestExtentFromBytes(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		expected Extent
	}{
		{"48-bit start", []byte{5, 0, 0, 0, 3, 0, 0x01, 0x00, 0x10, 0, 0, 0}, Extent{FileBlock: 5, Count: 3, StartingBlock: 1<<32 + 0x10}},
		{"longest initialized", []byte{0, 0, 0, 0, 0x00, 0x80, 0, 0, 1, 0, 0, 0}, Extent{Count: 32768, StartingBlock: 1}},
		{"uninitialized", []byte{0, 0, 0, 0, 0x01, 0x80, 0, 0, 1, 0, 0, 0}, Extent{Count: 1, StartingBlock: 1, Uninitialized: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := extentFromBytes(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := deep.Equal(e, tt.expected); diff != nil {
				t.Errorf("decoded: %v", diff)
			}
			if diff := deep.Equal(e.toBytes(), tt.raw); diff != nil {
				t.Errorf("encoded: %v", diff)
			}
		})
	}
}

func TestExtentsForUnsupported(t *testing.T) {
	tests := []struct {
		name    string
		in      *inode
		feature string
	}{
		{"inline data", &inode{flags: inodeFlagInlineData | inodeFlagUsesExtents}, FeatureInlineData},
		{"block map", &inode{}, FeatureBlockMap},
		{"internal node", extentInode(extentRoot(
			extentTreeHeader{magic: extentHeaderSignature, entries: 1, max: 4, depth: 1},
			extentIndex{fileBlock: 0, leaf: 1 << 33}.toBytes(),
		)), FeatureInternalExtentNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := extentsFor(tt.in)
			var uf *UnsupportedFeatureError
			if !errors.As(err, &uf) || uf.Feature != tt.feature {
				t.Errorf("expected unsupported %s, got %v", tt.feature, err)
			}
		})
	}
}

func TestExtentsForCorrupt(t *testing.T) {
	tests := []struct {
		name string
		eh   extentTreeHeader
	}{
		{"bad magic", extentTreeHeader{magic: 0xf30b, entries: 1, max: 4}},
		{"too deep", extentTreeHeader{magic: extentHeaderSignature, entries: 1, max: 4, depth: 6}},
		{"entries over max", extentTreeHeader{magic: extentHeaderSignature, entries: 5, max: 4}},
		{"max over capacity", extentTreeHeader{magic: extentHeaderSignature, entries: 1, max: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := extentsFor(extentInode(extentRoot(tt.eh)))
			if !errors.Is(err, ErrCorruptFormat) {
				t.Errorf("expected ErrCorruptFormat, got %v", err)
			}
		})
	}
}

func TestExtentIndexRoundTrip(t *testing.T) {
	ei := extentIndex{fileBlock: 1000, leaf: 1<<40 + 77}
	out, err := extentIndexFromBytes(ei.toBytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != ei {
		t.Errorf("got %+v, expected %+v", out, ei)
	}
}

func TestExtentsInternalNodeReadsNothing(t *testing.T) {
	img := testImage(t, testimage.Options{})
	n := img.Inode("/docs/readme.md")
	root := extentRoot(
		extentTreeHeader{magic: extentHeaderSignature, entries: 1, max: 4, depth: 1},
		extentIndex{fileBlock: 0, leaf: 40}.toBytes(),
	)
	copy(img.Bytes()[img.InodeOffset(n)+0x28:], root[:])

	cr := &countingReader{r: img}
	logger, _ := test.NewNullLogger()
	fsys, err := Read(cr, int64(len(img.Bytes())), 0, 0, WithLogger(logger))
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	before := cr.count()
	_, err = fsys.Extents(n)
	if !errors.Is(err, ErrUnsupportedFeature) {
		t.Fatalf("expected ErrUnsupportedFeature, got %v", err)
	}
	// the group descriptor and the inode, never the leaf block
	if got := cr.count() - before; got != 2 {
		t.Errorf("%d reads, expected 2", got)
	}
}

func TestExtentsFromImage(t *testing.T) {
	img := testImage(t, testimage.Options{})
	fsys := openTestFilesystem(t, img)
	n := img.Inode("/docs/readme.md")
	extents, err := fsys.Extents(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []Extent{{FileBlock: 0, StartingBlock: uint64(img.DataBlock(n)), Count: 3}}
	if diff := deep.Equal(extents, expected); diff != nil {
		t.Errorf("extents: %v", diff)
	}
	if got := binary.LittleEndian.Uint16(img.Bytes()[img.InodeOffset(n)+0x28:]); got != extentHeaderSignature {
		t.Errorf("fixture extent magic %#x", got)
	}
}
