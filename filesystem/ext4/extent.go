package ext4

import (
	"fmt"
)

const (
	extentHeaderSignature  uint16 = 0xf30a
	extentTreeHeaderLength int    = 12
	extentTreeEntryLength  int    = 12
	extentTreeMaxDepth     uint16 = 5
	// extentInitializedMaxLength is the longest initialized extent; longer
	// on-disk lengths mark an uninitialized extent of length-32768 blocks
	extentInitializedMaxLength uint16 = 32768
)

// Extent is a contiguous run of physical blocks backing a contiguous run of
// logical file blocks
type Extent struct {
	// FileBlock is the first logical block covered
	FileBlock uint32
	// StartingBlock is the first physical block
	StartingBlock uint64
	// Count is the number of blocks
	Count uint16
	// Uninitialized extents are allocated but read as zeros
	Uninitialized bool
}

// contains reports whether logical block fileBlock falls inside the extent
func (e Extent) contains(fileBlock uint64) bool {
	return fileBlock >= uint64(e.FileBlock) && fileBlock < uint64(e.FileBlock)+uint64(e.Count)
}

type extentTreeHeader struct {
	magic      uint16
	entries    uint16
	max        uint16
	depth      uint16
	generation uint32
}

// parseExtentTreeHeader decodes and checks the header of an extent node held in b
func parseExtentTreeHeader(b []byte) (extentTreeHeader, error) {
	r, err := recordFromBytes(b, extentTreeHeaderLength, "extent header")
	if err != nil {
		return extentTreeHeader{}, err
	}
	eh := extentTreeHeader{
		magic:      r.u16(0x0),
		entries:    r.u16(0x2),
		max:        r.u16(0x4),
		depth:      r.u16(0x6),
		generation: r.u32(0x8),
	}
	switch {
	case eh.magic != extentHeaderSignature:
		return eh, fmt.Errorf("%w: extent header signature %#x instead of %#x", ErrCorruptFormat, eh.magic, extentHeaderSignature)
	case eh.depth > extentTreeMaxDepth:
		return eh, fmt.Errorf("%w: extent tree depth %d exceeds %d", ErrCorruptFormat, eh.depth, extentTreeMaxDepth)
	case eh.entries > eh.max:
		return eh, fmt.Errorf("%w: extent node has %d entries but room for %d", ErrCorruptFormat, eh.entries, eh.max)
	case extentTreeHeaderLength+int(eh.max)*extentTreeEntryLength > len(b):
		return eh, fmt.Errorf("%w: extent node capacity %d does not fit in %d bytes", ErrCorruptFormat, eh.max, len(b))
	}
	return eh, nil
}

func (eh extentTreeHeader) toBytes() []byte {
	b := make([]byte, extentTreeHeaderLength)
	putU16(b, 0x0, eh.magic)
	putU16(b, 0x2, eh.entries)
	putU16(b, 0x4, eh.max)
	putU16(b, 0x6, eh.depth)
	putU32(b, 0x8, eh.generation)
	return b
}

func extentFromBytes(b []byte) (Extent, error) {
	r, err := recordFromBytes(b, extentTreeEntryLength, "extent")
	if err != nil {
		return Extent{}, err
	}
	e := Extent{
		FileBlock:     r.u32(0x0),
		Count:         r.u16(0x4),
		StartingBlock: r.split16(0x8, 0x6),
	}
	if e.Count > extentInitializedMaxLength {
		e.Count -= extentInitializedMaxLength
		e.Uninitialized = true
	}
	return e, nil
}

func (e Extent) toBytes() []byte {
	b := make([]byte, extentTreeEntryLength)
	count := e.Count
	if e.Uninitialized {
		count += extentInitializedMaxLength
	}
	putU32(b, 0x0, e.FileBlock)
	putU16(b, 0x4, count)
	putSplit16(b, 0x8, 0x6, e.StartingBlock)
	return b
}

// extentIndex is an internal node entry pointing at the next level down
type extentIndex struct {
	fileBlock uint32
	leaf      uint64
}

func extentIndexFromBytes(b []byte) (extentIndex, error) {
	r, err := recordFromBytes(b, extentTreeEntryLength, "extent index")
	if err != nil {
		return extentIndex{}, err
	}
	return extentIndex{
		fileBlock: r.u32(0x0),
		leaf:      r.split16(0x4, 0x8),
	}, nil
}

func (ei extentIndex) toBytes() []byte {
	b := make([]byte, extentTreeEntryLength)
	putU32(b, 0x0, ei.fileBlock)
	putSplit16(b, 0x4, 0x8, ei.leaf)
	return b
}

// extentEntry returns the bytes of entry i of the node in b
func extentEntry(b []byte, i int) []byte {
	start := extentTreeHeaderLength + i*extentTreeEntryLength
	return b[start : start+extentTreeEntryLength]
}

// parseExtentLeaves decodes the leaf entries of a depth 0 node, in on-disk order
func parseExtentLeaves(b []byte, eh extentTreeHeader) ([]Extent, error) {
	extents := make([]Extent, 0, eh.entries)
	for i := 0; i < int(eh.entries); i++ {
		e, err := extentFromBytes(extentEntry(b, i))
		if err != nil {
			return nil, err
		}
		extents = append(extents, e)
	}
	return extents, nil
}

func parseExtentIndexes(b []byte, eh extentTreeHeader) ([]extentIndex, error) {
	indexes := make([]extentIndex, 0, eh.entries)
	for i := 0; i < int(eh.entries); i++ {
		ei, err := extentIndexFromBytes(extentEntry(b, i))
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, ei)
	}
	return indexes, nil
}

// extentsFor walks the extent tree rooted in the inode's i_block area. Only
// trees whose root is a leaf are walked; the walk never reads from storage.
func extentsFor(in *inode) ([]Extent, error) {
	if in.flags.inlineData() {
		return nil, unsupported(FeatureInlineData)
	}
	if !in.flags.usesExtents() {
		return nil, unsupported(FeatureBlockMap)
	}
	root := in.blockData[:]
	eh, err := parseExtentTreeHeader(root)
	if err != nil {
		return nil, fmt.Errorf("inode %d: %w", in.number, err)
	}
	if eh.depth > 0 {
		if _, err := parseExtentIndexes(root, eh); err != nil {
			return nil, fmt.Errorf("inode %d: %w", in.number, err)
		}
		return nil, unsupported(FeatureInternalExtentNode)
	}
	return parseExtentLeaves(root, eh)
}

// Extents returns the extents backing inode n in on-disk order
func (fs *FileSystem) Extents(n uint32) ([]Extent, error) {
	in, err := fs.readInode(n)
	if err != nil {
		return nil, err
	}
	extents, err := extentsFor(in)
	if err != nil {
		return nil, fmt.Errorf("could not walk extents of inode %d: %w", n, err)
	}
	fs.log.WithField("inode", n).Debugf("walked %d extents", len(extents))
	return extents, nil
}
