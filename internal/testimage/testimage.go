// Package testimage builds small, deterministic ext4 images in memory for
// tests. It encodes every structure itself and shares no code with the
// decoder under test.
//
// Geometry: 1KiB blocks, 512 blocks in two groups of 256 starting at block 1,
// 16 inodes of 256 bytes per group, sparse superblocks, filetype and extents.
// Group 0: superblock 1, descriptors 2, block bitmap 3, inode bitmap 4, inode
// table 5-8, data from 9. Group 1: superblock 257, descriptors 258, block
// bitmap 259, inode bitmap 260, inode table 261-264.
package testimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

const (
	BlockSize      = 1024
	BlockCount     = 512
	BlocksPerGroup = 256
	InodesPerGroup = 16
	InodeSize      = 256
	Groups         = 2
	FirstDataBlock = 1
	RootInode      = 2
	FirstInode     = 11

	groupZeroDataStart = 9
	inodeExtraSize     = 32
	descriptorSize     = 32

	modeDirectory = 0x4000 | 0o755
	modeRegular   = 0x8000 | 0o644
	flagExtents   = 0x80000

	dirTypeRegular   = 1
	dirTypeDirectory = 2
)

var groupLayout = [Groups]struct {
	superblock, descriptors, blockBitmap, inodeBitmap, inodeTable uint32
}{
	{1, 2, 3, 4, 5},
	{257, 258, 259, 260, 261},
}

// Options select the variable parts of an image
type Options struct {
	Label string
	// UUID defaults to a name-based UUID derived from Label
	UUID uuid.UUID
	// NoFileType clears the filetype feature; entries then carry a 16-bit name length
	NoFileType bool
	// Time stamps every inode and the superblock; defaults to 2023-11-14T22:13:20Z
	Time time.Time
}

type node struct {
	number   uint32
	mode     uint16
	data     []byte
	parent   uint32
	children []uint32
	names    []string
	start    uint32
	blocks   uint32
}

// Builder accumulates a directory tree
type Builder struct {
	opts      Options
	nodes     map[uint32]*node
	paths     map[string]uint32
	nextInode uint32
}

// New starts an image holding only the root directory
func New(opts Options) *Builder {
	if opts.UUID == uuid.Nil {
		opts.UUID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("ext4ls/"+opts.Label))
	}
	if opts.Time.IsZero() {
		opts.Time = time.Unix(1700000000, 0).UTC()
	}
	b := &Builder{
		opts:      opts,
		nodes:     map[uint32]*node{},
		paths:     map[string]uint32{},
		nextInode: FirstInode,
	}
	b.nodes[RootInode] = &node{number: RootInode, mode: modeDirectory, parent: RootInode}
	b.paths["/"] = RootInode
	return b
}

func (b *Builder) add(p string, mode uint16, data []byte) uint32 {
	p = path.Clean("/" + p)
	if _, ok := b.paths[p]; ok {
		panic(fmt.Sprintf("testimage: %s already exists", p))
	}
	parent, ok := b.paths[path.Dir(p)]
	if !ok {
		panic(fmt.Sprintf("testimage: parent of %s does not exist", p))
	}
	if b.nextInode > InodesPerGroup*Groups {
		panic("testimage: out of inodes")
	}
	n := &node{number: b.nextInode, mode: mode, data: data, parent: parent}
	b.nextInode++
	b.nodes[n.number] = n
	b.paths[p] = n.number
	pn := b.nodes[parent]
	pn.children = append(pn.children, n.number)
	pn.names = append(pn.names, path.Base(p))
	return n.number
}

// Mkdir adds an empty directory and returns its inode number
func (b *Builder) Mkdir(p string) uint32 {
	return b.add(p, modeDirectory, nil)
}

// WriteFile adds a regular file and returns its inode number
func (b *Builder) WriteFile(p string, data []byte) uint32 {
	return b.add(p, modeRegular, data)
}

// Image is a built filesystem image. It implements io.ReaderAt.
type Image struct {
	*bytes.Reader
	data  []byte
	paths map[string]uint32
	nodes map[uint32]*node
}

// Bytes returns the backing buffer; writes to it are seen by later reads
func (img *Image) Bytes() []byte {
	return img.data
}

// Inode returns the inode number of path p
func (img *Image) Inode(p string) uint32 {
	n, ok := img.paths[path.Clean("/"+p)]
	if !ok {
		panic(fmt.Sprintf("testimage: no such path %s", p))
	}
	return n
}

// InodeOffset returns the byte offset of the record of inode n
func (img *Image) InodeOffset(n uint32) int64 {
	return inodeOffset(n)
}

func inodeOffset(n uint32) int64 {
	group := (n - 1) / InodesPerGroup
	index := (n - 1) % InodesPerGroup
	return int64(groupLayout[group].inodeTable)*BlockSize + int64(index)*InodeSize
}

// DataBlock returns the first block holding the data of inode n
func (img *Image) DataBlock(n uint32) uint32 {
	return img.nodes[n].start
}

// DescriptorOffsets returns the byte offset of the descriptor of group g in
// every copy of the descriptor table, primary first
func (img *Image) DescriptorOffsets(g uint32) []int64 {
	offsets := make([]int64, 0, Groups)
	for _, layout := range groupLayout {
		offsets = append(offsets, int64(layout.descriptors)*BlockSize+int64(g)*descriptorSize)
	}
	return offsets
}

// Build lays out data blocks and encodes the image
func (b *Builder) Build() *Image {
	data := make([]byte, BlockCount*BlockSize)
	le := binary.LittleEndian

	// data blocks, in inode order, all in group 0
	next := uint32(groupZeroDataStart)
	numbers := b.allocatedInodes()
	for _, num := range numbers {
		n := b.nodes[num]
		var content []byte
		if n.mode == modeDirectory {
			content = b.directoryBlock(n)
		} else {
			content = n.data
		}
		n.blocks = uint32((len(content) + BlockSize - 1) / BlockSize)
		if n.blocks == 0 {
			continue
		}
		n.start = next
		next += n.blocks
		if next > FirstDataBlock+BlocksPerGroup {
			panic("testimage: data does not fit in group 0")
		}
		copy(data[int(n.start)*BlockSize:], content)
	}

	// inodes
	usedInodes := [Groups]uint32{}
	dirs := [Groups]uint16{}
	for _, num := range numbers {
		n := b.nodes[num]
		group := (num - 1) / InodesPerGroup
		usedInodes[group]++
		if n.mode == modeDirectory {
			dirs[group]++
		}
		copy(data[inodeOffset(num):], b.inodeRecord(n))
	}
	// reserved inodes 1..10 are in use
	usedInodes[0] += FirstInode - 1 - 1

	// bitmaps
	groupZeroUsed := next - FirstDataBlock
	groupOneUsed := groupLayout[1].inodeTable + 4 - groupLayout[1].superblock
	setBits(data[int(groupLayout[0].blockBitmap)*BlockSize:], 0, groupZeroUsed)
	setBits(data[int(groupLayout[1].blockBitmap)*BlockSize:], 0, groupOneUsed)
	// group 1 is one block short; the bits past the end are set
	setBits(data[int(groupLayout[1].blockBitmap)*BlockSize:], BlockCount-FirstDataBlock-BlocksPerGroup, BlockSize*8)
	for _, num := range append([]uint32{1, 3, 4, 5, 6, 7, 8, 9, 10}, numbers...) {
		group := (num - 1) / InodesPerGroup
		setBits(data[int(groupLayout[group].inodeBitmap)*BlockSize:], (num-1)%InodesPerGroup, (num-1)%InodesPerGroup+1)
	}
	for g := 0; g < Groups; g++ {
		setBits(data[int(groupLayout[g].inodeBitmap)*BlockSize:], InodesPerGroup, BlockSize*8)
	}

	// descriptor table, written to both copies
	freeBlocks := [Groups]uint32{BlocksPerGroup - groupZeroUsed, BlockCount - FirstDataBlock - BlocksPerGroup - groupOneUsed}
	table := make([]byte, BlockSize)
	for g := 0; g < Groups; g++ {
		d := table[g*descriptorSize:]
		le.PutUint32(d[0x0:], groupLayout[g].blockBitmap)
		le.PutUint32(d[0x4:], groupLayout[g].inodeBitmap)
		le.PutUint32(d[0x8:], groupLayout[g].inodeTable)
		le.PutUint16(d[0xc:], uint16(freeBlocks[g]))
		le.PutUint16(d[0xe:], uint16(InodesPerGroup-usedInodes[g]))
		le.PutUint16(d[0x10:], dirs[g])
		le.PutUint16(d[0x12:], 0x4) // inode table zeroed
		le.PutUint16(d[0x1c:], uint16(InodesPerGroup-usedInodes[g]))
	}

	// superblock, written to both copies with the group number
	sb := make([]byte, 1024)
	ts := uint32(b.opts.Time.Unix())
	le.PutUint32(sb[0x0:], InodesPerGroup*Groups)
	le.PutUint32(sb[0x4:], BlockCount)
	le.PutUint32(sb[0xc:], freeBlocks[0]+freeBlocks[1])
	le.PutUint32(sb[0x10:], InodesPerGroup*Groups-usedInodes[0]-usedInodes[1])
	le.PutUint32(sb[0x14:], FirstDataBlock)
	le.PutUint32(sb[0x20:], BlocksPerGroup)
	le.PutUint32(sb[0x24:], BlocksPerGroup)
	le.PutUint32(sb[0x28:], InodesPerGroup)
	le.PutUint32(sb[0x30:], ts)
	le.PutUint16(sb[0x36:], 0xffff)
	le.PutUint16(sb[0x38:], 0xef53)
	le.PutUint16(sb[0x3a:], 1) // clean
	le.PutUint16(sb[0x3c:], 1) // continue on errors
	le.PutUint32(sb[0x40:], ts)
	le.PutUint32(sb[0x4c:], 1) // dynamic revision
	le.PutUint32(sb[0x54:], FirstInode)
	le.PutUint16(sb[0x58:], InodeSize)
	incompat := uint32(0x40) // extents
	if !b.opts.NoFileType {
		incompat |= 0x2
	}
	le.PutUint32(sb[0x60:], incompat)
	le.PutUint32(sb[0x64:], 0x1|0x2) // sparse_super, large_file
	copy(sb[0x68:0x78], b.opts.UUID[:])
	copy(sb[0x78:0x88], b.opts.Label)
	le.PutUint32(sb[0x108:], ts)
	le.PutUint16(sb[0x15c:], inodeExtraSize)
	le.PutUint16(sb[0x15e:], inodeExtraSize)
	le.PutUint32(sb[0x160:], 0x1) // signed directory hash

	for g := 0; g < Groups; g++ {
		le.PutUint16(sb[0x5a:], uint16(g))
		off := int(groupLayout[g].superblock) * BlockSize
		if g == 0 {
			// the primary superblock is at byte 1024 whatever the block size
			off = 1024
		}
		copy(data[off:], sb)
		copy(data[int(groupLayout[g].descriptors)*BlockSize:], table)
	}

	return &Image{
		Reader: bytes.NewReader(data),
		data:   data,
		paths:  b.paths,
		nodes:  b.nodes,
	}
}

func (b *Builder) allocatedInodes() []uint32 {
	out := []uint32{RootInode}
	for num := uint32(FirstInode); num < b.nextInode; num++ {
		out = append(out, num)
	}
	return out
}

// directoryBlock encodes ".", ".." and the children of n into one block
func (b *Builder) directoryBlock(n *node) []byte {
	block := make([]byte, BlockSize)
	names := append([]string{".", ".."}, n.names...)
	inodes := append([]uint32{n.number, n.parent}, n.children...)
	offset := 0
	for i, name := range names {
		length := (8 + len(name) + 3) &^ 3
		if i == len(names)-1 {
			length = BlockSize - offset
		}
		if offset+length > BlockSize || length < 8+len(name) {
			panic(fmt.Sprintf("testimage: directory inode %d does not fit in one block", n.number))
		}
		e := block[offset:]
		binary.LittleEndian.PutUint32(e[0x0:], inodes[i])
		binary.LittleEndian.PutUint16(e[0x4:], uint16(length))
		if b.opts.NoFileType {
			binary.LittleEndian.PutUint16(e[0x6:], uint16(len(name)))
		} else {
			e[0x6] = uint8(len(name))
			e[0x7] = dirTypeRegular
			if b.nodes[inodes[i]].mode == modeDirectory {
				e[0x7] = dirTypeDirectory
			}
		}
		copy(e[0x8:], name)
		offset += length
	}
	return block
}

func (b *Builder) links(n *node) uint16 {
	if n.mode != modeDirectory {
		return 1
	}
	links := uint16(2)
	for _, c := range n.children {
		if b.nodes[c].mode == modeDirectory {
			links++
		}
	}
	return links
}

func (b *Builder) inodeRecord(n *node) []byte {
	le := binary.LittleEndian
	r := make([]byte, InodeSize)
	size := uint64(len(n.data))
	if n.mode == modeDirectory {
		size = BlockSize
	}
	ts := uint32(b.opts.Time.Unix())
	// 500ms in the extra fields, epoch bits zero
	extra := uint32(500000000) << 2

	le.PutUint16(r[0x0:], n.mode)
	le.PutUint32(r[0x4:], uint32(size))
	le.PutUint32(r[0x8:], ts)
	le.PutUint32(r[0xc:], ts)
	le.PutUint32(r[0x10:], ts)
	le.PutUint16(r[0x1a:], b.links(n))
	le.PutUint32(r[0x1c:], n.blocks*(BlockSize/512))
	le.PutUint32(r[0x20:], flagExtents)
	// extent tree root: header then at most one leaf
	le.PutUint16(r[0x28:], 0xf30a)
	le.PutUint16(r[0x2c:], 4)
	if n.blocks > 0 {
		le.PutUint16(r[0x2a:], 1)
		le.PutUint32(r[0x34:], 0)
		le.PutUint16(r[0x38:], uint16(n.blocks))
		le.PutUint16(r[0x3a:], 0)
		le.PutUint32(r[0x3c:], n.start)
	}
	le.PutUint32(r[0x64:], n.number*7)
	le.PutUint32(r[0x6c:], uint32(size>>32))
	le.PutUint16(r[0x80:], inodeExtraSize)
	le.PutUint32(r[0x84:], extra)
	le.PutUint32(r[0x88:], extra)
	le.PutUint32(r[0x8c:], extra)
	le.PutUint32(r[0x90:], ts)
	le.PutUint32(r[0x94:], extra)
	return r
}

// setBits sets bits [from, to) of bitmap
func setBits(bitmap []byte, from, to uint32) {
	for i := from; i < to; i++ {
		bitmap[i/8] |= 1 << (i % 8)
	}
}
