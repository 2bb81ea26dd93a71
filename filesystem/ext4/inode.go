package ext4

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type inodeFlag uint32
type fileMode uint16

const (
	// RootInode is the inode number of the root directory
	RootInode uint32 = 2

	inodeBaseSize      int = 128
	inodeBlockDataSize int = 60

	inodeFlagSecureDeletion         inodeFlag = 0x1
	inodeFlagPreserveForUndeletion  inodeFlag = 0x2
	inodeFlagCompressed             inodeFlag = 0x4
	inodeFlagImmutable              inodeFlag = 0x10
	inodeFlagAppendOnly             inodeFlag = 0x20
	inodeFlagNoAccessTimeUpdate     inodeFlag = 0x80
	inodeFlagEncryptedInode         inodeFlag = 0x800
	inodeFlagHashedDirectoryIndexes inodeFlag = 0x1000
	inodeFlagHugeFile               inodeFlag = 0x40000
	inodeFlagUsesExtents            inodeFlag = 0x80000
	inodeFlagExtendedAttributes     inodeFlag = 0x200000
	inodeFlagInlineData             inodeFlag = 0x10000000

	fileModeTypeMask        fileMode = 0xF000
	fileModeFifo            fileMode = 0x1000
	fileModeCharacterDevice fileMode = 0x2000
	fileModeDirectory       fileMode = 0x4000
	fileModeBlockDevice     fileMode = 0x6000
	fileModeRegularFile     fileMode = 0x8000
	fileModeSymbolicLink    fileMode = 0xA000
	fileModeSocket          fileMode = 0xC000
	fileModePermissionsMask fileMode = 0x0FFF
)

func (f inodeFlag) hashedDirectoryIndexes() bool { return f&inodeFlagHashedDirectoryIndexes != 0 }
func (f inodeFlag) hugeFile() bool               { return f&inodeFlagHugeFile != 0 }
func (f inodeFlag) usesExtents() bool            { return f&inodeFlagUsesExtents != 0 }
func (f inodeFlag) inlineData() bool             { return f&inodeFlagInlineData != 0 }

// FileType is the type of a directory entry or inode, using the directory entry codes
type FileType uint8

const (
	FileTypeUnknown         FileType = 0
	FileTypeRegularFile     FileType = 1
	FileTypeDirectory       FileType = 2
	FileTypeCharacterDevice FileType = 3
	FileTypeBlockDevice     FileType = 4
	FileTypeFifo            FileType = 5
	FileTypeSocket          FileType = 6
	FileTypeSymbolicLink    FileType = 7
	// FileTypeChecksumTail marks the fake entry holding a directory block checksum
	FileTypeChecksumTail FileType = 0xDE
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegularFile:
		return "file"
	case FileTypeDirectory:
		return "dir"
	case FileTypeCharacterDevice:
		return "chardev"
	case FileTypeBlockDevice:
		return "blockdev"
	case FileTypeFifo:
		return "fifo"
	case FileTypeSocket:
		return "socket"
	case FileTypeSymbolicLink:
		return "symlink"
	case FileTypeChecksumTail:
		return "csum"
	case FileTypeUnknown:
		return "unknown"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

func (m fileMode) fileType() FileType {
	switch m & fileModeTypeMask {
	case fileModeFifo:
		return FileTypeFifo
	case fileModeCharacterDevice:
		return FileTypeCharacterDevice
	case fileModeDirectory:
		return FileTypeDirectory
	case fileModeBlockDevice:
		return FileTypeBlockDevice
	case fileModeRegularFile:
		return FileTypeRegularFile
	case fileModeSymbolicLink:
		return FileTypeSymbolicLink
	case fileModeSocket:
		return FileTypeSocket
	}
	return FileTypeUnknown
}

// inodeTime is a timestamp as stored: 32 bits of seconds in the base inode,
// with two epoch bits and 30 bits of nanoseconds in the extra area
type inodeTime struct {
	seconds     int64
	nanoseconds uint32
}

func inodeTimeFromFields(lo uint32, extra uint32) inodeTime {
	return inodeTime{
		seconds:     int64(int32(lo)) + int64(extra&0x3)<<32,
		nanoseconds: extra >> 2,
	}
}

func (t inodeTime) toFields() (lo uint32, extra uint32) {
	lo = uint32(t.seconds)
	epoch := uint32((t.seconds-int64(int32(lo)))>>32) & 0x3
	return lo, t.nanoseconds<<2 | epoch
}

func (t inodeTime) time() time.Time {
	return time.Unix(t.seconds, int64(t.nanoseconds))
}

// inode is a structure holding the data about an inode
type inode struct {
	number                 uint32
	mode                   fileMode
	owner                  uint32
	group                  uint32
	size                   uint64
	accessTime             inodeTime
	changeTime             inodeTime
	modificationTime       inodeTime
	creationTime           inodeTime
	deletionTime           uint32
	hardLinks              uint16
	blocks                 uint64
	flags                  inodeFlag
	version                uint64
	blockData              [60]byte
	generation             uint32
	extendedAttributeBlock uint64
	extraSize              uint16
	checksum               uint32
	project                uint32
}

// inodeFromBytes create an inode struct from bytes. b holds one inode table
// record; only the fields covered by 128+i_extra_isize are read from the
// extended area.
func inodeFromBytes(b []byte, sb *superblock, number uint32) (*inode, error) {
	r, err := recordFromBytes(b, int(sb.inodeSize), "inode")
	if err != nil {
		return nil, err
	}

	in := inode{
		number:                 number,
		mode:                   fileMode(r.u16(0x0)),
		owner:                  r.pair16(0x2, 0x78),
		group:                  r.pair16(0x18, 0x7a),
		size:                   r.split32(0x4, 0x6c),
		deletionTime:           r.u32(0x14),
		hardLinks:              r.u16(0x1a),
		blocks:                 r.split16(0x1c, 0x74),
		flags:                  inodeFlag(r.u32(0x20)),
		version:                uint64(r.u32(0x24)),
		generation:             r.u32(0x64),
		extendedAttributeBlock: r.split16(0x68, 0x76),
		checksum:               uint32(r.u16(0x7c)),
	}
	copy(in.blockData[:], r[0x28:0x28+inodeBlockDataSize])

	if int(sb.inodeSize) > inodeBaseSize {
		in.extraSize = r.u16(0x80)
		if inodeBaseSize+int(in.extraSize) > int(sb.inodeSize) {
			return nil, fmt.Errorf("%w: inode %d extra size %d overruns %d byte record", ErrCorruptFormat, number, in.extraSize, sb.inodeSize)
		}
	}
	extra := func(off int) uint32 {
		if in.hasExtraField(off, 4) {
			return r.u32(off)
		}
		return 0
	}
	if in.hasExtraField(0x82, 2) {
		in.checksum |= uint32(r.u16(0x82)) << 16
	}
	in.changeTime = inodeTimeFromFields(r.u32(0xc), extra(0x84))
	in.modificationTime = inodeTimeFromFields(r.u32(0x10), extra(0x88))
	in.accessTime = inodeTimeFromFields(r.u32(0x8), extra(0x8c))
	if in.hasExtraField(0x90, 4) {
		in.creationTime = inodeTimeFromFields(r.u32(0x90), extra(0x94))
	}
	in.version |= uint64(extra(0x98)) << 32
	in.project = extra(0x9c)

	return &in, nil
}

// hasExtraField reports whether the field at off lies inside 128+i_extra_isize
func (i *inode) hasExtraField(off, size int) bool {
	return off+size <= inodeBaseSize+int(i.extraSize)
}

// toBytes returns an inode record of sb.inodeSize bytes
func (i *inode) toBytes(sb *superblock) []byte {
	b := make([]byte, sb.inodeSize)

	putU16(b, 0x0, uint16(i.mode))
	putPair16(b, 0x2, 0x78, i.owner)
	putPair16(b, 0x18, 0x7a, i.group)
	putSplit32(b, 0x4, 0x6c, i.size)
	putU32(b, 0x14, i.deletionTime)
	putU16(b, 0x1a, i.hardLinks)
	putSplit16(b, 0x1c, 0x74, i.blocks)
	putU32(b, 0x20, uint32(i.flags))
	putU32(b, 0x24, uint32(i.version))
	copy(b[0x28:0x28+inodeBlockDataSize], i.blockData[:])
	putU32(b, 0x64, i.generation)
	putSplit16(b, 0x68, 0x76, i.extendedAttributeBlock)
	putU16(b, 0x7c, uint16(i.checksum))

	times := []struct {
		t         inodeTime
		lo, extra int
	}{
		{i.changeTime, 0xc, 0x84},
		{i.modificationTime, 0x10, 0x88},
		{i.accessTime, 0x8, 0x8c},
		{i.creationTime, 0x90, 0x94},
	}
	for _, f := range times {
		lo, extra := f.t.toFields()
		if f.lo < inodeBaseSize || i.hasExtraField(f.lo, 4) {
			putU32(b, f.lo, lo)
		}
		if i.hasExtraField(f.extra, 4) {
			putU32(b, f.extra, extra)
		}
	}

	if int(sb.inodeSize) > inodeBaseSize {
		putU16(b, 0x80, i.extraSize)
	}
	if i.hasExtraField(0x82, 2) {
		putU16(b, 0x82, uint16(i.checksum>>16))
	}
	if i.hasExtraField(0x98, 4) {
		putU32(b, 0x98, uint32(i.version>>32))
	}
	if i.hasExtraField(0x9c, 4) {
		putU32(b, 0x9c, i.project)
	}
	return b
}

func (i *inode) fileType() FileType {
	return i.mode.fileType()
}

func (i *inode) isDirectory() bool {
	return i.fileType() == FileTypeDirectory
}

// blocks512 is i_blocks in 512-byte units, honouring the huge_file scaling
func (i *inode) blocks512(sb *superblock) uint64 {
	if !sb.features.hugeFile() {
		return i.blocks & 0xffffffff
	}
	if i.flags.hugeFile() {
		return i.blocks * (sb.blockSize / 512)
	}
	return i.blocks
}

// inodePosition returns the block group holding inode n and its index in that group's inode table
func inodePosition(sb *superblock, n uint32) (group uint64, index uint64, err error) {
	if n == 0 || n > sb.inodeCount {
		return 0, 0, fmt.Errorf("%w: inode %d, filesystem has %d inodes", ErrOutOfRange, n, sb.inodeCount)
	}
	group = uint64(n-1) / uint64(sb.inodesPerGroup)
	index = uint64(n-1) % uint64(sb.inodesPerGroup)
	return group, index, nil
}

// inodeOffset is the byte offset of entry index in an inode table starting at inodeTable
func inodeOffset(sb *superblock, inodeTable uint64, index uint64) int64 {
	return int64(inodeTable*sb.blockSize + index*uint64(sb.inodeSize))
}

// readInode read a single inode from disk
func (fs *FileSystem) readInode(n uint32) (*inode, error) {
	sb := fs.superblock
	group, index, err := inodePosition(sb, n)
	if err != nil {
		return nil, err
	}
	gd, err := fs.readGroupDescriptor(group)
	if err != nil {
		return nil, fmt.Errorf("could not read block group for inode %d: %w", n, err)
	}
	offset := inodeOffset(sb, gd.inodeTableLocation, index)
	fs.log.WithFields(logrus.Fields{
		"inode":  n,
		"group":  group,
		"index":  index,
		"offset": offset,
	}).Debug("reading inode")

	b, err := fs.storage.readAt(offset, int(sb.inodeSize))
	if err != nil {
		return nil, fmt.Errorf("could not read inode %d from offset %d of block %d in block group %d: %w", n, offset, gd.inodeTableLocation, group, err)
	}
	return inodeFromBytes(b, sb, n)
}
