package ext4

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

type blockGroupFlag uint16

const (
	blockGroupFlagInodesUninitialized      blockGroupFlag = 0x1
	blockGroupFlagBlockBitmapUninitialized blockGroupFlag = 0x2
	blockGroupFlagInodeTableZeroed         blockGroupFlag = 0x4
)

func (f blockGroupFlag) inodesUninitialized() bool {
	return f&blockGroupFlagInodesUninitialized != 0
}

func (f blockGroupFlag) blockBitmapUninitialized() bool {
	return f&blockGroupFlagBlockBitmapUninitialized != 0
}

func (f blockGroupFlag) inodeTableZeroed() bool {
	return f&blockGroupFlagInodeTableZeroed != 0
}

// groupDescriptor is a structure holding the data about a single block group
type groupDescriptor struct {
	number                          uint64
	blockBitmapLocation             uint64
	inodeBitmapLocation             uint64
	inodeTableLocation              uint64
	freeBlocks                      uint32
	freeInodes                      uint32
	usedDirectories                 uint32
	flags                           blockGroupFlag
	snapshotExclusionBitmapLocation uint64
	blockBitmapChecksum             uint32
	inodeBitmapChecksum             uint32
	unusedInodes                    uint32
	checksum                        uint16
}

// groupDescriptorFromBytes create a groupDescriptor struct from bytes. The
// high halves are only read when the filesystem is 64-bit.
func groupDescriptorFromBytes(b []byte, sb *superblock, number uint64) (*groupDescriptor, error) {
	size := int(sb.descriptorSize())
	r, err := recordFromBytes(b, size, "group descriptor")
	if err != nil {
		return nil, err
	}
	gd := groupDescriptor{
		number:                          number,
		blockBitmapLocation:             uint64(r.u32(0x0)),
		inodeBitmapLocation:             uint64(r.u32(0x4)),
		inodeTableLocation:              uint64(r.u32(0x8)),
		freeBlocks:                      uint32(r.u16(0xc)),
		freeInodes:                      uint32(r.u16(0xe)),
		usedDirectories:                 uint32(r.u16(0x10)),
		flags:                           blockGroupFlag(r.u16(0x12)),
		snapshotExclusionBitmapLocation: uint64(r.u32(0x14)),
		blockBitmapChecksum:             uint32(r.u16(0x18)),
		inodeBitmapChecksum:             uint32(r.u16(0x1a)),
		unusedInodes:                    uint32(r.u16(0x1c)),
		checksum:                        r.u16(0x1e),
	}
	if sb.features.fs64Bit() && size >= int(groupDescriptorSize64) {
		gd.blockBitmapLocation = r.split32(0x0, 0x20)
		gd.inodeBitmapLocation = r.split32(0x4, 0x24)
		gd.inodeTableLocation = r.split32(0x8, 0x28)
		gd.freeBlocks = r.pair16(0xc, 0x2c)
		gd.freeInodes = r.pair16(0xe, 0x2e)
		gd.usedDirectories = r.pair16(0x10, 0x30)
		gd.unusedInodes = r.pair16(0x1c, 0x32)
		gd.snapshotExclusionBitmapLocation = r.split32(0x14, 0x34)
		gd.blockBitmapChecksum = r.pair16(0x18, 0x38)
		gd.inodeBitmapChecksum = r.pair16(0x1a, 0x3a)
	}
	return &gd, nil
}

// toBytes returns the descriptor in the layout selected by sb
func (gd *groupDescriptor) toBytes(sb *superblock) []byte {
	size := int(sb.descriptorSize())
	b := make([]byte, size)
	wide := sb.features.fs64Bit() && size >= int(groupDescriptorSize64)

	if wide {
		putSplit32(b, 0x0, 0x20, gd.blockBitmapLocation)
		putSplit32(b, 0x4, 0x24, gd.inodeBitmapLocation)
		putSplit32(b, 0x8, 0x28, gd.inodeTableLocation)
		putPair16(b, 0xc, 0x2c, gd.freeBlocks)
		putPair16(b, 0xe, 0x2e, gd.freeInodes)
		putPair16(b, 0x10, 0x30, gd.usedDirectories)
		putPair16(b, 0x1c, 0x32, gd.unusedInodes)
		putSplit32(b, 0x14, 0x34, gd.snapshotExclusionBitmapLocation)
		putPair16(b, 0x18, 0x38, gd.blockBitmapChecksum)
		putPair16(b, 0x1a, 0x3a, gd.inodeBitmapChecksum)
	} else {
		putU32(b, 0x0, uint32(gd.blockBitmapLocation))
		putU32(b, 0x4, uint32(gd.inodeBitmapLocation))
		putU32(b, 0x8, uint32(gd.inodeTableLocation))
		putU16(b, 0xc, uint16(gd.freeBlocks))
		putU16(b, 0xe, uint16(gd.freeInodes))
		putU16(b, 0x10, uint16(gd.usedDirectories))
		putU32(b, 0x14, uint32(gd.snapshotExclusionBitmapLocation))
		putU16(b, 0x18, uint16(gd.blockBitmapChecksum))
		putU16(b, 0x1a, uint16(gd.inodeBitmapChecksum))
		putU16(b, 0x1c, uint16(gd.unusedInodes))
	}
	putU16(b, 0x12, uint16(gd.flags))
	putU16(b, 0x1e, gd.checksum)
	return b
}

// isPowerOf reports whether n is base^k for some k >= 1
func isPowerOf(n, base uint64) bool {
	if n < base {
		return false
	}
	for n%base == 0 {
		n /= base
	}
	return n == 1
}

// blockGroupHasBackup reports whether group g carries a copy of the superblock
// and the group descriptor table
func blockGroupHasBackup(sb *superblock, g uint64) (bool, error) {
	if g == 0 {
		return true, nil
	}
	if sb.features.sparseSuperBlockV2() {
		return false, unsupported(FeatureSparseSuper2)
	}
	if g <= 1 || !sb.features.sparseSuperblock() {
		return true, nil
	}
	if g%2 == 0 {
		return false, nil
	}
	return isPowerOf(g, 3) || isPowerOf(g, 5) || isPowerOf(g, 7), nil
}

// descriptorTableOffset is the byte offset of the descriptor table copy kept in
// group g, which directly follows that group's superblock copy
func descriptorTableOffset(sb *superblock, g uint64) int64 {
	return int64((g*uint64(sb.blocksPerGroup) + uint64(sb.firstDataBlock) + 1) * sb.blockSize)
}

// groupDescriptorLocation returns the byte offset of the descriptor of group g.
// fallback is true when neither g nor the first group of its flex cohort holds
// a table copy and the primary table in group 0 was used instead.
func groupDescriptorLocation(sb *superblock, g uint64) (offset int64, fallback bool, err error) {
	if count := sb.blockGroupCount(); g >= count {
		return 0, false, fmt.Errorf("%w: block group %d, filesystem has %d", ErrOutOfRange, g, count)
	}
	if sb.features.metaBlockGroups() {
		return 0, false, unsupported(FeatureMetaBlockGroups)
	}
	entry := int64(g) * int64(sb.descriptorSize())

	hasBackup, err := blockGroupHasBackup(sb, g)
	if err != nil {
		return 0, false, err
	}
	if hasBackup {
		return descriptorTableOffset(sb, g) + entry, false, nil
	}

	primary := g - g%sb.flexGroupSize()
	hasBackup, err = blockGroupHasBackup(sb, primary)
	if err != nil {
		return 0, false, err
	}
	if hasBackup {
		return descriptorTableOffset(sb, primary) + entry, false, nil
	}
	return descriptorTableOffset(sb, 0) + entry, true, nil
}

// readGroupDescriptor locates, reads and decodes the descriptor of group g
func (fs *FileSystem) readGroupDescriptor(g uint64) (*groupDescriptor, error) {
	if gd := fs.descriptors.get(g); gd != nil {
		return gd, nil
	}
	sb := fs.superblock
	offset, fallback, err := groupDescriptorLocation(sb, g)
	if err != nil {
		return nil, fmt.Errorf("could not locate descriptor for block group %d: %w", g, err)
	}
	log := fs.log.WithFields(logrus.Fields{"group": g, "offset": offset})
	if fallback {
		log.Warnf("flex group primary %d has no descriptor table copy, using primary table", g-g%sb.flexGroupSize())
	} else {
		log.Debug("reading group descriptor")
	}

	b, err := fs.storage.readAt(offset, int(sb.descriptorSize()))
	if err != nil {
		return nil, fmt.Errorf("could not read descriptor for block group %d: %w", g, err)
	}
	gd, err := groupDescriptorFromBytes(b, sb, g)
	if err != nil {
		return nil, fmt.Errorf("could not decode descriptor for block group %d: %w", g, err)
	}
	if gd.inodeTableLocation >= sb.blockCount {
		return nil, fmt.Errorf("%w: block group %d inode table at block %d beyond block count %d", ErrCorruptFormat, g, gd.inodeTableLocation, sb.blockCount)
	}
	fs.descriptors.put(g, gd)
	return gd, nil
}
