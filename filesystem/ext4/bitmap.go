package ext4

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// bitmapFromBytes loads an on-disk bitmap, where bit i is bit i%8 of byte i/8
func bitmapFromBytes(b []byte) *bitset.BitSet {
	words := make([]uint64, (len(b)+7)/8)
	for i, c := range b {
		words[i/8] |= uint64(c) << (8 * (i % 8))
	}
	return bitset.From(words)
}

// readBitmap reads the bitmap block of a group
func (fs *FileSystem) readBitmap(block uint64, group uint64, what string) (*bitset.BitSet, error) {
	if block >= fs.superblock.blockCount {
		return nil, fmt.Errorf("%w: block group %d %s bitmap at block %d beyond block count %d", ErrCorruptFormat, group, what, block, fs.superblock.blockCount)
	}
	b, err := fs.storage.readBlock(block)
	if err != nil {
		return nil, fmt.Errorf("could not read %s bitmap of block group %d: %w", what, group, err)
	}
	return bitmapFromBytes(b), nil
}

// InodeAllocated reports whether inode n is marked in use in its group's inode bitmap
func (fs *FileSystem) InodeAllocated(n uint32) (bool, error) {
	group, index, err := inodePosition(fs.superblock, n)
	if err != nil {
		return false, err
	}
	gd, err := fs.readGroupDescriptor(group)
	if err != nil {
		return false, err
	}
	if gd.flags.inodesUninitialized() {
		return false, nil
	}
	bm, err := fs.readBitmap(gd.inodeBitmapLocation, group, "inode")
	if err != nil {
		return false, err
	}
	return bm.Test(uint(index)), nil
}

// BlockAllocated reports whether block b is marked in use in its group's block
// bitmap. Blocks before the first data block are always in use. A group whose
// block bitmap was never initialized reports every block free, including the
// group's own metadata blocks.
func (fs *FileSystem) BlockAllocated(b uint64) (bool, error) {
	sb := fs.superblock
	if b >= sb.blockCount {
		return false, fmt.Errorf("%w: block %d, filesystem has %d blocks", ErrOutOfRange, b, sb.blockCount)
	}
	if b < uint64(sb.firstDataBlock) {
		return true, nil
	}
	group := (b - uint64(sb.firstDataBlock)) / uint64(sb.blocksPerGroup)
	index := (b - uint64(sb.firstDataBlock)) % uint64(sb.blocksPerGroup)
	gd, err := fs.readGroupDescriptor(group)
	if err != nil {
		return false, err
	}
	if gd.flags.blockBitmapUninitialized() {
		return false, nil
	}
	bm, err := fs.readBitmap(gd.blockBitmapLocation, group, "block")
	if err != nil {
		return false, err
	}
	return bm.Test(uint(index)), nil
}
