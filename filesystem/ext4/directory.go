package ext4

import (
	"fmt"

	"github.com/diskfs/ext4ls/util"
	"github.com/sirupsen/logrus"
)

// parseDirectoryBlock parses the entries of one directory block in order. An
// entry with inode 0 ends the block; only its inode field is read, the rest of
// the block is padding.
func parseDirectoryBlock(b []byte, blockSize uint64, withFileType bool) ([]DirectoryEntry, error) {
	var entries []DirectoryEntry
	for offset := 0; offset < len(b); {
		r, err := recordFromBytes(b[offset:], 4, "directory entry inode")
		if err != nil {
			return nil, fmt.Errorf("entry %d at offset %d: %w", len(entries), offset, err)
		}
		if r.u32(0x0) == 0 {
			break
		}
		de, err := directoryEntryFromBytes(b[offset:], blockSize, withFileType)
		if err != nil {
			return nil, fmt.Errorf("entry %d at offset %d: %w", len(entries), offset, err)
		}
		entries = append(entries, de.DirectoryEntry)
		offset += int(de.recordLength)
	}
	return entries, nil
}

// readDirectory reads the entries of a directory whose data is a single extent
func (fs *FileSystem) readDirectory(in *inode) ([]DirectoryEntry, error) {
	if !in.isDirectory() {
		return nil, fmt.Errorf("inode %d is a %s: %w", in.number, in.fileType(), ErrNotDirectory)
	}
	if in.flags.hashedDirectoryIndexes() {
		return nil, unsupported(FeatureHashedDirectory)
	}
	extents, err := extentsFor(in)
	if err != nil {
		return nil, err
	}
	switch {
	case len(extents) > 1:
		return nil, unsupported(FeatureMultiExtentDirectory)
	case len(extents) == 0:
		return nil, nil
	}

	sb := fs.superblock
	e := extents[0]
	blocks := uint64(e.Count)
	// the extent may cover preallocated blocks past i_size; an i_size of 0
	// holds no entries at all
	if used := util.RoundUpDiv(in.size, sb.blockSize); used < blocks {
		blocks = used
	}
	fs.log.WithFields(logrus.Fields{
		"inode":  in.number,
		"block":  e.StartingBlock,
		"blocks": blocks,
	}).Debug("reading directory")

	withFileType := sb.features.directoryEntriesRecordFileType()
	var entries []DirectoryEntry
	for i := uint64(0); i < blocks; i++ {
		block := e.StartingBlock + i
		b, err := fs.storage.readBlock(block)
		if err != nil {
			return nil, fmt.Errorf("could not read block %d of directory inode %d: %w", block, in.number, err)
		}
		blockEntries, err := parseDirectoryBlock(b, sb.blockSize, withFileType)
		if err != nil {
			return nil, fmt.Errorf("directory inode %d block %d: %w", in.number, block, err)
		}
		entries = append(entries, blockEntries...)
	}
	return entries, nil
}

// ListDirectory returns the entries of directory inode n in on-disk order,
// including "." and ".."
func (fs *FileSystem) ListDirectory(n uint32) ([]DirectoryEntry, error) {
	in, err := fs.readInode(n)
	if err != nil {
		return nil, err
	}
	entries, err := fs.readDirectory(in)
	if err != nil {
		return nil, fmt.Errorf("could not list directory inode %d: %w", n, err)
	}
	return entries, nil
}
