package ext4

import (
	"fmt"
)

const (
	dirEntryHeaderLength int    = 8
	maxDirEntryNameLen   int    = 255
	bigRecordBlockSize   uint64 = 65536
)

// DirectoryEntry is one name in a directory, in on-disk order
type DirectoryEntry struct {
	// Inode is the child inode number
	Inode uint32
	// Type is FileTypeUnknown when the filesystem does not record types in entries
	Type FileType
	Name string
}

// directoryEntry is a decoded entry together with its on-disk stride
type directoryEntry struct {
	DirectoryEntry
	recordLength uint32
}

// decodeRecordLength expands rec_len, which on 64KiB blocks encodes 65536 in 16 bits
func decodeRecordLength(v uint16, blockSize uint64) uint32 {
	if blockSize < bigRecordBlockSize {
		return uint32(v)
	}
	if v == 0xffff || v == 0 {
		return uint32(bigRecordBlockSize)
	}
	return uint32(v&0xfffc) | uint32(v&0x3)<<16
}

func encodeRecordLength(length uint32, blockSize uint64) uint16 {
	if blockSize < bigRecordBlockSize {
		return uint16(length)
	}
	if length == uint32(bigRecordBlockSize) {
		return 0xffff
	}
	return uint16(length&0xfffc) | uint16(length>>16)&0x3
}

// directoryEntryFromBytes decodes the entry at the start of b, where b runs
// to the end of the directory block. withFileType selects the dir_entry_2
// layout with an 8-bit name length followed by the file type.
func directoryEntryFromBytes(b []byte, blockSize uint64, withFileType bool) (*directoryEntry, error) {
	r, err := recordFromBytes(b, dirEntryHeaderLength, "directory entry")
	if err != nil {
		return nil, err
	}
	de := directoryEntry{
		DirectoryEntry: DirectoryEntry{Inode: r.u32(0x0)},
		recordLength:   decodeRecordLength(r.u16(0x4), blockSize),
	}
	var nameLength int
	if withFileType {
		nameLength = int(r.u8(0x6))
		de.Type = FileType(r.u8(0x7))
	} else {
		nameLength = int(r.u16(0x6))
	}

	switch {
	case de.recordLength < uint32(dirEntryHeaderLength) || de.recordLength%4 != 0:
		return nil, fmt.Errorf("%w: directory entry record length %d", ErrCorruptFormat, de.recordLength)
	case int(de.recordLength) > len(b):
		return nil, fmt.Errorf("%w: directory entry record length %d overruns block by %d bytes", ErrCorruptFormat, de.recordLength, int(de.recordLength)-len(b))
	case nameLength > int(de.recordLength)-dirEntryHeaderLength || nameLength > maxDirEntryNameLen:
		return nil, fmt.Errorf("%w: directory entry name length %d in record of %d bytes", ErrCorruptFormat, nameLength, de.recordLength)
	}
	de.Name = string(b[dirEntryHeaderLength : dirEntryHeaderLength+nameLength])
	return &de, nil
}

// toBytes encodes the entry into recordLength bytes
func (de *directoryEntry) toBytes(blockSize uint64, withFileType bool) []byte {
	b := make([]byte, de.recordLength)
	putU32(b, 0x0, de.Inode)
	putU16(b, 0x4, encodeRecordLength(de.recordLength, blockSize))
	if withFileType {
		b[0x6] = uint8(len(de.Name))
		b[0x7] = byte(de.Type)
	} else {
		putU16(b, 0x6, uint16(len(de.Name)))
	}
	copy(b[dirEntryHeaderLength:], de.Name)
	return b
}

// minRecordLength is the smallest 4-byte aligned record holding name
func minRecordLength(name string) uint32 {
	return (uint32(dirEntryHeaderLength+len(name)) + 3) &^ 3
}
