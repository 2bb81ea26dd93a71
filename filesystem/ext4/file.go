package ext4

import (
	"errors"
	"fmt"
	"io"
)

// File is a read-only handle on the data of one inode
type File struct {
	fs      *FileSystem
	inode   *inode
	extents []Extent
	offset  int64
}

// OpenInode returns a reader over the data of inode n. Holes and
// uninitialized extents read as zeros.
func (fs *FileSystem) OpenInode(n uint32) (*File, error) {
	in, err := fs.readInode(n)
	if err != nil {
		return nil, err
	}
	extents, err := extentsFor(in)
	if err != nil {
		return nil, fmt.Errorf("could not map data of inode %d: %w", n, err)
	}
	return &File{
		fs:      fs,
		inode:   in,
		extents: extents,
	}, nil
}

// Size is the length of the file in bytes
func (fl *File) Size() int64 {
	return int64(fl.inode.size)
}

// Read reads up to len(b) bytes from the File.
// It returns the number of bytes read and any error encountered.
// At end of file, Read returns 0, io.EOF
// reads from the last known offset in the file from last read
// use Seek() to set at a particular point
func (fl *File) Read(b []byte) (int, error) {
	n, err := fl.ReadAt(b, fl.offset)
	fl.offset += int64(n)
	return n, err
}

// ReadAt reads len(b) bytes starting at byte off of the file
func (fl *File) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("cannot read at negative offset %d", off)
	}
	size := fl.Size()
	if off >= size {
		return 0, io.EOF
	}
	want := len(b)
	if remaining := size - off; int64(want) > remaining {
		want = int(remaining)
	}
	blockSize := int64(fl.fs.superblock.blockSize)

	done := 0
	for done < want {
		pos := off + int64(done)
		fileBlock := uint64(pos / blockSize)
		within := pos % blockSize
		chunk := int64(want - done)

		e, next := fl.extentFor(fileBlock)
		switch {
		case e == nil:
			// a hole runs until the next extent or the end of file
			if next != nil {
				chunk = min64(chunk, int64(next.FileBlock)*blockSize-pos)
			}
			zero(b[done : done+int(chunk)])
		default:
			runEnd := (int64(e.FileBlock) + int64(e.Count)) * blockSize
			chunk = min64(chunk, runEnd-pos)
			if e.Uninitialized {
				zero(b[done : done+int(chunk)])
				break
			}
			physical := int64(e.StartingBlock+(fileBlock-uint64(e.FileBlock)))*blockSize + within
			data, err := fl.fs.storage.readAt(physical, int(chunk))
			if err != nil {
				return done, fmt.Errorf("could not read inode %d at offset %d: %w", fl.inode.number, pos, err)
			}
			copy(b[done:], data)
		}
		done += int(chunk)
	}
	if done < len(b) {
		return done, io.EOF
	}
	return done, nil
}

// extentFor returns the extent holding fileBlock, or nil and the first extent after it
func (fl *File) extentFor(fileBlock uint64) (found *Extent, next *Extent) {
	for i := range fl.extents {
		e := &fl.extents[i]
		if e.contains(fileBlock) {
			return e, nil
		}
		if uint64(e.FileBlock) > fileBlock && (next == nil || e.FileBlock < next.FileBlock) {
			next = e
		}
	}
	return nil, next
}

// Write is not supported on a read-only filesystem
func (fl *File) Write(p []byte) (int, error) {
	return 0, errors.New("write support not implemented")
}

// Seek set the offset to a particular point in the file
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	newOffset := int64(0)
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = fl.Size() + offset
	case io.SeekCurrent:
		newOffset = fl.offset + offset
	default:
		return fl.offset, fmt.Errorf("invalid whence %d", whence)
	}
	if newOffset < 0 {
		return fl.offset, fmt.Errorf("cannot set offset %d before start of file", offset)
	}
	fl.offset = newOffset
	return fl.offset, nil
}

// Close releases nothing; the File holds no resources of its own
func (fl *File) Close() error {
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
