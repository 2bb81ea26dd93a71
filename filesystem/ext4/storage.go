package ext4

import (
	"errors"
	"fmt"
	"io"

	"github.com/diskfs/ext4ls/util"
)

// storage is the byte-addressed view of the filesystem inside its util.File.
// Offsets passed to it are relative to the start of the filesystem.
type storage struct {
	file      util.File
	start     int64
	size      int64
	blockSize int64
}

// readAt reads exactly length bytes at the filesystem-relative offset off.
// Reads reaching past size, and short reads, are an ErrIO even when the
// underlying reader has the bytes or reports io.EOF.
func (s *storage) readAt(off int64, length int) ([]byte, error) {
	if off < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", ErrIO, off)
	}
	if off+int64(length) > s.size {
		return nil, fmt.Errorf("%w: reading %d bytes at offset %d past filesystem end %d", ErrIO, length, off, s.size)
	}
	b := make([]byte, length)
	n, err := s.file.ReadAt(b, s.start+off)
	if n == length {
		// a reader may return io.EOF alongside a complete read at the very end
		return b, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: reading %d bytes at offset %d: %v", ErrIO, length, off, err)
	}
	return nil, fmt.Errorf("%w: read %d bytes instead of %d at offset %d", ErrIO, n, length, off)
}

// readBlock reads a single filesystem block
func (s *storage) readBlock(block uint64) ([]byte, error) {
	return s.readAt(int64(block)*s.blockSize, int(s.blockSize))
}
