// Package disk opens ext4 images and block devices for reading. Images
// compressed with xz or lz4 are detected by their magic bytes and
// decompressed into memory.
package disk

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/diskfs/ext4ls/util"
	"github.com/pierrec/lz4/v4"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

// Backend names how a Disk serves reads
type Backend string

const (
	BackendFile   Backend = "file"
	BackendDevice Backend = "device"
	BackendMmap   Backend = "mmap"
	BackendXZ     Backend = "xz"
	BackendLZ4    Backend = "lz4"
)

var (
	xzMagic  = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}

	errMmapUnsupported = errors.New("memory mapping is not supported on this platform")
)

// Disk is an open image. It is safe for concurrent ReadAt calls.
type Disk struct {
	// Path is the path the disk was opened from
	Path string
	// Size is the number of readable bytes, after decompression
	Size    int64
	Backend Backend

	file    util.File
	closers []func() error
	log     logrus.FieldLogger
}

type openOptions struct {
	mmap bool
	log  logrus.FieldLogger
}

// OpenOpt configures Open
type OpenOpt func(*openOptions)

// WithMmap maps uncompressed image files into memory instead of reading them
// with pread. It has no effect on block devices or compressed images.
func WithMmap() OpenOpt {
	return func(o *openOptions) {
		o.mmap = true
	}
}

// WithLogger sets the logger for the Disk
func WithLogger(log logrus.FieldLogger) OpenOpt {
	return func(o *openOptions) {
		o.log = log
	}
}

// Open opens the image or block device at path for reading
func Open(path string, opts ...OpenOpt) (*Disk, error) {
	o := openOptions{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	d, err := open(f, path, o)
	if err != nil {
		f.Close()
		return nil, err
	}
	d.log.WithFields(logrus.Fields{
		"backend": d.Backend,
		"size":    d.Size,
	}).Debug("opened image")
	return d, nil
}

func open(f *os.File, path string, o openOptions) (*Disk, error) {
	d := &Disk{
		Path:    path,
		closers: []func() error{f.Close},
		log:     o.log.WithField("image", path),
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat %s: %w", path, err)
	}

	if info.Mode()&os.ModeDevice != 0 {
		size, err := deviceSize(f)
		if err != nil {
			return nil, fmt.Errorf("could not get size of device %s: %w", path, err)
		}
		d.file, d.Size, d.Backend = f, size, BackendDevice
		return d, nil
	}
	size := info.Size()

	magic := make([]byte, len(xzMagic))
	n, err := f.ReadAt(magic, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("could not read header of %s: %w", path, err)
	}
	magic = magic[:n]

	var decompress func(io.Reader) (io.Reader, error)
	switch {
	case bytes.HasPrefix(magic, xzMagic):
		d.Backend = BackendXZ
		decompress = func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r)
		}
	case bytes.HasPrefix(magic, lz4Magic):
		d.Backend = BackendLZ4
		decompress = func(r io.Reader) (io.Reader, error) {
			return lz4.NewReader(r), nil
		}
	}
	if decompress != nil {
		r, err := decompress(io.NewSectionReader(f, 0, size))
		if err != nil {
			return nil, fmt.Errorf("could not start %s decompression of %s: %w", d.Backend, path, err)
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("could not decompress %s image %s: %w", d.Backend, path, err)
		}
		d.file, d.Size = bytes.NewReader(data), int64(len(data))
		return d, nil
	}

	if o.mmap && size > 0 {
		data, unmap, err := mmapFile(f, size)
		if err != nil {
			return nil, fmt.Errorf("could not map %s: %w", path, err)
		}
		d.closers = append(d.closers, unmap)
		d.file, d.Size, d.Backend = bytes.NewReader(data), size, BackendMmap
		return d, nil
	}

	d.file, d.Size, d.Backend = f, size, BackendFile
	return d, nil
}

// ReadAt reads len(p) bytes at offset off of the (decompressed) image
func (d *Disk) ReadAt(p []byte, off int64) (int, error) {
	return d.file.ReadAt(p, off)
}

// Close releases the mapping, if any, and the underlying file
func (d *Disk) Close() error {
	var firstErr error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.closers = nil
	return firstErr
}
