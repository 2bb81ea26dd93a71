package ext4

import (
	"fmt"
	iofs "io/fs"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/diskfs/ext4ls/util"
	"github.com/sirupsen/logrus"
)

// SectorSize indicates what the sector size in bytes is
type SectorSize uint16

const (
	// SectorSize512 is a sector size of 512 bytes, used as the logical size for all ext4 filesystems
	SectorSize512 SectorSize = 512
	// Ext4MinSize is the smallest filesystem that holds a boot block, a
	// superblock, a descriptor table, bitmaps, an inode table and one data block
	Ext4MinSize int64 = 5 * 1024
)

// FileSystem is a read-only view of an ext4 filesystem inside a util.File.
// Every read addresses the file by explicit offset, so a FileSystem may be
// shared between goroutines.
type FileSystem struct {
	superblock  *superblock
	storage     *storage
	descriptors *descriptorCache
	log         logrus.FieldLogger
}

// ReadOpt configures a FileSystem opened with Read
type ReadOpt func(*FileSystem)

// WithLogger sets the logger used for debug tracing of metadata resolution
func WithLogger(log logrus.FieldLogger) ReadOpt {
	return func(fs *FileSystem) {
		fs.log = log
	}
}

// WithDescriptorCache keeps decoded group descriptors for the life of the
// FileSystem instead of re-reading them for every inode
func WithDescriptorCache() ReadOpt {
	return func(fs *FileSystem) {
		fs.descriptors = &descriptorCache{descriptors: map[uint64]*groupDescriptor{}}
	}
}

// descriptorCache is a read-through cache keyed by block group. A nil cache
// never holds anything.
type descriptorCache struct {
	mu          sync.Mutex
	descriptors map[uint64]*groupDescriptor
}

func (c *descriptorCache) get(g uint64) *groupDescriptor {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.descriptors[g]
}

func (c *descriptorCache) put(g uint64, gd *groupDescriptor) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.descriptors[g] = gd
}

// Read reads a filesystem from a given disk.
//
// requires the util.File where to read the filesystem, size is the size of the filesystem in bytes,
// start is how far in bytes from the beginning of the util.File the filesystem is expected to begin,
// and sectorsize is the logical sector size of the device.
//
// note that you are *not* required to read a filesystem on the entire disk. You could have a disk of size
// 20GB, and a small filesystem of size 50MB that begins 2GB into the disk.
// This is extremely useful for working with filesystems on disk partitions.
//
// If the provided sectorsize is 0, it will use the default of 512 bytes. If it is any number other than 0
// or 512, it will return an error.
func Read(file util.File, size int64, start int64, sectorsize int64, opts ...ReadOpt) (*FileSystem, error) {
	// sectorsize must be <=0 or exactly SectorSize512 or error
	if sectorsize != int64(SectorSize512) && sectorsize > 0 {
		return nil, fmt.Errorf("sectorsize for ext4 must be either 512 bytes or 0, not %d", sectorsize)
	}
	if size < Ext4MinSize {
		return nil, fmt.Errorf("requested size %d is smaller than minimum allowed ext4 size %d", size, Ext4MinSize)
	}

	fs := &FileSystem{
		storage: &storage{file: file, start: start, size: size},
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.log = fs.log.WithField("start", start)

	// the superblock sits at a fixed offset, before the block size is known
	b, err := fs.storage.readAt(superblockOffset, SuperblockSize)
	if err != nil {
		return nil, fmt.Errorf("could not read superblock bytes from file: %w", err)
	}
	sb, err := superblockFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("could not interpret superblock data: %w", err)
	}
	fs.superblock = sb
	fs.storage.blockSize = int64(sb.blockSize)

	if claimed := sb.blockCount * sb.blockSize; claimed > uint64(size) {
		fs.log.Warnf("superblock claims %d bytes but only %d are available", claimed, size)
	}
	fs.log.WithFields(logrus.Fields{
		"blockSize":   sb.blockSize,
		"blockGroups": sb.blockGroupCount(),
		"inodes":      sb.inodeCount,
		"features":    strings.Join(sb.features.names(), ","),
	}).Debug("read superblock")

	return fs, nil
}

// BlockSize returns the filesystem block size in bytes
func (fs *FileSystem) BlockSize() uint64 {
	return fs.superblock.blockSize
}

// Label returns the volume label
func (fs *FileSystem) Label() string {
	return fs.superblock.volumeLabel
}

// ReadDir return the contents of a given directory in a given filesystem.
//
// Returns a slice of os.FileInfo with all of the entries in the directory,
// without "." and "..".
//
// Will return an error if the directory does not exist or is a regular file and not a directory
func (fs *FileSystem) ReadDir(p string) ([]os.FileInfo, error) {
	n, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ListDirectory(n)
	if err != nil {
		return nil, fmt.Errorf("error reading directory %s: %w", p, err)
	}
	ret := make([]os.FileInfo, 0, len(entries))
	for i, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		in, err := fs.readInode(e.Inode)
		if err != nil {
			return nil, fmt.Errorf("could not read inode %d (name=%s) at position %d in directory: %w", e.Inode, e.Name, i, err)
		}
		ret = append(ret, newFileInfo(e.Name, in, fs.superblock))
	}
	return ret, nil
}

// Lookup resolves a slash-separated path from the root directory to an inode number
func (fs *FileSystem) Lookup(p string) (uint32, error) {
	return fs.lookup(p)
}

func (fs *FileSystem) lookup(p string) (uint32, error) {
	n := RootInode
	currentPath := ""
	for _, name := range strings.Split(path.Clean("/"+p), "/") {
		if name == "" {
			continue
		}
		entries, err := fs.ListDirectory(n)
		if err != nil {
			return 0, fmt.Errorf("error reading entry for %s: %w", currentPath+"/", err)
		}
		currentPath += "/" + name
		found := false
		for _, e := range entries {
			if e.Name == name {
				n, found = e.Inode, true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%s: %w", currentPath, iofs.ErrNotExist)
		}
	}
	return n, nil
}
