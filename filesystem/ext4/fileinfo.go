package ext4

import (
	"os"
	"time"
)

// FileInfo describes one directory entry and the inode it names
type FileInfo struct {
	modTime time.Time
	mode    os.FileMode
	name    string
	size    int64
	isDir   bool
	sys     *StatT
}

// StatT is returned by FileInfo.Sys
type StatT struct {
	Inode     uint32
	UID       uint32
	GID       uint32
	Links     uint16
	Blocks512 uint64
}

func newFileInfo(name string, in *inode, sb *superblock) FileInfo {
	return FileInfo{
		modTime: in.modificationTime.time(),
		mode:    in.toFileMode(),
		name:    name,
		size:    int64(in.size),
		isDir:   in.isDirectory(),
		sys: &StatT{
			Inode:     in.number,
			UID:       in.owner,
			GID:       in.group,
			Links:     in.hardLinks,
			Blocks512: in.blocks512(sb),
		},
	}
}

// toFileMode converts the on-disk mode into os.FileMode type and permission bits
func (i *inode) toFileMode() os.FileMode {
	mode := os.FileMode(i.mode & 0777)
	if i.mode&0o4000 != 0 {
		mode |= os.ModeSetuid
	}
	if i.mode&0o2000 != 0 {
		mode |= os.ModeSetgid
	}
	if i.mode&0o1000 != 0 {
		mode |= os.ModeSticky
	}
	switch i.fileType() {
	case FileTypeDirectory:
		mode |= os.ModeDir
	case FileTypeSymbolicLink:
		mode |= os.ModeSymlink
	case FileTypeCharacterDevice:
		mode |= os.ModeDevice | os.ModeCharDevice
	case FileTypeBlockDevice:
		mode |= os.ModeDevice
	case FileTypeFifo:
		mode |= os.ModeNamedPipe
	case FileTypeSocket:
		mode |= os.ModeSocket
	}
	return mode
}

// Name returns the entry name
func (fi FileInfo) Name() string {
	return fi.name
}

// Size returns the file size in bytes
func (fi FileInfo) Size() int64 {
	return fi.size
}

// Mode returns the type and permission bits
func (fi FileInfo) Mode() os.FileMode {
	return fi.mode
}

// ModTime returns the modification time, with nanoseconds when the inode records them
func (fi FileInfo) ModTime() time.Time {
	return fi.modTime
}

// IsDir reports whether the entry is a directory
func (fi FileInfo) IsDir() bool {
	return fi.isDir
}

// Sys returns a *StatT
func (fi FileInfo) Sys() interface{} {
	return fi.sys
}

// Inode is the decoded metadata of one inode
type Inode struct {
	Number                 uint32
	Type                   FileType
	Mode                   os.FileMode
	UID                    uint32
	GID                    uint32
	Size                   uint64
	Links                  uint16
	Blocks512              uint64
	Flags                  uint32
	Generation             uint32
	AccessTime             time.Time
	ChangeTime             time.Time
	ModificationTime       time.Time
	CreationTime           time.Time
	DeletionTime           uint32
	ExtendedAttributeBlock uint64
	Project                uint32
}

// Stat returns the metadata of inode n. It does not check that the inode is
// allocated; a zero Links count usually means it is not.
func (fs *FileSystem) Stat(n uint32) (*Inode, error) {
	in, err := fs.readInode(n)
	if err != nil {
		return nil, err
	}
	st := &Inode{
		Number:                 in.number,
		Type:                   in.fileType(),
		Mode:                   in.toFileMode(),
		UID:                    in.owner,
		GID:                    in.group,
		Size:                   in.size,
		Links:                  in.hardLinks,
		Blocks512:              in.blocks512(fs.superblock),
		Flags:                  uint32(in.flags),
		Generation:             in.generation,
		AccessTime:             in.accessTime.time(),
		ChangeTime:             in.changeTime.time(),
		ModificationTime:       in.modificationTime.time(),
		DeletionTime:           in.deletionTime,
		ExtendedAttributeBlock: in.extendedAttributeBlock,
		Project:                in.project,
	}
	if in.hasExtraField(0x90, 4) {
		st.CreationTime = in.creationTime.time()
	}
	return st, nil
}
