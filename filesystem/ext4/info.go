package ext4

import (
	"time"
)

// Info summarises the superblock
type Info struct {
	Label            string
	UUID             string
	LastMounted      string
	Revision         uint32
	BlockSize        uint64
	BlockCount       uint64
	FreeBlocks       uint64
	ReservedBlocks   uint64
	InodeCount       uint32
	FreeInodes       uint32
	InodeSize        uint16
	FirstDataBlock   uint32
	BlocksPerGroup   uint32
	InodesPerGroup   uint32
	BlockGroups      uint64
	FlexGroupSize    uint64
	DescriptorSize   uint16
	Features         []string
	Created          time.Time
	LastWritten      time.Time
	LastMountedAt    time.Time
	MountCount       uint16
	CleanlyUnmounted bool
}

// Info returns a summary of the filesystem parameters
func (fs *FileSystem) Info() Info {
	sb := fs.superblock
	return Info{
		Label:            sb.volumeLabel,
		UUID:             sb.uuid.String(),
		LastMounted:      sb.lastMountedDirectory,
		Revision:         sb.revisionLevel,
		BlockSize:        sb.blockSize,
		BlockCount:       sb.blockCount,
		FreeBlocks:       sb.freeBlocks,
		ReservedBlocks:   sb.reservedBlocks,
		InodeCount:       sb.inodeCount,
		FreeInodes:       sb.freeInodes,
		InodeSize:        sb.inodeSize,
		FirstDataBlock:   sb.firstDataBlock,
		BlocksPerGroup:   sb.blocksPerGroup,
		InodesPerGroup:   sb.inodesPerGroup,
		BlockGroups:      sb.blockGroupCount(),
		FlexGroupSize:    sb.flexGroupSize(),
		DescriptorSize:   sb.descriptorSize(),
		Features:         sb.features.names(),
		Created:          sb.mkfsTime,
		LastWritten:      sb.writeTime,
		LastMountedAt:    sb.mountTime,
		MountCount:       sb.mountCount,
		CleanlyUnmounted: sb.filesystemState&fsStateCleanlyUnmounted != 0,
	}
}
