package ext4

import (
	"fmt"
	"time"

	"github.com/diskfs/ext4ls/util"
	uuid "github.com/satori/go.uuid"
)

type filesystemState uint16
type errorBehaviour uint16
type osFlag uint32
type hashAlgorithm byte

const (
	// superblockSignature is the signature for every superblock
	superblockSignature uint16 = 0xef53
	// superblockOffset is where the primary superblock starts, relative to the start of the filesystem
	superblockOffset int64 = 1024
	// SuperblockSize is the on-disk size of the superblock record
	SuperblockSize = 1024

	// optional states for the filesystem
	fsStateCleanlyUnmounted filesystemState = 0x0001
	fsStateErrors           filesystemState = 0x0002
	fsStateOrphansRecovered filesystemState = 0x0004
	// how to handle erorrs
	errorsContinue        errorBehaviour = 1
	errorsRemountReadOnly errorBehaviour = 2
	errorsPanic           errorBehaviour = 3
	// oses
	osLinux   osFlag = 0
	osHurd    osFlag = 1
	osMasix   osFlag = 2
	osFreeBSD osFlag = 3
	osLites   osFlag = 4

	revisionOriginal    uint32 = 0
	originalInodeSize   uint16 = 128
	originalFirstInode  uint32 = 11
	maxLogBlockSize     uint32 = 6 // 64KiB
	maxLogGroupsPerFlex uint8  = 31
	// groupDescriptorSize32 is the descriptor size without the 64bit feature
	groupDescriptorSize32 uint16 = 32
	// groupDescriptorSize64 is the descriptor size with the 64bit feature when s_desc_size is 0
	groupDescriptorSize64 uint16 = 64
)

// superblock is a structure holding the ext4 superblock
type superblock struct {
	inodeCount                   uint32
	blockCount                   uint64
	reservedBlocks               uint64
	freeBlocks                   uint64
	freeInodes                   uint32
	firstDataBlock               uint32
	logBlockSize                 uint32
	blockSize                    uint64
	logClusterSize               uint32
	blocksPerGroup               uint32
	clustersPerGroup             uint32
	inodesPerGroup               uint32
	mountTime                    time.Time
	writeTime                    time.Time
	mountCount                   uint16
	mountsToFsck                 uint16
	filesystemState              filesystemState
	errorBehaviour               errorBehaviour
	minorRevision                uint16
	lastCheck                    time.Time
	checkInterval                uint32
	creatorOS                    osFlag
	revisionLevel                uint32
	reservedBlocksDefaultUID     uint16
	reservedBlocksDefaultGID     uint16
	firstNonReservedInode        uint32
	inodeSize                    uint16
	blockGroup                   uint16
	features                     featureFlags
	uuid                         uuid.UUID
	volumeLabel                  string
	lastMountedDirectory         string
	algorithmUsageBitmap         uint32
	preallocationBlocks          byte
	preallocationDirectoryBlocks byte
	reservedGDTBlocks            uint16
	journalSuperblockUUID        uuid.UUID
	journalInode                 uint32
	journalDeviceNumber          uint32
	orphanedInodesStart          uint32
	hashTreeSeed                 [4]uint32
	hashVersion                  hashAlgorithm
	journalBackupType            byte
	groupDescriptorSize          uint16
	defaultMountOptions          uint32
	firstMetablockGroup          uint32
	mkfsTime                     time.Time
	journalBackup                [17]uint32
	inodeMinBytes                uint16
	inodeReserveBytes            uint16
	miscFlags                    miscFlags
	raidStride                   uint16
	multiMountPreventionInterval uint16
	multiMountProtectionBlock    uint64
	raidStripeWidth              uint32
	logGroupsPerFlex             uint8
	checksumType                 byte
	totalKBWritten               uint64
	userQuotaInode               uint32
	groupQuotaInode              uint32
	overheadBlocks               uint32
	backupSuperblockBlockGroups  [2]uint32
	encryptionAlgorithms         [4]byte
	encryptionSalt               [16]byte
	lostFoundInode               uint32
	projectQuotaInode            uint32
	checksumSeed                 uint32
	checksum                     uint32
}

// superblockFromBytes decodes and validates a superblock. The checksum is
// recorded but not verified.
func superblockFromBytes(b []byte) (*superblock, error) {
	r, err := recordFromBytes(b, SuperblockSize, "superblock")
	if err != nil {
		return nil, err
	}

	// check the magic signature before trusting anything else
	actualSignature := r.u16(0x38)
	if actualSignature != superblockSignature {
		return nil, fmt.Errorf("%w: signature at location 0x38 was %#x instead of expected %#x", ErrCorruptFormat, actualSignature, superblockSignature)
	}

	sb := superblock{}

	// first read feature flags of various types
	sb.features = parseFeatureFlags(r.u32(0x5c), r.u32(0x60), r.u32(0x64))

	sb.inodeCount = r.u32(0x0)
	// block counts only carry a high half on 64-bit filesystems
	if sb.features.fs64Bit() {
		sb.blockCount = r.split32(0x4, 0x150)
		sb.reservedBlocks = r.split32(0x8, 0x154)
		sb.freeBlocks = r.split32(0xc, 0x158)
	} else {
		sb.blockCount = uint64(r.u32(0x4))
		sb.reservedBlocks = uint64(r.u32(0x8))
		sb.freeBlocks = uint64(r.u32(0xc))
	}
	sb.freeInodes = r.u32(0x10)
	sb.firstDataBlock = r.u32(0x14)
	sb.logBlockSize = r.u32(0x18)
	sb.logClusterSize = r.u32(0x1c)
	sb.blocksPerGroup = r.u32(0x20)
	sb.clustersPerGroup = r.u32(0x24)
	sb.inodesPerGroup = r.u32(0x28)
	sb.mountTime = time.Unix(int64(r.u32(0x2c)), 0)
	sb.writeTime = time.Unix(int64(r.u32(0x30)), 0)
	sb.mountCount = r.u16(0x34)
	sb.mountsToFsck = r.u16(0x36)
	sb.filesystemState = filesystemState(r.u16(0x3a))
	sb.errorBehaviour = errorBehaviour(r.u16(0x3c))
	sb.minorRevision = r.u16(0x3e)
	sb.lastCheck = time.Unix(int64(r.u32(0x40)), 0)
	sb.checkInterval = r.u32(0x44)
	sb.creatorOS = osFlag(r.u32(0x48))
	sb.revisionLevel = r.u32(0x4c)
	sb.reservedBlocksDefaultUID = r.u16(0x50)
	sb.reservedBlocksDefaultGID = r.u16(0x52)

	// revision 0 filesystems have fixed inode geometry and leave these fields zero
	if sb.revisionLevel == revisionOriginal {
		sb.firstNonReservedInode = originalFirstInode
		sb.inodeSize = originalInodeSize
	} else {
		sb.firstNonReservedInode = r.u32(0x54)
		sb.inodeSize = r.u16(0x58)
	}
	sb.blockGroup = r.u16(0x5a)

	sb.uuid, err = uuid.FromBytes(r.bytes(0x68, 16))
	if err != nil {
		return nil, fmt.Errorf("unable to read volume UUID: %w", err)
	}
	sb.volumeLabel = r.cstring(0x78, 16)
	sb.lastMountedDirectory = r.cstring(0x88, 64)
	sb.algorithmUsageBitmap = r.u32(0xc8)
	sb.preallocationBlocks = r.u8(0xcc)
	sb.preallocationDirectoryBlocks = r.u8(0xcd)
	sb.reservedGDTBlocks = r.u16(0xce)

	sb.journalSuperblockUUID, err = uuid.FromBytes(r.bytes(0xd0, 16))
	if err != nil {
		return nil, fmt.Errorf("unable to read journal UUID: %w", err)
	}
	sb.journalInode = r.u32(0xe0)
	sb.journalDeviceNumber = r.u32(0xe4)
	sb.orphanedInodesStart = r.u32(0xe8)
	for i := range sb.hashTreeSeed {
		sb.hashTreeSeed[i] = r.u32(0xec + 4*i)
	}
	sb.hashVersion = hashAlgorithm(r.u8(0xfc))
	sb.journalBackupType = r.u8(0xfd)
	sb.groupDescriptorSize = r.u16(0xfe)
	sb.defaultMountOptions = r.u32(0x100)
	sb.firstMetablockGroup = r.u32(0x104)
	sb.mkfsTime = time.Unix(int64(r.u32(0x108)), 0)
	for i := range sb.journalBackup {
		sb.journalBackup[i] = r.u32(0x10c + 4*i)
	}

	sb.inodeMinBytes = r.u16(0x15c)
	sb.inodeReserveBytes = r.u16(0x15e)
	sb.miscFlags = parseMiscFlags(r.u32(0x160))
	sb.raidStride = r.u16(0x164)
	sb.multiMountPreventionInterval = r.u16(0x166)
	sb.multiMountProtectionBlock = r.u64(0x168)
	sb.raidStripeWidth = r.u32(0x170)
	sb.logGroupsPerFlex = r.u8(0x174)
	sb.checksumType = r.u8(0x175)
	sb.totalKBWritten = r.u64(0x178)

	sb.userQuotaInode = r.u32(0x240)
	sb.groupQuotaInode = r.u32(0x244)
	sb.overheadBlocks = r.u32(0x248)
	sb.backupSuperblockBlockGroups = [2]uint32{r.u32(0x24c), r.u32(0x250)}
	copy(sb.encryptionAlgorithms[:], r[0x254:0x258])
	copy(sb.encryptionSalt[:], r[0x258:0x268])
	sb.lostFoundInode = r.u32(0x268)
	sb.projectQuotaInode = r.u32(0x26c)
	sb.checksumSeed = r.u32(0x270)
	sb.checksum = r.u32(0x3fc)

	if err := sb.validate(); err != nil {
		return nil, err
	}
	sb.blockSize = 1024 << sb.logBlockSize
	return &sb, nil
}

// validate rejects the field values that later arithmetic divides by or shifts with
func (sb *superblock) validate() error {
	switch {
	case sb.blocksPerGroup == 0:
		return fmt.Errorf("%w: blocks per group is zero", ErrCorruptFormat)
	case sb.inodesPerGroup == 0:
		return fmt.Errorf("%w: inodes per group is zero", ErrCorruptFormat)
	case sb.logBlockSize > maxLogBlockSize:
		return fmt.Errorf("%w: block size exponent %d exceeds %d", ErrCorruptFormat, sb.logBlockSize, maxLogBlockSize)
	case sb.inodeSize < originalInodeSize || sb.inodeSize&(sb.inodeSize-1) != 0:
		return fmt.Errorf("%w: inode size %d", ErrCorruptFormat, sb.inodeSize)
	case uint64(sb.inodeSize) > 1024<<sb.logBlockSize:
		return fmt.Errorf("%w: inode size %d larger than block size %d", ErrCorruptFormat, sb.inodeSize, 1024<<sb.logBlockSize)
	case sb.blockCount <= uint64(sb.firstDataBlock):
		return fmt.Errorf("%w: block count %d does not exceed first data block %d", ErrCorruptFormat, sb.blockCount, sb.firstDataBlock)
	case sb.logGroupsPerFlex > maxLogGroupsPerFlex:
		return fmt.Errorf("%w: flex group exponent %d", ErrCorruptFormat, sb.logGroupsPerFlex)
	}
	if sb.features.fs64Bit() && sb.groupDescriptorSize != 0 {
		size := sb.groupDescriptorSize
		if size < groupDescriptorSize64 || size&(size-1) != 0 || uint64(size) > 1024<<sb.logBlockSize {
			return fmt.Errorf("%w: group descriptor size %d", ErrCorruptFormat, size)
		}
	}
	return nil
}

// toBytes returns a superblock ready to be written to disk
func (sb *superblock) toBytes() []byte {
	b := make([]byte, SuperblockSize)

	putU16(b, 0x38, superblockSignature)
	compatFlags, incompatFlags, roCompatFlags := sb.features.toInts()
	putU32(b, 0x5c, compatFlags)
	putU32(b, 0x60, incompatFlags)
	putU32(b, 0x64, roCompatFlags)

	putU32(b, 0x0, sb.inodeCount)
	if sb.features.fs64Bit() {
		putSplit32(b, 0x4, 0x150, sb.blockCount)
		putSplit32(b, 0x8, 0x154, sb.reservedBlocks)
		putSplit32(b, 0xc, 0x158, sb.freeBlocks)
	} else {
		putU32(b, 0x4, uint32(sb.blockCount))
		putU32(b, 0x8, uint32(sb.reservedBlocks))
		putU32(b, 0xc, uint32(sb.freeBlocks))
	}
	putU32(b, 0x10, sb.freeInodes)
	putU32(b, 0x14, sb.firstDataBlock)
	putU32(b, 0x18, sb.logBlockSize)
	putU32(b, 0x1c, sb.logClusterSize)
	putU32(b, 0x20, sb.blocksPerGroup)
	putU32(b, 0x24, sb.clustersPerGroup)
	putU32(b, 0x28, sb.inodesPerGroup)
	putU32(b, 0x2c, uint32(sb.mountTime.Unix()))
	putU32(b, 0x30, uint32(sb.writeTime.Unix()))
	putU16(b, 0x34, sb.mountCount)
	putU16(b, 0x36, sb.mountsToFsck)
	putU16(b, 0x3a, uint16(sb.filesystemState))
	putU16(b, 0x3c, uint16(sb.errorBehaviour))
	putU16(b, 0x3e, sb.minorRevision)
	putU32(b, 0x40, uint32(sb.lastCheck.Unix()))
	putU32(b, 0x44, sb.checkInterval)
	putU32(b, 0x48, uint32(sb.creatorOS))
	putU32(b, 0x4c, sb.revisionLevel)
	putU16(b, 0x50, sb.reservedBlocksDefaultUID)
	putU16(b, 0x52, sb.reservedBlocksDefaultGID)
	if sb.revisionLevel != revisionOriginal {
		putU32(b, 0x54, sb.firstNonReservedInode)
		putU16(b, 0x58, sb.inodeSize)
	}
	putU16(b, 0x5a, sb.blockGroup)

	copy(b[0x68:0x78], sb.uuid.Bytes())
	copy(b[0x78:0x88], sb.volumeLabel)
	copy(b[0x88:0xc8], sb.lastMountedDirectory)
	putU32(b, 0xc8, sb.algorithmUsageBitmap)
	b[0xcc] = sb.preallocationBlocks
	b[0xcd] = sb.preallocationDirectoryBlocks
	putU16(b, 0xce, sb.reservedGDTBlocks)
	copy(b[0xd0:0xe0], sb.journalSuperblockUUID.Bytes())
	putU32(b, 0xe0, sb.journalInode)
	putU32(b, 0xe4, sb.journalDeviceNumber)
	putU32(b, 0xe8, sb.orphanedInodesStart)
	for i, seed := range sb.hashTreeSeed {
		putU32(b, 0xec+4*i, seed)
	}
	b[0xfc] = byte(sb.hashVersion)
	b[0xfd] = sb.journalBackupType
	putU16(b, 0xfe, sb.groupDescriptorSize)
	putU32(b, 0x100, sb.defaultMountOptions)
	putU32(b, 0x104, sb.firstMetablockGroup)
	putU32(b, 0x108, uint32(sb.mkfsTime.Unix()))
	for i, blk := range sb.journalBackup {
		putU32(b, 0x10c+4*i, blk)
	}

	putU16(b, 0x15c, sb.inodeMinBytes)
	putU16(b, 0x15e, sb.inodeReserveBytes)
	putU32(b, 0x160, sb.miscFlags.toInt())
	putU16(b, 0x164, sb.raidStride)
	putU16(b, 0x166, sb.multiMountPreventionInterval)
	putU64(b, 0x168, sb.multiMountProtectionBlock)
	putU32(b, 0x170, sb.raidStripeWidth)
	b[0x174] = sb.logGroupsPerFlex
	b[0x175] = sb.checksumType
	putU64(b, 0x178, sb.totalKBWritten)

	putU32(b, 0x240, sb.userQuotaInode)
	putU32(b, 0x244, sb.groupQuotaInode)
	putU32(b, 0x248, sb.overheadBlocks)
	putU32(b, 0x24c, sb.backupSuperblockBlockGroups[0])
	putU32(b, 0x250, sb.backupSuperblockBlockGroups[1])
	copy(b[0x254:0x258], sb.encryptionAlgorithms[:])
	copy(b[0x258:0x268], sb.encryptionSalt[:])
	putU32(b, 0x268, sb.lostFoundInode)
	putU32(b, 0x26c, sb.projectQuotaInode)
	putU32(b, 0x270, sb.checksumSeed)
	putU32(b, 0x3fc, sb.checksum)

	return b
}

// blockGroupCount is the number of block groups, the last one possibly short
func (sb *superblock) blockGroupCount() uint64 {
	return util.RoundUpDiv(sb.blockCount-uint64(sb.firstDataBlock), uint64(sb.blocksPerGroup))
}

// descriptorSize is the size of one entry in the group descriptor table
func (sb *superblock) descriptorSize() uint16 {
	if !sb.features.fs64Bit() {
		return groupDescriptorSize32
	}
	if sb.groupDescriptorSize == 0 {
		return groupDescriptorSize64
	}
	return sb.groupDescriptorSize
}

// flexGroupSize is the number of groups whose metadata is packed together
func (sb *superblock) flexGroupSize() uint64 {
	return 1 << sb.logGroupsPerFlex
}
