package ext4

import "fmt"

type feature uint32

const (
	// compatible features: an implementation that does not know them may still read and write
	compatFeatureDirectoryPreAllocate          feature = 0x1
	compatFeatureImagicInodes                  feature = 0x2
	compatFeatureHasJournal                    feature = 0x4
	compatFeatureExtendedAttributes            feature = 0x8
	compatFeatureReservedGDTBlocksForExpansion feature = 0x10
	compatFeatureDirectoryIndices              feature = 0x20
	compatFeatureLazyBlockGroup                feature = 0x40
	compatFeatureExcludeInode                  feature = 0x80
	compatFeatureExcludeBitmap                 feature = 0x100
	compatFeatureSparseSuperBlockV2            feature = 0x200
	compatFeatureFastCommit                    feature = 0x400
	compatFeatureStableInodes                  feature = 0x800
	// incompatible features: an implementation that does not know them must not read
	incompatFeatureCompression                      feature = 0x1
	incompatFeatureDirectoryEntriesRecordFileType   feature = 0x2
	incompatFeatureRecoveryNeeded                   feature = 0x4
	incompatFeatureSeparateJournalDevice            feature = 0x8
	incompatFeatureMetaBlockGroups                  feature = 0x10
	incompatFeatureExtents                          feature = 0x40
	incompatFeature64Bit                            feature = 0x80
	incompatFeatureMultipleMountProtection          feature = 0x100
	incompatFeatureFlexBlockGroups                  feature = 0x200
	incompatFeatureExtendedAttributeInodes          feature = 0x400
	incompatFeatureDataInDirectoryEntries           feature = 0x1000
	incompatFeatureMetadataChecksumSeedInSuperblock feature = 0x2000
	incompatFeatureLargeDirectory                   feature = 0x4000
	incompatFeatureDataInInode                      feature = 0x8000
	incompatFeatureEncryptInodes                    feature = 0x10000
	incompatFeatureCasefold                         feature = 0x20000
	// read-only compatible features: an implementation that does not know them may only read
	roCompatFeatureSparseSuperblock       feature = 0x1
	roCompatFeatureLargeFile              feature = 0x2
	roCompatFeatureBtreeDirectory         feature = 0x4
	roCompatFeatureHugeFile               feature = 0x8
	roCompatFeatureGDTChecksum            feature = 0x10
	roCompatFeatureLargeSubdirectoryCount feature = 0x20
	roCompatFeatureLargeInodes            feature = 0x40
	roCompatFeatureSnapshot               feature = 0x80
	roCompatFeatureQuota                  feature = 0x100
	roCompatFeatureBigalloc               feature = 0x200
	roCompatFeatureMetadataChecksums      feature = 0x400
	roCompatFeatureReplicas               feature = 0x800
	roCompatFeatureReadOnly               feature = 0x1000
	roCompatFeatureProjectQuotas          feature = 0x2000
	roCompatFeatureVerity                 feature = 0x8000
)

type featureClass int

const (
	classCompat featureClass = iota
	classIncompat
	classROCompat
)

// featureFlags holds the three feature words exactly as stored. Bits this
// package has no name for are kept, so an encode after a decode is lossless.
type featureFlags struct {
	compat   feature
	incompat feature
	roCompat feature
}

func parseFeatureFlags(compatFlags, incompatFlags, roCompatFlags uint32) featureFlags {
	return featureFlags{
		compat:   feature(compatFlags),
		incompat: feature(incompatFlags),
		roCompat: feature(roCompatFlags),
	}
}

func (f featureFlags) toInts() (uint32, uint32, uint32) {
	return uint32(f.compat), uint32(f.incompat), uint32(f.roCompat)
}

func (f featureFlags) has(class featureClass, flag feature) bool {
	switch class {
	case classCompat:
		return f.compat&flag == flag
	case classIncompat:
		return f.incompat&flag == flag
	case classROCompat:
		return f.roCompat&flag == flag
	}
	return false
}

func (f featureFlags) sparseSuperblock() bool {
	return f.has(classROCompat, roCompatFeatureSparseSuperblock)
}

func (f featureFlags) sparseSuperBlockV2() bool {
	return f.has(classCompat, compatFeatureSparseSuperBlockV2)
}

func (f featureFlags) directoryEntriesRecordFileType() bool {
	return f.has(classIncompat, incompatFeatureDirectoryEntriesRecordFileType)
}

func (f featureFlags) metaBlockGroups() bool {
	return f.has(classIncompat, incompatFeatureMetaBlockGroups)
}

func (f featureFlags) extents() bool {
	return f.has(classIncompat, incompatFeatureExtents)
}

func (f featureFlags) fs64Bit() bool {
	return f.has(classIncompat, incompatFeature64Bit)
}

func (f featureFlags) hugeFile() bool {
	return f.has(classROCompat, roCompatFeatureHugeFile)
}

// names as used by mke2fs and tune2fs
var featureNames = []struct {
	class featureClass
	flag  feature
	name  string
}{
	{classCompat, compatFeatureDirectoryPreAllocate, "dir_prealloc"},
	{classCompat, compatFeatureImagicInodes, "imagic_inodes"},
	{classCompat, compatFeatureHasJournal, "has_journal"},
	{classCompat, compatFeatureExtendedAttributes, "ext_attr"},
	{classCompat, compatFeatureReservedGDTBlocksForExpansion, "resize_inode"},
	{classCompat, compatFeatureDirectoryIndices, "dir_index"},
	{classCompat, compatFeatureLazyBlockGroup, "lazy_bg"},
	{classCompat, compatFeatureExcludeInode, "exclude_inode"},
	{classCompat, compatFeatureExcludeBitmap, "exclude_bitmap"},
	{classCompat, compatFeatureSparseSuperBlockV2, "sparse_super2"},
	{classCompat, compatFeatureFastCommit, "fast_commit"},
	{classCompat, compatFeatureStableInodes, "stable_inodes"},
	{classIncompat, incompatFeatureCompression, "compression"},
	{classIncompat, incompatFeatureDirectoryEntriesRecordFileType, "filetype"},
	{classIncompat, incompatFeatureRecoveryNeeded, "needs_recovery"},
	{classIncompat, incompatFeatureSeparateJournalDevice, "journal_dev"},
	{classIncompat, incompatFeatureMetaBlockGroups, "meta_bg"},
	{classIncompat, incompatFeatureExtents, "extent"},
	{classIncompat, incompatFeature64Bit, "64bit"},
	{classIncompat, incompatFeatureMultipleMountProtection, "mmp"},
	{classIncompat, incompatFeatureFlexBlockGroups, "flex_bg"},
	{classIncompat, incompatFeatureExtendedAttributeInodes, "ea_inode"},
	{classIncompat, incompatFeatureDataInDirectoryEntries, "dirdata"},
	{classIncompat, incompatFeatureMetadataChecksumSeedInSuperblock, "metadata_csum_seed"},
	{classIncompat, incompatFeatureLargeDirectory, "large_dir"},
	{classIncompat, incompatFeatureDataInInode, "inline_data"},
	{classIncompat, incompatFeatureEncryptInodes, "encrypt"},
	{classIncompat, incompatFeatureCasefold, "casefold"},
	{classROCompat, roCompatFeatureSparseSuperblock, "sparse_super"},
	{classROCompat, roCompatFeatureLargeFile, "large_file"},
	{classROCompat, roCompatFeatureBtreeDirectory, "btree_dir"},
	{classROCompat, roCompatFeatureHugeFile, "huge_file"},
	{classROCompat, roCompatFeatureGDTChecksum, "uninit_bg"},
	{classROCompat, roCompatFeatureLargeSubdirectoryCount, "dir_nlink"},
	{classROCompat, roCompatFeatureLargeInodes, "extra_isize"},
	{classROCompat, roCompatFeatureSnapshot, "snapshot"},
	{classROCompat, roCompatFeatureQuota, "quota"},
	{classROCompat, roCompatFeatureBigalloc, "bigalloc"},
	{classROCompat, roCompatFeatureMetadataChecksums, "metadata_csum"},
	{classROCompat, roCompatFeatureReplicas, "replica"},
	{classROCompat, roCompatFeatureReadOnly, "read-only"},
	{classROCompat, roCompatFeatureProjectQuotas, "project"},
	{classROCompat, roCompatFeatureVerity, "verity"},
}

// names returns the set features in compat, incompat, ro_compat order.
// Bits without a name are reported as FEATURE_C12 style placeholders.
func (f featureFlags) names() []string {
	var (
		out   []string
		known [3]feature
	)
	for _, n := range featureNames {
		known[n.class] |= n.flag
		if f.has(n.class, n.flag) {
			out = append(out, n.name)
		}
	}
	prefixes := [3]string{"C", "I", "R"}
	words := [3]feature{f.compat, f.incompat, f.roCompat}
	for class, w := range words {
		unknown := w &^ known[class]
		for bit := 0; bit < 32; bit++ {
			if unknown&(1<<bit) != 0 {
				out = append(out, fmt.Sprintf("FEATURE_%s%d", prefixes[class], bit))
			}
		}
	}
	return out
}
