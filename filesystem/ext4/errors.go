package ext4

import (
	"errors"
	"fmt"
)

var (
	// ErrIO is returned when the underlying storage fails a seek or read, or returns fewer bytes than requested
	ErrIO = errors.New("i/o error")
	// ErrCorruptFormat is returned when a decoded structure violates an on-disk invariant
	ErrCorruptFormat = errors.New("corrupt filesystem structure")
	// ErrUnsupportedFeature is matched by every *UnsupportedFeatureError
	ErrUnsupportedFeature = errors.New("unsupported feature")
	// ErrOutOfRange is returned for inode or group numbers outside the bounds given by the superblock
	ErrOutOfRange = errors.New("out of range")
	// ErrTruncated is returned when a fixed-size record is decoded from too few bytes
	ErrTruncated = errors.New("truncated record")
	// ErrNotDirectory is returned when a directory listing is requested for an inode that is not a directory
	ErrNotDirectory = errors.New("not a directory")
)

// names of the on-disk layout variants that are recognized but not decoded
const (
	FeatureSparseSuper2         = "sparse superblock v2"
	FeatureInternalExtentNode   = "internal extent node"
	FeatureInlineData           = "inline data"
	FeatureHashedDirectory      = "hashed tree directory"
	FeatureMultiExtentDirectory = "multi-extent directory"
	FeatureBlockMap             = "indirect block map"
	FeatureMetaBlockGroups      = "meta block groups"
)

// UnsupportedFeatureError names the layout variant that stopped an operation.
// It matches ErrUnsupportedFeature with errors.Is.
type UnsupportedFeatureError struct {
	Feature string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnsupportedFeature, e.Feature)
}

// Is reports whether target is ErrUnsupportedFeature
func (e *UnsupportedFeatureError) Is(target error) bool {
	return target == ErrUnsupportedFeature
}

func unsupported(feature string) error {
	return &UnsupportedFeatureError{Feature: feature}
}
