//go:build !linux && !darwin && !freebsd

package disk

import "os"

func mmapFile(f *os.File, size int64) ([]byte, func() error, error) {
	return nil, nil, errMmapUnsupported
}
