package disk

import (
	"os"

	"golang.org/x/sys/unix"
)

// deviceSize asks the kernel for the size of a block device, falling back to
// seeking to its end
func deviceSize(f *os.File) (int64, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err == nil {
		return int64(size), nil
	}
	return seekSize(f)
}
