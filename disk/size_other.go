//go:build !linux

package disk

import "os"

func deviceSize(f *os.File) (int64, error) {
	return seekSize(f)
}
