package util

import "io"

// File is the read-only storage a filesystem is decoded from. Every read is
// addressed by an explicit byte offset, so a File carries no cursor and can
// be shared by readers that do not coordinate.
type File interface {
	io.ReaderAt
}
