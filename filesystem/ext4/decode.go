package ext4

import (
	"encoding/binary"
	"fmt"
)

// record is a fixed-layout on-disk structure. Fields are read from their
// documented byte offsets in little-endian order; nothing is overlaid onto
// Go memory.
type record []byte

// recordFromBytes checks that b holds at least size bytes and returns the
// first size of them as a record
func recordFromBytes(b []byte, size int, what string) (record, error) {
	if len(b) < size {
		return nil, fmt.Errorf("%w: %s needs %d bytes, only %d available", ErrTruncated, what, size, len(b))
	}
	return record(b[:size]), nil
}

func (r record) u8(off int) uint8 {
	return r[off]
}

func (r record) u16(off int) uint16 {
	return binary.LittleEndian.Uint16(r[off : off+2])
}

func (r record) u32(off int) uint32 {
	return binary.LittleEndian.Uint32(r[off : off+4])
}

func (r record) u64(off int) uint64 {
	return binary.LittleEndian.Uint64(r[off : off+8])
}

// split32 combines a 32-bit low half with a 32-bit high half
func (r record) split32(lo, hi int) uint64 {
	return uint64(r.u32(hi))<<32 | uint64(r.u32(lo))
}

// split16 combines a 32-bit low half with a 16-bit high half, as used by 48-bit block numbers
func (r record) split16(lo, hi int) uint64 {
	return uint64(r.u16(hi))<<32 | uint64(r.u32(lo))
}

// bytes returns a copy of the field at off
func (r record) bytes(off, length int) []byte {
	b := make([]byte, length)
	copy(b, r[off:off+length])
	return b
}

// cstring returns the NUL-terminated string stored in a fixed-width field
func (r record) cstring(off, length int) string {
	b := r[off : off+length]
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// encoding side, used by the toBytes methods

func putU16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:off+2], v)
}

func putU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

func putU64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

func putSplit32(b []byte, lo, hi int, v uint64) {
	putU32(b, lo, uint32(v))
	putU32(b, hi, uint32(v>>32))
}

func putSplit16(b []byte, lo, hi int, v uint64) {
	putU32(b, lo, uint32(v))
	putU16(b, hi, uint16(v>>32))
}

// pair16 combines two 16-bit halves into a 32-bit value
func (r record) pair16(lo, hi int) uint32 {
	return uint32(r.u16(hi))<<16 | uint32(r.u16(lo))
}

func putPair16(b []byte, lo, hi int, v uint32) {
	putU16(b, lo, uint16(v))
	putU16(b, hi, uint16(v>>16))
}
