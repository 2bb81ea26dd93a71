package ext4

type flag uint32

const (
	flagSignedDirectoryHash   flag = 0x0001
	flagUnsignedDirectoryHash flag = 0x0002
	flagTestDevCode           flag = 0x0004
)

// miscFlags is a structure holding the s_flags bits. Unnamed bits are kept in other.
type miscFlags struct {
	signedDirectoryHash   bool
	unsignedDirectoryHash bool
	developmentTest       bool
	other                 uint32
}

func parseMiscFlags(flags uint32) miscFlags {
	known := uint32(flagSignedDirectoryHash | flagUnsignedDirectoryHash | flagTestDevCode)
	return miscFlags{
		signedDirectoryHash:   flags&uint32(flagSignedDirectoryHash) != 0,
		unsignedDirectoryHash: flags&uint32(flagUnsignedDirectoryHash) != 0,
		developmentTest:       flags&uint32(flagTestDevCode) != 0,
		other:                 flags &^ known,
	}
}

func (m miscFlags) toInt() uint32 {
	flags := m.other
	if m.signedDirectoryHash {
		flags |= uint32(flagSignedDirectoryHash)
	}
	if m.unsignedDirectoryHash {
		flags |= uint32(flagUnsignedDirectoryHash)
	}
	if m.developmentTest {
		flags |= uint32(flagTestDevCode)
	}
	return flags
}
