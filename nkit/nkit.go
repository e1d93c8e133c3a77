// Package nkit parses the optional NKit sidecar header carried by WBFS and
// CISO containers, which records whole-image digests plus the junk-bits
// bitmap that enables lossless reconstruction of elided junk data.
package nkit

import (
	"encoding/binary"
	"io"

	"github.com/bodgit/nod/internal/core"
)

// dlDVDSize is the size in bytes of a dual-layer DVD, the fixed universe
// the junk-bits bitmap always covers regardless of the actual disc size.
const dlDVDSize uint64 = 8511160320

// headerFlag selects which optional fields a v1/v2 NKit header carries.
type headerFlag uint16

const (
	flagSize      headerFlag = 0x1
	flagCRC32     headerFlag = 0x2
	flagMD5       headerFlag = 0x4
	flagSHA1      headerFlag = 0x8
	flagXXHash64  headerFlag = 0x10
	flagKey       headerFlag = 0x20
	flagEncrypted headerFlag = 0x40
	flagExtraData headerFlag = 0x80
	flagIndexFile headerFlag = 0x100
)

// v1Flags is the fixed flag set carried implicitly by every version-1
// header, which predates the explicit flags field.
const v1Flags = flagCRC32 | flagMD5 | flagSHA1 | flagXXHash64

var magic = [4]byte{'N', 'K', 'I', 'T'}

// Header is a parsed NKit sidecar header.
type Header struct {
	Version   byte
	Flags     uint16
	Size      *uint64
	CRC32     *uint32
	MD5       *[16]byte
	SHA1      *[20]byte
	XXHash64  *uint64
	Key       []byte
	JunkBits  []byte
	BlockSize uint32
}

// TryRead probes r for the "NKIT" magic at the reader's current position
// and, if present, parses the header. It returns (nil, nil) when the magic
// isn't present, distinguishing "no sidecar" from a parse failure.
func TryRead(r io.ReadSeeker, blockSize uint32, hasJunkBits bool) (*Header, error) {
	var m [4]byte
	n, err := io.ReadFull(r, m[:])
	if n > 0 {
		if _, serr := r.Seek(-int64(n), io.SeekCurrent); serr != nil {
			return nil, core.IOError("nkit: seek back after magic probe", serr)
		}
	}
	if err != nil || m != magic {
		return nil, nil
	}
	return Read(r, blockSize, hasJunkBits)
}

// Read parses an NKit header from the current position of r.
func Read(r io.Reader, blockSize uint32, hasJunkBits bool) (*Header, error) {
	var versionString [8]byte
	if _, err := io.ReadFull(r, versionString[:]); err != nil {
		return nil, core.IOError("nkit: read version string", err)
	}
	if string(versionString[:7]) != "NKIT  v" || versionString[7] < '1' || versionString[7] > '9' {
		return nil, core.DiscFormatError("nkit: invalid header version string")
	}
	version := versionString[7] - '0'

	var headerSize uint16
	switch version {
	case 1:
		headerSize = uint16(calcHeaderSize(version, uint16(v1Flags), 0))
	case 2:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, core.IOError("nkit: read header size", err)
		}
		headerSize = binary.BigEndian.Uint16(b[:])
	default:
		return nil, core.DiscFormatErrorf("nkit: unsupported header version %d", version)
	}

	remaining := int(headerSize) - 8
	if version >= 2 {
		remaining -= 2
	}
	if remaining < 0 {
		return nil, core.DiscFormatError("nkit: header size too small")
	}
	body := make([]byte, remaining)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, core.IOError("nkit: read header body", err)
	}
	rest := body

	var flags uint16
	if version == 1 {
		flags = uint16(v1Flags)
	} else {
		if len(rest) < 2 {
			return nil, core.DiscFormatError("nkit: truncated flags field")
		}
		flags = binary.BigEndian.Uint16(rest[:2])
		rest = rest[2:]
	}

	h := &Header{Version: version, Flags: flags, BlockSize: blockSize}

	readN := func(n int) ([]byte, error) {
		if len(rest) < n {
			return nil, core.DiscFormatError("nkit: truncated header field")
		}
		v := rest[:n]
		rest = rest[n:]
		return v, nil
	}

	if flags&uint16(flagSize) != 0 {
		b, err := readN(8)
		if err != nil {
			return nil, err
		}
		v := binary.BigEndian.Uint64(b)
		h.Size = &v
	}
	if flags&uint16(flagCRC32) != 0 {
		b, err := readN(4)
		if err != nil {
			return nil, err
		}
		v := binary.BigEndian.Uint32(b)
		h.CRC32 = &v
	}
	if flags&uint16(flagMD5) != 0 {
		b, err := readN(16)
		if err != nil {
			return nil, err
		}
		var v [16]byte
		copy(v[:], b)
		h.MD5 = &v
	}
	if flags&uint16(flagSHA1) != 0 {
		b, err := readN(20)
		if err != nil {
			return nil, err
		}
		var v [20]byte
		copy(v[:], b)
		h.SHA1 = &v
	}
	if flags&uint16(flagXXHash64) != 0 {
		b, err := readN(8)
		if err != nil {
			return nil, err
		}
		v := binary.BigEndian.Uint64(b)
		h.XXHash64 = &v
	}

	if hasJunkBits {
		n := ceilDiv(ceilDiv(dlDVDSize, uint64(blockSize)), 8)
		junk := make([]byte, n)
		if _, err := io.ReadFull(r, junk); err != nil {
			return nil, core.IOError("nkit: read junk-bits bitmap", err)
		}
		h.JunkBits = junk
	}

	return h, nil
}

func calcHeaderSize(version byte, flags uint16, keyLen uint32) int {
	size := 8
	if version >= 2 {
		size += 4
	}
	if flags&uint16(flagSize) != 0 {
		size += 8
	}
	if flags&uint16(flagCRC32) != 0 {
		size += 4
	}
	if flags&uint16(flagMD5) != 0 {
		size += 16
	}
	if flags&uint16(flagSHA1) != 0 {
		size += 20
	}
	if flags&uint16(flagXXHash64) != 0 {
		size += 8
	}
	if flags&uint16(flagKey) != 0 {
		size += int(keyLen) + 2
	}
	return size
}

func ceilDiv(a, b uint64) uint64 { return (a + b - 1) / b }

// IsJunkBlock reports whether the given container block index is recorded
// as junk-filled, or (false, false) if this header carries no junk-bits
// bitmap or the index is out of range.
func (h *Header) IsJunkBlock(blockIndex uint32) (junk bool, ok bool) {
	if h.JunkBits == nil {
		return false, false
	}
	byteIdx := blockIndex / 8
	if int(byteIdx) >= len(h.JunkBits) {
		return false, false
	}
	bit := h.JunkBits[byteIdx] & (1 << (7 - (blockIndex & 7)))
	return bit != 0, true
}

