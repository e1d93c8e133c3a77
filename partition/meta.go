package partition

import (
	"encoding/binary"

	"github.com/bodgit/nod/internal/core"
)

// bootHeaderSize is the size of boot.bin, the first bytes of every
// partition's decrypted user data.
const bootHeaderSize = 0x440

// bi2Size is the size of bi2.bin, immediately following boot.bin.
const bi2Size = 0x2000

// apploaderHeaderSize is the fixed header preceding an apploader's code and
// trailer.
const apploaderHeaderSize = 0x20

// dolHeaderSize is the fixed header of a DOL executable naming its section
// extents.
const dolHeaderSize = 0x100

// BootHeader is boot.bin: the disc header repeated at the start of every
// partition, followed by the fields locating the apploader, FST and main
// executable.
type BootHeader struct {
	DiscID          [6]byte
	DiscNumber      uint8
	DiscVersion     uint8
	DolOffset       uint64
	FSTOffset       uint64
	FSTSize         uint64
	FSTMaxSize      uint64
}

// ParseBootHeader decodes boot.bin from exactly bootHeaderSize bytes of a
// partition's decrypted user data.
func ParseBootHeader(buf []byte, isWii bool) (*BootHeader, error) {
	if len(buf) < bootHeaderSize {
		return nil, core.DiscFormatErrorf("partition: boot.bin too short (%d bytes)", len(buf))
	}
	shift := uint(0)
	if isWii {
		shift = 2
	}
	h := &BootHeader{DiscNumber: buf[6], DiscVersion: buf[7]}
	copy(h.DiscID[:], buf[0:6])
	h.DolOffset = uint64(binary.BigEndian.Uint32(buf[0x420:0x424])) << shift
	h.FSTOffset = uint64(binary.BigEndian.Uint32(buf[0x424:0x428])) << shift
	h.FSTSize = uint64(binary.BigEndian.Uint32(buf[0x428:0x42C])) << shift
	h.FSTMaxSize = uint64(binary.BigEndian.Uint32(buf[0x42C:0x430])) << shift
	return h, nil
}

// ApploaderHeader names the size of the apploader image that follows
// bi2.bin: a fixed header, the apploader's executable code, and a trailer.
type ApploaderHeader struct {
	Date        [10]byte
	EntryPoint  uint32
	CodeSize    uint32
	TrailerSize uint32
}

// TotalSize is the full byte length of the apploader image, header included.
func (h *ApploaderHeader) TotalSize() int64 {
	return apploaderHeaderSize + int64(h.CodeSize) + int64(h.TrailerSize)
}

// ParseApploaderHeader decodes an apploader header from its first 32 bytes.
func ParseApploaderHeader(buf []byte) (*ApploaderHeader, error) {
	if len(buf) < apploaderHeaderSize {
		return nil, core.DiscFormatErrorf("partition: apploader header too short (%d bytes)", len(buf))
	}
	h := &ApploaderHeader{
		EntryPoint:  binary.BigEndian.Uint32(buf[0x10:0x14]),
		CodeSize:    binary.BigEndian.Uint32(buf[0x14:0x18]),
		TrailerSize: binary.BigEndian.Uint32(buf[0x18:0x1C]),
	}
	copy(h.Date[:], buf[0:10])
	return h, nil
}

const (
	dolTextCount = 7
	dolDataCount = 11
)

// DolHeader names the section extents of a main.dol executable, enough to
// compute its total on-disc size.
type DolHeader struct {
	TextOffset [dolTextCount]uint32
	DataOffset [dolDataCount]uint32
	TextSize   [dolTextCount]uint32
	DataSize   [dolDataCount]uint32
	BSSAddress uint32
	BSSSize    uint32
	EntryPoint uint32
}

// ParseDolHeader decodes a DOL header from its first dolHeaderSize bytes.
func ParseDolHeader(buf []byte) (*DolHeader, error) {
	if len(buf) < dolHeaderSize {
		return nil, core.DiscFormatErrorf("partition: DOL header too short (%d bytes)", len(buf))
	}
	h := &DolHeader{}
	for i := 0; i < dolTextCount; i++ {
		h.TextOffset[i] = binary.BigEndian.Uint32(buf[i*4 : i*4+4])
	}
	for i := 0; i < dolDataCount; i++ {
		h.DataOffset[i] = binary.BigEndian.Uint32(buf[0x1C+i*4 : 0x1C+i*4+4])
	}
	for i := 0; i < dolTextCount; i++ {
		h.TextSize[i] = binary.BigEndian.Uint32(buf[0x90+i*4 : 0x90+i*4+4])
	}
	for i := 0; i < dolDataCount; i++ {
		h.DataSize[i] = binary.BigEndian.Uint32(buf[0xAC+i*4 : 0xAC+i*4+4])
	}
	h.BSSAddress = binary.BigEndian.Uint32(buf[0xD8:0xDC])
	h.BSSSize = binary.BigEndian.Uint32(buf[0xDC:0xE0])
	h.EntryPoint = binary.BigEndian.Uint32(buf[0xE0:0xE4])
	return h, nil
}

// TotalSize returns the full on-disc size of the DOL, the end of its
// furthest-reaching text or data section.
func (h *DolHeader) TotalSize() int64 {
	var end uint64
	for i := 0; i < dolTextCount; i++ {
		if e := uint64(h.TextOffset[i]) + uint64(h.TextSize[i]); e > end {
			end = e
		}
	}
	for i := 0; i < dolDataCount; i++ {
		if e := uint64(h.DataOffset[i]) + uint64(h.DataSize[i]); e > end {
			end = e
		}
	}
	return int64(end)
}

// Meta is a partition's decrypted metadata: raw copies of its boot, bi2,
// apploader and DOL images plus the FST buffer, and (when present) the
// ticket/TMD/cert-chain/H3 bytes copied from the container's unencrypted
// partition header region.
type Meta struct {
	Boot      *BootHeader
	BI2       []byte
	Apploader []byte
	Dol       []byte
	FST       []byte

	Ticket    []byte
	TMD       []byte
	CertChain []byte
	H3        []byte
}
