package disc

import (
	"encoding/binary"
	"fmt"

	"github.com/bodgit/nod/block"
	"github.com/bodgit/nod/internal/core"
)

// partitionTableOffset is the fixed disc offset of the four volume-group
// descriptors on a Wii disc.
const partitionTableOffset = 0x40000

const numVolumeGroups = 4

// Kind identifies the purpose of a Wii partition.
type Kind struct {
	tag   kindTag
	other uint32
}

type kindTag int

const (
	kindData kindTag = iota
	kindUpdate
	kindChannel
	kindOther
)

// KindData, KindUpdate and KindChannel are the well-known partition kinds;
// anything else is reported as KindOther(n).
var (
	KindData    = Kind{tag: kindData}
	KindUpdate  = Kind{tag: kindUpdate}
	KindChannel = Kind{tag: kindChannel}
)

// KindOther wraps an unrecognized partition type value.
func KindOther(n uint32) Kind { return Kind{tag: kindOther, other: n} }

// Is reports whether two Kind values name the same partition type.
func (k Kind) Is(other Kind) bool { return k == other }

// DirName returns the conventional directory name a CLI would extract this
// partition kind to.
func (k Kind) DirName() string {
	switch k.tag {
	case kindData:
		return "DATA"
	case kindUpdate:
		return "UPDATE"
	case kindChannel:
		return "CHANNEL"
	default:
		return fmt.Sprintf("P%d", k.other)
	}
}

func (k Kind) String() string { return k.DirName() }

func kindFromType(t uint32) Kind {
	switch t {
	case 0:
		return KindData
	case 1:
		return KindUpdate
	case 2:
		return KindChannel
	default:
		return KindOther(t)
	}
}

// PartitionHeader is the fixed 0x2C0-byte header at the start of every Wii
// partition, naming the offsets and sizes of its ticket, TMD, certificate
// chain, H3 table and encrypted user data.
type PartitionHeader struct {
	Ticket         [0x2A4]byte
	TMDSize        uint32
	TMDOffset      uint64
	CertChainSize  uint32
	CertChainOffset uint64
	H3Offset        uint64
	DataOffset      uint64
	DataSize        uint64
}

const partitionHeaderSize = 0x2C0

// ParsePartitionHeader decodes a partition header from exactly
// partitionHeaderSize bytes, relative to the partition's own start.
func ParsePartitionHeader(buf []byte) (*PartitionHeader, error) {
	if len(buf) < partitionHeaderSize {
		return nil, core.DiscFormatErrorf("disc: partition header too short (%d bytes)", len(buf))
	}
	h := &PartitionHeader{}
	copy(h.Ticket[:], buf[:0x2A4])
	h.TMDSize = binary.BigEndian.Uint32(buf[0x2A4:0x2A8])
	h.TMDOffset = uint64(binary.BigEndian.Uint32(buf[0x2A8:0x2AC])) << 2
	h.CertChainSize = binary.BigEndian.Uint32(buf[0x2AC:0x2B0])
	h.CertChainOffset = uint64(binary.BigEndian.Uint32(buf[0x2B0:0x2B4])) << 2
	h.H3Offset = uint64(binary.BigEndian.Uint32(buf[0x2B4:0x2B8])) << 2
	h.DataOffset = uint64(binary.BigEndian.Uint32(buf[0x2B8:0x2BC])) << 2
	h.DataSize = uint64(binary.BigEndian.Uint32(buf[0x2BC:0x2C0])) << 2
	return h, nil
}

// TitleID returns the 8-byte title ID embedded in the ticket at offset
// 0x1DC.
func (h *PartitionHeader) TitleID() [8]byte {
	var id [8]byte
	copy(id[:], h.Ticket[0x1DC:0x1E4])
	return id
}

// CommonKeyIndex returns the ticket's common-key-index byte at offset
// 0x1F1, selecting which of the retail/Korean/vWii common keys decrypts
// the title key.
func (h *PartitionHeader) CommonKeyIndex() byte { return h.Ticket[0x1F1] }

// EncryptedTitleKey returns the 16-byte AES-encrypted title key at offset
// 0x1BF.
func (h *PartitionHeader) EncryptedTitleKey() [16]byte {
	var k [16]byte
	copy(k[:], h.Ticket[0x1BF:0x1CF])
	return k
}

// Info describes one partition found on a Wii disc: its table position,
// kind, sector bounds and header.
type Info struct {
	Index          int
	Kind           Kind
	StartSector    uint32
	DataStartSector uint32
	DataEndSector   uint32
	Header          *PartitionHeader
	DiscHeader      *Header
}

// StartOffset is the partition's byte offset on the disc.
func (i Info) StartOffset() int64 { return int64(i.StartSector) * block.SectorSize }

// groupDescriptor describes one volume group's partition count and the
// location of its partition entry array, before
// its partitions are read.
type groupDescriptor struct {
	count  uint32
	offset uint64
}

// readGroupDescriptors decodes the four fixed volume-group descriptors at
// partitionTableOffset.
func readGroupDescriptors(buf []byte) [numVolumeGroups]groupDescriptor {
	var groups [numVolumeGroups]groupDescriptor
	for i := 0; i < numVolumeGroups; i++ {
		o := i * 8
		groups[i] = groupDescriptor{
			count:  binary.BigEndian.Uint32(buf[o : o+4]),
			offset: uint64(binary.BigEndian.Uint32(buf[o+4:o+8])) << 2,
		}
	}
	return groups
}

// partitionEntry is one raw entry within a volume group's partition array:
// a partition's disc offset and type, before its header has been read.
type partitionEntry struct {
	offset uint64
	kind   Kind
}

func readPartitionEntries(buf []byte, count uint32) []partitionEntry {
	entries := make([]partitionEntry, count)
	for i := range entries {
		o := i * 8
		entries[i] = partitionEntry{
			offset: uint64(binary.BigEndian.Uint32(buf[o:o+4])) << 2,
			kind:   kindFromType(binary.BigEndian.Uint32(buf[o+4 : o+8])),
		}
	}
	return entries
}
