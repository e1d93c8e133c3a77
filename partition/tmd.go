package partition

import (
	"crypto/sha1"
	"encoding/binary"
)

// TMD signature types and the fixed size of the signature block (the 4-byte
// signature type, the signature bytes, and padding to a 64-byte boundary)
// each implies, per the Wii
// title metadata format. The vast majority of retail titles use RSA_2048.
const (
	sigTypeRSA4096 = 0x00010000
	sigTypeRSA2048 = 0x00010001
	sigTypeECDSA   = 0x00010002
)

func tmdSignatureBlockSize(sigType uint32) (int, bool) {
	switch sigType {
	case sigTypeRSA4096:
		return 0x240, true
	case sigTypeRSA2048:
		return 0x140, true
	case sigTypeECDSA:
		return 0x80, true
	default:
		return 0, false
	}
}

// tmdHeaderSize is the fixed header following the signature block, from the
// issuer field through the boot index, ending where the content records
// begin.
const tmdHeaderSize = 0xA4

// tmdContentRecordSize is the size of one content record: content ID (4),
// index (2), type (2), size (8) and a SHA-1 hash (20).
const tmdContentRecordSize = 36

// TMDContentHash returns the SHA-1 hash recorded for content index 0 in a
// TMD buffer, the content whose hash is the partition's H3 table as a
// whole. It reports false if tmd is too short or uses a signature type
// this parser doesn't recognize.
func TMDContentHash(tmd []byte) ([sha1.Size]byte, bool) {
	var hash [sha1.Size]byte
	if len(tmd) < 4 {
		return hash, false
	}
	sigSize, ok := tmdSignatureBlockSize(binary.BigEndian.Uint32(tmd[0:4]))
	if !ok {
		return hash, false
	}
	contentsStart := sigSize + tmdHeaderSize
	if len(tmd) < contentsStart+tmdContentRecordSize {
		return hash, false
	}
	copy(hash[:], tmd[contentsStart+16:contentsStart+16+sha1.Size])
	return hash, true
}
