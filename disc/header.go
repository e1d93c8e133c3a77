// Package disc composes a block.Provider with the logical layout of a
// GameCube or Wii disc: its 1088-byte header, the Wii volume-group
// partition table, and a seekable byte stream over the whole image.
package disc

import (
	"encoding/binary"

	"github.com/bodgit/nod/internal/core"
	"golang.org/x/text/encoding/japanese"
)

// HeaderSize is the fixed size of the disc header, identical to boot.bin's
// size within a partition.
const HeaderSize = 0x440

// wiiMagic and gcnMagic discriminate a Wii disc from a GameCube one; at
// most one should be present on a valid disc.
const (
	wiiMagic uint32 = 0x5D1C9EA3
	gcnMagic uint32 = 0xC2339F3D
)

// Header is the disc's primary 1088-byte header, read from offset 0.
type Header struct {
	raw [HeaderSize]byte
}

// ParseHeader decodes a disc header from exactly HeaderSize bytes.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, core.DiscFormatErrorf("disc: header too short (%d bytes)", len(buf))
	}
	h := &Header{}
	copy(h.raw[:], buf[:HeaderSize])
	if !h.IsGameCube() && !h.IsWii() {
		return nil, core.DiscFormatError("disc: neither GameCube nor Wii magic present")
	}
	return h, nil
}

// GameID returns the 6-character ASCII game identifier.
func (h *Header) GameID() string { return string(h.raw[0:6]) }

// DiscNumber returns the disc number, for multi-disc titles.
func (h *Header) DiscNumber() uint8 { return h.raw[6] }

// DiscVersion returns the disc's version byte.
func (h *Header) DiscVersion() uint8 { return h.raw[7] }

// IsWii reports whether the Wii magic is present at offset 0x18.
func (h *Header) IsWii() bool {
	return binary.BigEndian.Uint32(h.raw[0x18:0x1C]) == wiiMagic
}

// IsGameCube reports whether the GameCube magic is present at offset 0x1C.
func (h *Header) IsGameCube() bool {
	return binary.BigEndian.Uint32(h.raw[0x1C:0x20]) == gcnMagic
}

// GameTitle decodes the 64-byte Shift-JIS game title at offset 0x20.
func (h *Header) GameTitle() (string, error) {
	raw := h.raw[0x20:0x60]
	n := len(raw)
	for i, b := range raw {
		if b == 0 {
			n = i
			break
		}
	}
	decoded, err := japanese.ShiftJIS.NewDecoder().Bytes(raw[:n])
	if err != nil {
		return "", core.DiscFormatErrorf("disc: failed to decode game title: %v", err)
	}
	return string(decoded), nil
}

// NoPartitionHashes reports the disc-header flag disabling the Wii
// hash-tree (H0-H3) entirely.
func (h *Header) NoPartitionHashes() bool { return h.raw[0x60] != 0 }

// NoPartitionEncryption reports the disc-header flag disabling Wii
// partition data encryption.
func (h *Header) NoPartitionEncryption() bool { return h.raw[0x61] != 0 }

// Bytes returns the raw 1088-byte header.
func (h *Header) Bytes() []byte { return h.raw[:] }
