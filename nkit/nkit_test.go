package nkit

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildV2(t *testing.T, flags uint16, size uint64, crc32 uint32, junkBits []byte) []byte {
	t.Helper()

	var body bytes.Buffer
	var flagBuf [2]byte
	binary.BigEndian.PutUint16(flagBuf[:], flags)
	body.Write(flagBuf[:])

	if flags&uint16(flagSize) != 0 {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], size)
		body.Write(b[:])
	}
	if flags&uint16(flagCRC32) != 0 {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], crc32)
		body.Write(b[:])
	}

	headerSize := 8 + 2 + body.Len()

	var out bytes.Buffer
	out.WriteString("NKIT  v2")
	var hs [2]byte
	binary.BigEndian.PutUint16(hs[:], uint16(headerSize))
	out.Write(hs[:])
	out.Write(body.Bytes())
	out.Write(junkBits)

	return out.Bytes()
}

func TestReadV2WithJunkBits(t *testing.T) {
	blockSize := uint32(0x8000)
	junkLen := ceilDiv(ceilDiv(dlDVDSize, uint64(blockSize)), 8)
	junk := make([]byte, junkLen)
	junk[0] = 0x80 // block 0 is junk

	raw := buildV2(t, uint16(flagSize|flagCRC32), 1459978240, 0xdeadbeef, junk)

	h, err := Read(bytes.NewReader(raw), blockSize, true)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.Version != 2 {
		t.Fatalf("version = %d, want 2", h.Version)
	}
	if h.Size == nil || *h.Size != 1459978240 {
		t.Fatalf("size = %v, want 1459978240", h.Size)
	}
	if h.CRC32 == nil || *h.CRC32 != 0xdeadbeef {
		t.Fatalf("crc32 = %v, want 0xdeadbeef", h.CRC32)
	}
	if junk, ok := h.IsJunkBlock(0); !ok || !junk {
		t.Fatalf("IsJunkBlock(0) = %v, %v, want true, true", junk, ok)
	}
	if junk, ok := h.IsJunkBlock(1); !ok || junk {
		t.Fatalf("IsJunkBlock(1) = %v, %v, want false, true", junk, ok)
	}
}

func TestTryReadNoMagic(t *testing.T) {
	r := bytes.NewReader(bytes.Repeat([]byte{0}, 32))
	h, err := TryRead(r, 0x8000, false)
	if err != nil {
		t.Fatalf("TryRead: %v", err)
	}
	if h != nil {
		t.Fatalf("expected nil header when magic absent")
	}
	if pos, _ := r.Seek(0, 1); pos != 0 {
		t.Fatalf("TryRead should not consume the stream when magic is absent, pos=%d", pos)
	}
}

func TestReadV1FixedFlags(t *testing.T) {
	// Version 1 carries no size field: the body starts with the CRC-32.
	var body bytes.Buffer
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], 0x12345678)
	body.Write(crcBuf[:])
	body.Write(make([]byte, 16)) // md5
	body.Write(make([]byte, 20)) // sha1
	body.Write(make([]byte, 8))  // xxhash64

	var raw bytes.Buffer
	raw.WriteString("NKIT  v1")
	raw.Write(body.Bytes())

	h, err := Read(bytes.NewReader(raw.Bytes()), 0x18000, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.Flags != uint16(v1Flags) {
		t.Fatalf("flags = %#x, want %#x", h.Flags, uint16(v1Flags))
	}
	if h.CRC32 == nil || *h.CRC32 != 0x12345678 {
		t.Fatalf("crc32 = %v, want 0x12345678", h.CRC32)
	}
}
