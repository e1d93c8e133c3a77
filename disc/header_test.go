package disc

import (
	"encoding/binary"
	"testing"
)

func gcHeader() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:6], "GALE01")
	buf[6] = 0
	buf[7] = 0
	binary.BigEndian.PutUint32(buf[0x1C:0x20], gcnMagic)
	copy(buf[0x20:0x60], []byte("Super Smash Bros. Melee"))
	return buf
}

func wiiHeader() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:6], "RMCE01")
	binary.BigEndian.PutUint32(buf[0x18:0x1C], wiiMagic)
	return buf
}

func TestParseHeaderGameCube(t *testing.T) {
	h, err := ParseHeader(gcHeader())
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !h.IsGameCube() || h.IsWii() {
		t.Fatalf("expected GameCube disc, IsGameCube=%v IsWii=%v", h.IsGameCube(), h.IsWii())
	}
	if h.GameID() != "GALE01" {
		t.Fatalf("GameID = %q, want GALE01", h.GameID())
	}
	title, err := h.GameTitle()
	if err != nil {
		t.Fatalf("GameTitle: %v", err)
	}
	if title != "Super Smash Bros. Melee" {
		t.Fatalf("GameTitle = %q", title)
	}
}

func TestParseHeaderWii(t *testing.T) {
	h, err := ParseHeader(wiiHeader())
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if !h.IsWii() || h.IsGameCube() {
		t.Fatalf("expected Wii disc, IsGameCube=%v IsWii=%v", h.IsGameCube(), h.IsWii())
	}
}

func TestParseHeaderRejectsUnknownMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	if _, err := ParseHeader(buf); err == nil {
		t.Fatalf("expected an error for a header with neither magic present")
	}
}

func TestParseHeaderTooShort(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 10)); err == nil {
		t.Fatalf("expected an error for a truncated header")
	}
}
