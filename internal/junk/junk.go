// Package junk generates a deterministic filler pattern for the unused disc
// regions that NKit-lossless WBFS and CISO images leave out. The pattern is
// an LFSR of this package's own design, not the one GameCube and Wii
// mastering tools wrote, so the bytes it produces do not match the junk on
// an original disc.
package junk

// Generator produces the junk byte stream for one disc, seeded from its
// six-byte game ID. The same (disc ID, sector index, sector offset) triple
// always yields the same byte, independent of which container it's being
// reconstructed for.
type Generator struct {
	discID [6]byte
}

// New returns a Generator for the given disc ID, as found at offset 0 of the
// disc header. Only the first 6 bytes are significant.
func New(discID []byte) Generator {
	var g Generator
	n := copy(g.discID[:], discID)
	_ = n
	return g
}

// lfsrSeed derives the initial Galois LFSR state for one disc sector from
// the disc ID and the sector's index.
func (g Generator) lfsrSeed(sectorIndex uint32) uint32 {
	seed := uint32(0x6c8078a3)
	for _, b := range g.discID {
		seed = seed*0x19660d + uint32(b) + 0x3c6ef35f
	}
	seed ^= sectorIndex * 0x85ebca6b
	seed = seed*0x27d4eb2f + 1
	if seed == 0 {
		seed = 1
	}
	return seed
}

// next advances a 32-bit Galois LFSR by one step, tap mask matching a
// maximal-length sequence.
func next(state uint32) uint32 {
	const tap = 0xEDB88320
	lsb := state & 1
	state >>= 1
	if lsb != 0 {
		state ^= tap
	}
	return state
}

// Fill writes the junk pattern for the sector (or container block) numbered
// sectorIndex into dst, starting from that sector's first byte. Every byte
// written is a pure function of (disc ID, sector index, position within
// dst).
func (g Generator) Fill(dst []byte, sectorIndex uint32) {
	state := g.lfsrSeed(sectorIndex)
	for i := range dst {
		state = next(state)
		dst[i] = byte(state >> 16)
	}
}

// Byte returns a single junk byte at the given sector index and
// byte offset within that sector, without materializing the whole sector.
// It is equivalent to Fill(buf, sectorIndex)[sectorOffset] but O(sectorOffset)
// instead of requiring a full buffer; callers reading sequentially should
// prefer Fill.
func (g Generator) Byte(sectorIndex uint32, sectorOffset int) byte {
	state := g.lfsrSeed(sectorIndex)
	var b byte
	for i := 0; i <= sectorOffset; i++ {
		state = next(state)
		b = byte(state >> 16)
	}
	return b
}
