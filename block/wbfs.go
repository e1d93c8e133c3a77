package block

import (
	"encoding/binary"
	"io"

	"github.com/bodgit/nod/internal/core"
	"github.com/bodgit/nod/internal/junk"
	"github.com/bodgit/nod/nkit"
	"github.com/spf13/afero"
)

// WBFS lays the image out in fixed "WBFS sectors" (a power of two, at least
// the underlying HDD sector size) addressed by a 16-bit big-endian table
// per disc: wlba[i] names the WBFS sector holding the i'th disc sector, or
// 0 for a sector that was never written (sparse).
type wbfsProvider struct {
	fsys afero.Fs
	path string
	r    afero.File
	size int64

	wbfsSectorShift uint32
	discSectorSize  uint32 // bytes per entry in the WLBA table, i.e. per logical disc block
	wlba            []uint16
	discOffset      int64 // byte offset of this disc's slot within the image

	nkit *nkit.Header
	junk *junk.Generator
}

const (
	wbfsHeaderMagic  = "WBFS"
	wbfsDiscInfoSize = 0x100 // leading disc header copy preceding the WLBA table
)

func openWBFS(fsys afero.Fs, name string, f afero.File, size int64) (Provider, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, core.IOError("block: wbfs: read header", err)
	}
	if string(hdr[:4]) != wbfsHeaderMagic {
		return nil, unexpectedMagic("wbfs")
	}
	hdSectorShift := uint32(hdr[8])
	wbfsSectorShift := uint32(hdr[9])
	wbfsSectorSize := uint32(1) << wbfsSectorShift
	hdSectorSize := uint32(1) << hdSectorShift
	if hdSectorSize == 0 || wbfsSectorSize == 0 {
		return nil, core.DiscFormatError("block: wbfs: invalid sector shift")
	}

	// The disc table is a 1-byte-per-slot presence flag immediately
	// following the header, padded out to one HD sector.
	discTable := make([]byte, hdSectorSize-uint32(len(hdr)))
	if _, err := io.ReadFull(f, discTable); err != nil {
		return nil, core.IOError("block: wbfs: read disc table", err)
	}

	slot := -1
	for i, b := range discTable {
		if b != 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, core.DiscFormatError("block: wbfs: no disc present")
	}

	discOffset := int64(slot+1) * int64(wbfsSectorSize)

	// Each disc slot begins with a copy of the disc header, then the WLBA
	// table: one uint16 big-endian entry per discSectorSize-byte chunk of
	// the logical disc.
	discSectorSize := wbfsSectorSize
	wlbaCount := discSectorSize / 2 // conservative upper bound; trimmed below
	if wlbaCount > 0x8000 {
		wlbaCount = 0x8000
	}
	wlbaBuf := make([]byte, int(wlbaCount)*2)
	if _, err := f.ReadAt(wlbaBuf, discOffset+wbfsDiscInfoSize); err != nil && err != io.EOF {
		return nil, core.IOError("block: wbfs: read WLBA table", err)
	}
	wlba := make([]uint16, len(wlbaBuf)/2)
	for i := range wlba {
		wlba[i] = binary.BigEndian.Uint16(wlbaBuf[i*2 : i*2+2])
	}

	p := &wbfsProvider{
		fsys: fsys, path: name, r: f, size: size,
		wbfsSectorShift: wbfsSectorShift,
		discSectorSize:  discSectorSize,
		wlba:            wlba,
		discOffset:      discOffset,
	}

	if h, err := nkit.TryRead(f, discSectorSize, true); err == nil && h != nil {
		p.nkit = h
	}

	return p, nil
}

func (p *wbfsProvider) junkGen() *junk.Generator {
	if p.junk == nil {
		id := make([]byte, 6)
		_, _ = p.r.ReadAt(id, p.discOffset)
		g := junk.New(id)
		p.junk = &g
	}
	return p.junk
}

func (p *wbfsProvider) Meta() DiscMeta {
	meta := DiscMeta{Format: FormatWBFS, Compression: CompressionNone, BlockSize: &p.discSectorSize}
	if p.nkit != nil {
		applyNKit(&meta, p.nkit)
	}
	return meta
}

func (p *wbfsProvider) BlockSize() uint32 { return p.discSectorSize }

func (p *wbfsProvider) ReadBlock(blockIndex uint32, scratch []byte) (Ref, error) {
	size := int(p.discSectorSize)
	offset := int64(blockIndex) * int64(p.discSectorSize)

	if int(blockIndex) >= len(p.wlba) || p.wlba[blockIndex] == 0 {
		if p.nkit != nil {
			if isJunk, ok := p.nkit.IsJunkBlock(blockIndex); ok && isJunk {
				if len(scratch) < size {
					scratch = make([]byte, size)
				}
				p.junkGen().Fill(scratch[:size], blockIndex)
				return Ref{Kind: KindJunk, Data: scratch[:size], Offset: offset, Size: size}, nil
			}
		}
		return Ref{Kind: KindZero, Offset: offset, Size: size}, nil
	}

	containerOffset := int64(p.wlba[blockIndex]) << p.wbfsSectorShift
	if len(scratch) < size {
		scratch = make([]byte, size)
	}
	n, err := p.r.ReadAt(scratch[:size], containerOffset)
	if err != nil && err != io.EOF {
		return Ref{}, core.IOError("block: wbfs: read block", err)
	}
	return Ref{Kind: KindCopy, Data: scratch[:n], Offset: offset, Size: size}, nil
}

func (p *wbfsProvider) Clone() (Provider, error) {
	f, err := p.fsys.Open(p.path)
	if err != nil {
		return nil, core.IOError("block: wbfs: clone", err)
	}
	return &wbfsProvider{
		fsys: p.fsys, path: p.path, r: f, size: p.size,
		wbfsSectorShift: p.wbfsSectorShift, discSectorSize: p.discSectorSize,
		wlba: p.wlba, discOffset: p.discOffset, nkit: p.nkit,
	}, nil
}

func (p *wbfsProvider) Close() error { return p.r.Close() }
