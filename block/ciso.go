package block

import (
	"encoding/binary"
	"io"

	"github.com/bodgit/nod/internal/core"
	"github.com/bodgit/nod/internal/junk"
	"github.com/bodgit/nod/nkit"
	"github.com/spf13/afero"
)

const (
	cisoHeaderSize   = 0x8000
	cisoMapSize      = 0x7FF8
	cisoMaxBlockSize = 0x8000 // CISO block sizes are a power of two; this is the common case.
)

type cisoProvider struct {
	fsys      afero.Fs
	path      string
	r         afero.File
	size      int64
	blockSize uint32
	// present maps a logical CISO block index to its container position
	// (the n-th present block written after the header), or -1 if absent.
	present []int32
	nkit    *nkit.Header
	junk    *junk.Generator
}

func openCISO(fsys afero.Fs, name string, f afero.File, size int64) (Provider, error) {
	hdr := make([]byte, cisoHeaderSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, core.IOError("block: ciso: read header", err)
	}
	if string(hdr[:4]) != "CISO" {
		return nil, unexpectedMagic("ciso")
	}
	blockSize := binary.LittleEndian.Uint32(hdr[4:8])
	if blockSize == 0 || blockSize&(blockSize-1) != 0 {
		return nil, core.DiscFormatErrorf("block: ciso: invalid block size %d", blockSize)
	}

	bitmap := hdr[8 : 8+cisoMapSize]
	present := make([]int32, cisoMapSize)
	next := int32(0)
	for i, b := range bitmap {
		if b != 0 {
			present[i] = next
			next++
		} else {
			present[i] = -1
		}
	}

	p := &cisoProvider{fsys: fsys, path: name, r: f, size: size, blockSize: blockSize, present: present}

	if h, err := nkit.TryRead(f, blockSize, true); err == nil && h != nil {
		p.nkit = h
	}

	return p, nil
}

func (p *cisoProvider) discID() []byte {
	// Best effort: the disc ID lives in the first logical block, which is
	// always present in a well-formed image.
	if len(p.present) == 0 || p.present[0] < 0 {
		return nil
	}
	off := int64(cisoHeaderSize) + int64(p.present[0])*int64(p.blockSize)
	id := make([]byte, 6)
	_, _ = p.r.ReadAt(id, off)
	return id
}

func (p *cisoProvider) junkGen() *junk.Generator {
	if p.junk == nil {
		g := junk.New(p.discID())
		p.junk = &g
	}
	return p.junk
}

func (p *cisoProvider) Meta() DiscMeta {
	meta := DiscMeta{Format: FormatCISO, Compression: CompressionNone, BlockSize: &p.blockSize}
	if p.nkit != nil {
		applyNKit(&meta, p.nkit)
	}
	return meta
}

func (p *cisoProvider) BlockSize() uint32 { return p.blockSize }

func (p *cisoProvider) ReadBlock(blockIndex uint32, scratch []byte) (Ref, error) {
	size := int(p.blockSize)
	offset := int64(blockIndex) * int64(p.blockSize)

	if int(blockIndex) >= len(p.present) || p.present[blockIndex] < 0 {
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

	containerOffset := int64(cisoHeaderSize) + int64(p.present[blockIndex])*int64(p.blockSize)
	if len(scratch) < size {
		scratch = make([]byte, size)
	}
	n, err := p.r.ReadAt(scratch[:size], containerOffset)
	if err != nil && err != io.EOF {
		return Ref{}, core.IOError("block: ciso: read block", err)
	}
	return Ref{Kind: KindCopy, Data: scratch[:n], Offset: offset, Size: size}, nil
}

func (p *cisoProvider) Clone() (Provider, error) {
	f, err := p.fsys.Open(p.path)
	if err != nil {
		return nil, core.IOError("block: ciso: clone", err)
	}
	return &cisoProvider{
		fsys: p.fsys, path: p.path, r: f, size: p.size,
		blockSize: p.blockSize, present: p.present, nkit: p.nkit,
	}, nil
}

func (p *cisoProvider) Close() error { return p.r.Close() }
