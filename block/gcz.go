package block

import (
	"encoding/binary"
	"io"

	"github.com/bodgit/nod/internal/core"
	"github.com/klauspost/compress/flate"
	"github.com/spf13/afero"
)

const gczPointerUncompressedBit = uint64(1) << 63

type gczProvider struct {
	fsys afero.Fs
	path string
	r    afero.File

	blockSize  uint32
	numBlocks  uint32
	dataSize   uint64
	pointers   []uint64
	cacheIndex uint32
	cacheBuf   []byte
	cacheValid bool
}

func openGCZ(fsys afero.Fs, name string, f afero.File, _ int64) (Provider, error) {
	var hdr [4 + 4 + 8 + 8 + 4 + 4]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, core.IOError("block: gcz: read header", err)
	}
	if string(hdr[:4]) != "GCZ\x01" {
		return nil, unexpectedMagic("gcz")
	}
	dataSize := binary.LittleEndian.Uint64(hdr[16:24])
	blockSize := binary.LittleEndian.Uint32(hdr[24:28])
	numBlocks := binary.LittleEndian.Uint32(hdr[28:32])
	if blockSize == 0 {
		return nil, core.DiscFormatError("block: gcz: invalid block size")
	}

	ptrBuf := make([]byte, int(numBlocks)*8)
	if _, err := io.ReadFull(f, ptrBuf); err != nil {
		return nil, core.IOError("block: gcz: read pointer table", err)
	}
	pointers := make([]uint64, numBlocks)
	for i := range pointers {
		pointers[i] = binary.LittleEndian.Uint64(ptrBuf[i*8 : i*8+8])
	}
	// Skip the per-block Adler32 hash table; it isn't needed for reading.
	if _, err := io.CopyN(io.Discard, f, int64(numBlocks)*4); err != nil && err != io.EOF {
		return nil, core.IOError("block: gcz: skip hash table", err)
	}

	return &gczProvider{
		fsys: fsys, path: name, r: f,
		blockSize: blockSize, numBlocks: numBlocks, dataSize: dataSize, pointers: pointers,
	}, nil
}

func (p *gczProvider) Meta() DiscMeta {
	size := p.dataSize
	return DiscMeta{Format: FormatGCZ, Compression: CompressionDeflate, BlockSize: &p.blockSize, DiscSize: &size}
}

func (p *gczProvider) BlockSize() uint32 { return p.blockSize }

func (p *gczProvider) ReadBlock(blockIndex uint32, scratch []byte) (Ref, error) {
	size := int(p.blockSize)
	offset := int64(blockIndex) * int64(p.blockSize)

	if blockIndex >= p.numBlocks {
		return Ref{}, io.EOF
	}

	if p.cacheValid && p.cacheIndex == blockIndex {
		return Ref{Kind: KindView, Data: p.cacheBuf, Offset: offset, Size: size}, nil
	}

	ptr := p.pointers[blockIndex]
	uncompressed := ptr&gczPointerUncompressedBit != 0
	fileOffset := int64(ptr &^ gczPointerUncompressedBit)

	if uncompressed {
		if len(scratch) < size {
			scratch = make([]byte, size)
		}
		n, err := p.r.ReadAt(scratch[:size], fileOffset)
		if err != nil && err != io.EOF {
			return Ref{}, core.IOError("block: gcz: read block", err)
		}
		return Ref{Kind: KindCopy, Data: scratch[:n], Offset: offset, Size: size}, nil
	}

	// The compressed length of block i is derived from the next pointer
	// (or the end of the compressed stream for the final block).
	var compressedLen int64
	if blockIndex+1 < p.numBlocks {
		nextOffset := int64(p.pointers[blockIndex+1] &^ gczPointerUncompressedBit)
		compressedLen = nextOffset - fileOffset
	} else {
		info, err := p.r.Stat()
		if err != nil {
			return Ref{}, core.IOError("block: gcz: stat", err)
		}
		compressedLen = info.Size() - fileOffset
	}
	if compressedLen <= 0 {
		return Ref{}, core.DiscFormatErrorf("block: gcz: non-positive compressed length for block %d", blockIndex)
	}

	sr := io.NewSectionReader(p.r, fileOffset, compressedLen)
	fr := flate.NewReader(sr)
	defer fr.Close()

	buf := make([]byte, size)
	n, err := io.ReadFull(fr, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Ref{}, core.IOError("block: gcz: inflate block", err)
	}

	p.cacheIndex = blockIndex
	p.cacheBuf = buf[:n]
	p.cacheValid = true

	return Ref{Kind: KindView, Data: p.cacheBuf, Offset: offset, Size: size}, nil
}

func (p *gczProvider) Clone() (Provider, error) {
	f, err := p.fsys.Open(p.path)
	if err != nil {
		return nil, core.IOError("block: gcz: clone", err)
	}
	return &gczProvider{
		fsys: p.fsys, path: p.path, r: f,
		blockSize: p.blockSize, numBlocks: p.numBlocks, dataSize: p.dataSize, pointers: p.pointers,
	}, nil
}

func (p *gczProvider) Close() error { return p.r.Close() }
