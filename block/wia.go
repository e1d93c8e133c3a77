package block

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/bodgit/nod/internal/core"
	"github.com/klauspost/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/ulikunitz/xz/lzma"
)

// wiaHeaderSize is the length of the fixed header openWIA parses; the
// chunk size each group covers is one of its fields.
const wiaHeaderSize = 4 + 4 + 4 + 4 + 4 + 8 + 4 + 8

type wiaGroup struct {
	// dataOffset is the byte offset of the chunk's compressed data within
	// the container file.
	dataOffset int64
	// compressedSize is the on-disk size of the chunk; the top bit (as
	// with GCZ) marks the chunk as stored uncompressed.
	compressedSize uint32
}

type wiaProvider struct {
	fsys afero.Fs
	path string
	r    afero.File

	format      Format
	compression Compression
	chunkSize   uint32
	discSize    uint64
	groups      []wiaGroup

	cacheIndex int
	cacheBuf   []byte
	cacheValid bool
}

func openWIA(fsys afero.Fs, name string, f afero.File, _ int64) (Provider, error) {
	hdr := make([]byte, wiaHeaderSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, core.IOError("block: wia: read header", err)
	}

	format := FormatWIA
	switch string(hdr[:4]) {
	case "WIA\x01":
		format = FormatWIA
	case "RVZ\x01":
		format = FormatRVZ
	default:
		return nil, unexpectedMagic("wia")
	}

	compressionID := binary.BigEndian.Uint32(hdr[8:12])
	compression, err := wiaCompressionFromID(format, compressionID)
	if err != nil {
		return nil, err
	}

	chunkSize := binary.BigEndian.Uint32(hdr[16:20])
	if chunkSize == 0 {
		return nil, core.DiscFormatError("block: wia: invalid chunk size")
	}
	discSize := binary.BigEndian.Uint64(hdr[20:28])
	numGroups := binary.BigEndian.Uint32(hdr[28:32])
	groupTableOffset := binary.BigEndian.Uint64(hdr[32:40])

	groupBuf := make([]byte, int(numGroups)*8)
	if _, err := f.ReadAt(groupBuf, int64(groupTableOffset)); err != nil && err != io.EOF {
		return nil, core.IOError("block: wia: read group table", err)
	}
	groups := make([]wiaGroup, numGroups)
	for i := range groups {
		off := binary.BigEndian.Uint32(groupBuf[i*8 : i*8+4])
		size := binary.BigEndian.Uint32(groupBuf[i*8+4 : i*8+8])
		groups[i] = wiaGroup{dataOffset: int64(off) << 2, compressedSize: size}
	}

	return &wiaProvider{
		fsys: fsys, path: name, r: f,
		format: format, compression: compression, chunkSize: chunkSize,
		discSize: discSize, groups: groups,
	}, nil
}

func wiaCompressionFromID(format Format, id uint32) (Compression, error) {
	switch id {
	case 0:
		return CompressionNone, nil
	case 1:
		return CompressionPurge, nil
	case 2:
		return CompressionBzip2, nil
	case 3:
		return CompressionLzma, nil
	case 4:
		return CompressionLzma2, nil
	case 5:
		if format != FormatRVZ {
			return 0, core.DiscFormatError("block: wia: zstd codec requires RVZ")
		}
		return CompressionZstd, nil
	default:
		return 0, core.DiscFormatErrorf("block: wia: unknown codec id %d", id)
	}
}

func (p *wiaProvider) Meta() DiscMeta {
	size := p.discSize
	return DiscMeta{Format: p.format, Compression: p.compression, BlockSize: &p.chunkSize, DiscSize: &size}
}

func (p *wiaProvider) BlockSize() uint32 { return p.chunkSize }

const gczLikeUncompressedBit = uint32(1) << 31

func (p *wiaProvider) ReadBlock(blockIndex uint32, scratch []byte) (Ref, error) {
	offset := int64(blockIndex) * int64(p.chunkSize)

	if int(blockIndex) >= len(p.groups) {
		return Ref{}, io.EOF
	}
	g := p.groups[blockIndex]
	if g.dataOffset == 0 && g.compressedSize == 0 {
		// Unmapped group: returned as zero-filled; no junk data is
		// synthesized for it.
		return Ref{Kind: KindZero, Offset: offset, Size: int(p.chunkSize)}, nil
	}

	if p.cacheValid && p.cacheIndex == int(blockIndex) {
		return Ref{Kind: KindView, Data: p.cacheBuf, Offset: offset, Size: int(p.chunkSize)}, nil
	}

	uncompressed := g.compressedSize&gczLikeUncompressedBit != 0
	compressedSize := int64(g.compressedSize &^ gczLikeUncompressedBit)

	sr := io.NewSectionReader(p.r, g.dataOffset, compressedSize)

	var out []byte
	var err error
	if uncompressed {
		out = make([]byte, compressedSize)
		_, err = io.ReadFull(sr, out)
	} else {
		out, err = decompressChunk(p.compression, sr, int(p.chunkSize))
	}
	if err != nil {
		return Ref{}, core.WithContextf(err, "block: wia: group %d", blockIndex)
	}

	p.cacheIndex = int(blockIndex)
	p.cacheBuf = out
	p.cacheValid = true

	return Ref{Kind: KindView, Data: out, Offset: offset, Size: int(p.chunkSize)}, nil
}

// decompressChunk inflates one WIA/RVZ chunk with its container-wide codec,
// up to maxSize bytes of decompressed output.
func decompressChunk(c Compression, r io.Reader, maxSize int) ([]byte, error) {
	var dr io.Reader
	switch c {
	case CompressionNone:
		dr = r
	case CompressionPurge:
		return decodePurge(r, maxSize)
	case CompressionBzip2:
		dr = bzip2.NewReader(r)
	case CompressionLzma:
		lr, err := lzma.NewReader(bufio.NewReader(r))
		if err != nil {
			return nil, core.IOError("lzma", err)
		}
		dr = lr
	case CompressionLzma2:
		lr, err := lzma.NewReader2(bufio.NewReader(r))
		if err != nil {
			return nil, core.IOError("lzma2", err)
		}
		dr = lr
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, core.IOError("zstd", err)
		}
		defer zr.Close()
		dr = zr
	default:
		return nil, core.DiscFormatErrorf("block: wia: unsupported codec %d", c)
	}

	buf := make([]byte, maxSize)
	n, err := io.ReadFull(dr, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, core.IOError("decompress chunk", err)
	}
	return buf[:n], nil
}

// decodePurge reverses WIA's "purge" encoding: a sequence of
// {gapFromPrevious uint32 BE, literalLength uint32 BE} records, each
// followed by literalLength literal bytes, with the gaps implicitly zero.
func decodePurge(r io.Reader, maxSize int) ([]byte, error) {
	out := make([]byte, maxSize)
	pos := 0
	var hdr [8]byte
	for pos < maxSize {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, core.IOError("purge: read record header", err)
		}
		gap := int(binary.BigEndian.Uint32(hdr[0:4]))
		lit := int(binary.BigEndian.Uint32(hdr[4:8]))
		pos += gap
		if pos > maxSize {
			return nil, core.DiscFormatError("purge: gap exceeds chunk size")
		}
		if pos+lit > maxSize {
			lit = maxSize - pos
		}
		if lit > 0 {
			if _, err := io.ReadFull(r, out[pos:pos+lit]); err != nil {
				return nil, core.IOError("purge: read literal", err)
			}
			pos += lit
		}
	}
	return out, nil
}

func (p *wiaProvider) Clone() (Provider, error) {
	f, err := p.fsys.Open(p.path)
	if err != nil {
		return nil, core.IOError("block: wia: clone", err)
	}
	return &wiaProvider{
		fsys: p.fsys, path: p.path, r: f,
		format: p.format, compression: p.compression, chunkSize: p.chunkSize,
		discSize: p.discSize, groups: p.groups,
	}, nil
}

func (p *wiaProvider) Close() error { return p.r.Close() }
