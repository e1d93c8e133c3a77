package block

import (
	"io"

	"github.com/bodgit/nod/internal/core"
	"github.com/spf13/afero"
)

// isoBlockSize is the default block size used when reading a raw ISO/GCM
// image; it has no structural meaning for this format beyond batching reads.
const isoBlockSize = 0x8000

type isoProvider struct {
	fsys afero.Fs
	path string
	r    afero.File
	size int64
}

func openISO(fsys afero.Fs, name string, f afero.File, size int64) (Provider, error) {
	return &isoProvider{fsys: fsys, path: name, r: f, size: size}, nil
}

func (p *isoProvider) Meta() DiscMeta {
	size := uint64(p.size)
	return DiscMeta{Format: FormatISO, Compression: CompressionNone, DiscSize: &size}
}

func (p *isoProvider) BlockSize() uint32 { return isoBlockSize }

func (p *isoProvider) ReadBlock(blockIndex uint32, scratch []byte) (Ref, error) {
	offset := int64(blockIndex) * isoBlockSize
	if offset >= p.size {
		return Ref{}, io.EOF
	}
	size := isoBlockSize
	if offset+int64(size) > p.size {
		size = int(p.size - offset)
	}
	if len(scratch) < size {
		scratch = make([]byte, size)
	}
	n, err := p.r.ReadAt(scratch[:size], offset)
	if err != nil && err != io.EOF {
		return Ref{}, core.IOError("block: iso read", err)
	}
	return Ref{Kind: KindCopy, Data: scratch[:n], Offset: offset, Size: isoBlockSize}, nil
}

func (p *isoProvider) Clone() (Provider, error) {
	f, err := p.fsys.Open(p.path)
	if err != nil {
		return nil, core.IOError("block: clone iso", err)
	}
	return &isoProvider{fsys: p.fsys, path: p.path, r: f, size: p.size}, nil
}

func (p *isoProvider) Close() error {
	return p.r.Close()
}
