// Package block normalizes every supported Nintendo optical-disc container
// format (raw ISO/GCM, WIA/RVZ, WBFS, CISO, GCZ and NFS) to a single
// Provider interface that yields fixed-size blocks of the logical disc,
// transparently decompressing or synthesizing junk data as required.
package block

import (
	"io"

	"github.com/bodgit/nod/internal/core"
	"github.com/spf13/afero"
)

// SectorSize is the fixed logical disc sector size shared by GameCube and
// Wii media.
const SectorSize = 2048

// Format identifies the on-disk container format.
type Format int

// Supported container formats.
const (
	FormatISO Format = iota
	FormatWIA
	FormatRVZ
	FormatWBFS
	FormatCISO
	FormatGCZ
	FormatNFS
)

func (f Format) String() string {
	switch f {
	case FormatISO:
		return "ISO"
	case FormatWIA:
		return "WIA"
	case FormatRVZ:
		return "RVZ"
	case FormatWBFS:
		return "WBFS"
	case FormatCISO:
		return "CISO"
	case FormatGCZ:
		return "GCZ"
	case FormatNFS:
		return "NFS"
	default:
		return "unknown"
	}
}

// Compression identifies the per-chunk codec used by a container, where
// applicable.
type Compression int

// Supported chunk codecs.
const (
	CompressionNone Compression = iota
	CompressionPurge
	CompressionBzip2
	CompressionLzma
	CompressionLzma2
	CompressionZstd
	CompressionDeflate
)

// DiscMeta carries container-level metadata that isn't part of the disc
// image itself: which format and codec produced it, and whatever whole-image
// digests and sizing the container happens to store (NKit sidecars, WIA/RVZ
// trailers).
type DiscMeta struct {
	Format            Format
	Compression       Compression
	BlockSize         *uint32
	Lossless          bool
	NeedsHashRecovery bool
	CRC32             *uint32
	MD5               *[16]byte
	SHA1              *[20]byte
	XXHash64          *uint64
	DiscSize          *uint64
}

// Kind describes how a BlockRef's bytes map onto the logical disc.
type Kind int

const (
	// KindCopy means Data holds bytes the caller may retain.
	KindCopy Kind = iota
	// KindZero means the block is entirely zero (a sparse/unmapped region).
	KindZero
	// KindJunk means the block must be synthesized from the junk-data LFSR.
	KindJunk
	// KindView means Data is a view into the provider's internal
	// decompression buffer, valid only until the next ReadBlock call.
	KindView
)

// Ref describes one logical disc block as returned by Provider.ReadBlock.
type Ref struct {
	Kind Kind
	// Data holds the block bytes for KindCopy, KindView and KindJunk,
	// whenever the provider already had them to hand (synthesizing junk
	// is cheap enough that providers generally populate it eagerly).
	// Callers must still treat it as possibly nil for KindZero and
	// KindJunk and substitute zeros in that case.
	Data []byte
	// Offset is the block's logical byte offset on the disc.
	Offset int64
	// Size is the block's full logical length, which may exceed len(Data)
	// when the final block of the disc is short.
	Size int
}

// Provider is a pluggable source of fixed-size logical disc blocks. The set
// of containers is closed, so implementations are a tagged set rather than
// an open hierarchy: one file per format, all satisfying this interface.
type Provider interface {
	// Meta returns the container-level metadata gathered at Open time.
	Meta() DiscMeta
	// BlockSize returns the provider's fixed block size in bytes.
	BlockSize() uint32
	// ReadBlock resolves the logical disc block at blockIndex. For KindCopy
	// and KindJunk results, Data is written into scratch when it is large
	// enough (a new buffer is allocated otherwise); KindView results point
	// into the provider's own decompression cache instead, valid only until
	// the next call to ReadBlock.
	ReadBlock(blockIndex uint32, scratch []byte) (Ref, error)
	// Clone returns an independent Provider that reopens the container
	// through the same filesystem, with its own file handle and its own
	// decompression cache, so that multiple partition readers may operate
	// concurrently over one disc. The clone does not share the original's
	// file handle.
	Clone() (Provider, error)
	// Close releases the provider's file handle.
	Close() error
}

// magicLen is the number of leading bytes sniffed to dispatch Open to the
// correct format parser.
const magicLen = 8

// Open inspects name on fsys and returns the Provider for whichever
// container format it identifies. WBFS and CISO providers additionally
// attempt to load an NKit sidecar header for lossless-mode support.
func Open(fsys afero.Fs, name string) (Provider, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, core.IOError("block: open "+name, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, core.IOError("block: stat "+name, err)
	}

	magic := make([]byte, magicLen)
	n, _ := io.ReadFull(f, magic)
	magic = magic[:n]

	switch {
	case n >= 4 && string(magic[:4]) == "WBFS":
		return openWBFS(fsys, name, f, info.Size())
	case n >= 4 && string(magic[:4]) == "CISO":
		return openCISO(fsys, name, f, info.Size())
	case n >= 4 && string(magic[:4]) == "WIA\x01":
		return openWIA(fsys, name, f, info.Size())
	case n >= 4 && string(magic[:4]) == "RVZ\x01":
		return openWIA(fsys, name, f, info.Size())
	case n >= 4 && string(magic[:4]) == "GCZ\x01":
		return openGCZ(fsys, name, f, info.Size())
	case isNFSName(name):
		_ = f.Close()
		return openNFS(fsys, name)
	default:
		return openISO(fsys, name, f, info.Size())
	}
}

func isNFSName(name string) bool {
	base := name
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			base = name[i+1:]
			break
		}
	}
	return len(base) >= 7 && base[:4] == "hif_" && base[len(base)-4:] == ".nfs"
}

func unexpectedMagic(format string) error {
	return core.DiscFormatErrorf("%s: unrecognized magic", format)
}
