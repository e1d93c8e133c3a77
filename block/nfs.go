package block

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bodgit/nod/internal/core"
	"github.com/connesc/cipherio"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"go4.org/readerutil"
)

// nfsBlockSize is the fixed physical block size of a Wii U Virtual Console
// NFS container, matching one 32 KiB Wii hash block.
const nfsBlockSize = 0x8000

// nfsLBAEntry maps a contiguous run of logical disc blocks onto a
// contiguous run of physical blocks within the concatenated hif_*.nfs
// parts; NFS "unshuffles" the disc by storing its blocks out of order.
type nfsLBAEntry struct {
	logicalStart  uint32
	physicalStart uint32
	count         uint32
}

type nfsProvider struct {
	fsys  afero.Fs
	dir   string
	parts readerutil.SizeReaderAt
	files []afero.File

	lba   []nfsLBAEntry
	block cipher.Block
	size  int64
}

// NFSKeyFile is the conventional name of the Wii U common-key-wrapped NFS key
// file placed alongside a hif_%06d.nfs set.
const NFSKeyFile = "nfs.key"

func openNFS(fsys afero.Fs, name string) (Provider, error) {
	dir, _ := splitDir(name)

	var parts []readerutil.SizeReaderAt
	var files []afero.File
	for i := 0; ; i++ {
		partName := fmt.Sprintf("%shif_%06d.nfs", dir, i)
		f, err := fsys.Open(partName)
		if err != nil {
			if i == 0 {
				return nil, core.IOError("block: nfs: open "+partName, err)
			}
			break
		}
		info, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, core.IOError("block: nfs: stat "+partName, err)
		}
		files = append(files, f)
		parts = append(parts, io.NewSectionReader(f, 0, info.Size()))
	}

	multi := readerutil.NewMultiReaderAt(parts...)

	header := make([]byte, 0x20)
	if _, err := multi.ReadAt(header, 0); err != nil {
		return nil, core.IOError("block: nfs: read header", err)
	}

	lbaCount := binary.BigEndian.Uint32(header[4:8])
	lbaBuf := make([]byte, int(lbaCount)*12)
	if _, err := multi.ReadAt(lbaBuf, 0x20); err != nil && err != io.EOF {
		return nil, core.IOError("block: nfs: read LBA range table", err)
	}
	lba := make([]nfsLBAEntry, lbaCount)
	for i := range lba {
		lba[i] = nfsLBAEntry{
			logicalStart:  binary.BigEndian.Uint32(lbaBuf[i*12 : i*12+4]),
			physicalStart: binary.BigEndian.Uint32(lbaBuf[i*12+4 : i*12+8]),
			count:         binary.BigEndian.Uint32(lbaBuf[i*12+8 : i*12+12]),
		}
	}

	keyFile, err := fsys.Open(dir + NFSKeyFile)
	if err != nil {
		return nil, core.IOError("block: nfs: open "+NFSKeyFile, err)
	}
	defer keyFile.Close()
	key := make([]byte, 16)
	if _, err := io.ReadFull(keyFile, key); err != nil {
		return nil, core.IOError("block: nfs: read "+NFSKeyFile, err)
	}
	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, core.IOError("block: nfs: construct cipher", err)
	}

	var discSize uint32
	for _, e := range lba {
		if end := e.logicalStart + e.count; end > discSize {
			discSize = end
		}
	}

	return &nfsProvider{
		fsys: fsys, dir: dir, parts: multi, files: files,
		lba: lba, block: blockCipher, size: int64(discSize) * nfsBlockSize,
	}, nil
}

func splitDir(name string) (dir, base string) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[:i+1], name[i+1:]
		}
	}
	return "", name
}

func (p *nfsProvider) Meta() DiscMeta {
	size := uint64(p.size)
	bs := uint32(nfsBlockSize)
	return DiscMeta{Format: FormatNFS, Compression: CompressionNone, BlockSize: &bs, DiscSize: &size}
}

func (p *nfsProvider) BlockSize() uint32 { return nfsBlockSize }

// physicalBlock resolves a logical block index to its physical (unshuffled)
// index via the LBA range table, or -1 if unmapped.
func (p *nfsProvider) physicalBlock(blockIndex uint32) int64 {
	for _, e := range p.lba {
		if blockIndex >= e.logicalStart && blockIndex < e.logicalStart+e.count {
			return int64(e.physicalStart) + int64(blockIndex-e.logicalStart)
		}
	}
	return -1
}

func (p *nfsProvider) ReadBlock(blockIndex uint32, scratch []byte) (Ref, error) {
	offset := int64(blockIndex) * nfsBlockSize
	physical := p.physicalBlock(blockIndex)
	if physical < 0 {
		return Ref{Kind: KindZero, Offset: offset, Size: nfsBlockSize}, nil
	}

	// Physical block 0 of every 0x10000-block "group" in the real format
	// holds metadata rather than disc data; that detail doesn't affect
	// addressing here since the LBA table already excludes it.
	physOffset := 0x8000 + physical*nfsBlockSize

	sr := io.NewSectionReader(p.parts, physOffset, nfsBlockSize)
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint32(iv[12:], uint32(blockIndex))
	cbc := cipherio.NewBlockReader(sr, cipher.NewCBCDecrypter(p.block, iv))

	if len(scratch) < nfsBlockSize {
		scratch = make([]byte, nfsBlockSize)
	}
	n, err := io.ReadFull(cbc, scratch[:nfsBlockSize])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Ref{}, core.IOError("block: nfs: decrypt block", err)
	}
	return Ref{Kind: KindCopy, Data: scratch[:n], Offset: offset, Size: nfsBlockSize}, nil
}

func (p *nfsProvider) Clone() (Provider, error) {
	clone, err := openNFS(p.fsys, p.dir+"hif_000000.nfs")
	if err != nil {
		return nil, err
	}
	return clone, nil
}

func (p *nfsProvider) Close() error {
	var err error
	for _, f := range p.files {
		if cerr := f.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}
	return err
}
