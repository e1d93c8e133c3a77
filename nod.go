// Package nod reads Nintendo GameCube and Wii optical-disc images across
// every container format in circulation (raw ISO/GCM, WIA/RVZ, WBFS, CISO,
// GCZ and NFS) and exposes them as a single seekable byte stream, with
// structured access to Wii partitions and the file system table within
// them.
//
// Open a disc, inspect its partitions, and stream one back out:
//
//	d, err := nod.Open("game.iso")
//	if err != nil {
//		return err
//	}
//	defer d.Close()
//
//	for _, info := range d.Partitions() {
//		if !info.Kind.Is(disc.KindData) {
//			continue
//		}
//		p, err := d.OpenPartition(info.Index)
//		if err != nil {
//			return err
//		}
//		meta, err := p.Meta()
//		if err != nil {
//			return err
//		}
//		fsys, err := fst.New(meta.FST)
//		if err != nil {
//			return err
//		}
//		_, node, ok := fsys.Find("/files/readme.txt")
//		_ = node
//		_ = ok
//	}
package nod

import (
	"io"

	"github.com/bodgit/nod/block"
	"github.com/bodgit/nod/disc"
	"github.com/bodgit/nod/internal/core"
	"github.com/bodgit/nod/partition"
	"github.com/spf13/afero"
)

// OpenOptions configures how a Disc interprets its underlying container.
type OpenOptions struct {
	// RebuildEncryption re-encrypts Wii partition data on the fly for
	// containers that store it decrypted (WIA, RVZ, NFS), so that reading
	// the whole Disc produces a byte stream equivalent to a raw ISO dump.
	// Opening a partition from such a container requires this to be set.
	RebuildEncryption bool
	// ValidateHashes verifies each Wii partition group's hash tree as it
	// is decrypted. Mismatches are reported through Logger; the read
	// still returns the stored plaintext unchanged.
	ValidateHashes bool
	// Keys supplies the Wii common keys needed to derive title keys,
	// required whenever a Wii disc's partitions are opened or
	// RebuildEncryption is set.
	Keys *CommonKeys
	// Logger receives non-fatal warnings. Defaults to DefaultLogger().
	Logger Logger
	// Fs is the filesystem the image is read from. Defaults to the real
	// OS filesystem; tests substitute an in-memory afero.Fs.
	Fs afero.Fs
}

// Disc is a GameCube or Wii optical-disc image, opened from one of the
// supported container formats and presented as a single seekable byte
// stream. It implements io.ReadSeeker and io.Closer.
type Disc struct {
	reader  *disc.Reader
	options OpenOptions
}

// Open opens the disc image at path using its container format's default
// Block Provider and no special options: no hash validation, and Wii
// partition data passed through exactly as the container stores it.
func Open(path string) (*Disc, error) {
	return OpenWithOptions(path, OpenOptions{})
}

// OpenWithOptions opens the disc image at path with the given options.
func OpenWithOptions(path string, options OpenOptions) (*Disc, error) {
	fsys := options.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	logger := options.Logger
	if logger == nil {
		logger = DefaultLogger()
	}

	provider, err := block.Open(fsys, path)
	if err != nil {
		return nil, err
	}

	reader, err := disc.Open(provider, disc.Options{
		RebuildEncryption: options.RebuildEncryption,
		Keys:              options.Keys,
		Logger:            logger,
	})
	if err != nil {
		_ = provider.Close()
		return nil, err
	}

	options.Fs = fsys
	options.Logger = logger
	return &Disc{reader: reader, options: options}, nil
}

// Header returns the disc's primary 1088-byte header.
func (d *Disc) Header() *disc.Header { return d.reader.Header() }

// Meta returns the container-level metadata gathered when the image was
// opened: format, compression, and whatever whole-image digests and sizing
// the container carries.
func (d *Disc) Meta() block.DiscMeta { return d.reader.Meta() }

// DiscSize returns the logical size of the disc in bytes.
func (d *Disc) DiscSize() int64 { return d.reader.DiscSize() }

// Partitions returns the Wii partitions discovered at open time. A
// GameCube disc reports a single synthetic partition (index 0, KindData)
// spanning the whole image.
func (d *Disc) Partitions() []disc.Info { return d.reader.Partitions() }

// OpenPartition opens the partition at the given index for decrypted,
// seekable reading. For a GameCube disc only index 0 is valid.
func (d *Disc) OpenPartition(index int) (*partition.Reader, error) {
	for _, info := range d.reader.Partitions() {
		if info.Index == index {
			return partition.Open(d.reader, info, partition.Options{
				ValidateHashes: d.options.ValidateHashes,
				Keys:           d.options.Keys,
				Logger:         d.options.Logger,
			})
		}
	}
	return nil, core.OtherError("nod: no partition at that index")
}

// OpenPartitionKind opens the first partition matching kind. For a
// GameCube disc only disc.KindData matches, naming the synthetic
// whole-disc partition.
func (d *Disc) OpenPartitionKind(kind disc.Kind) (*partition.Reader, error) {
	for _, info := range d.reader.Partitions() {
		if info.Kind.Is(kind) {
			return d.OpenPartition(info.Index)
		}
	}
	return nil, core.OtherError("nod: no partition of that kind")
}

// Read implements io.Reader over the logical disc stream.
func (d *Disc) Read(p []byte) (int, error) { return d.reader.Read(p) }

// Seek implements io.Seeker over the logical disc stream.
func (d *Disc) Seek(offset int64, whence int) (int64, error) { return d.reader.Seek(offset, whence) }

// ReadAt implements io.ReaderAt over the logical disc stream.
func (d *Disc) ReadAt(p []byte, off int64) (int, error) { return d.reader.ReadAt(p, off) }

// Close releases the underlying Block Provider.
func (d *Disc) Close() error { return d.reader.Close() }

var _ io.ReadSeeker = (*Disc)(nil)
