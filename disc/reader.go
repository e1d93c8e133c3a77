package disc

import (
	"io"

	"github.com/bodgit/nod/block"
	"github.com/bodgit/nod/internal/commonkey"
	"github.com/bodgit/nod/internal/core"
	"github.com/bodgit/nod/wiicrypto"
)

// singleLayerSize and dualLayerSize are the fallback disc sizes used when a
// container doesn't report its own size and the partition table doesn't
// reach far enough to infer it, matching the two Wii/GameCube DVD media
// sizes in circulation.
const (
	singleLayerSize = 4_700_000_000
	dualLayerSize   = 8_500_000_000
)

// Options configures how a Reader interprets and presents its underlying
// container.
type Options struct {
	// RebuildEncryption re-encrypts Wii partition data on the fly for
	// containers that store it decrypted (WIA, RVZ, NFS), producing a
	// byte stream equivalent to a raw ISO dump. It is a no-op for
	// containers that already store partitions encrypted.
	RebuildEncryption bool
	// Keys supplies the Wii common keys used to derive title keys; it is
	// required whenever RebuildEncryption is set and the disc is a Wii
	// disc, since re-encryption needs each rewritten partition's key.
	Keys *commonkey.Set
	// Logger receives warnings, such as an inconsistent disc-header
	// encryption/hash flag pairing. Defaults to core.DefaultLogger().
	Logger core.Logger
}

// Reader composes a block.Provider with the logical layout of a disc,
// presenting it as a single seekable byte stream and caching the Wii
// partition table discovered at open time. It implements io.ReadSeeker.
type Reader struct {
	provider   block.Provider
	meta       block.DiscMeta
	header     *Header
	partitions []Info

	keys    *commonkey.Set
	rebuild bool
	logger  core.Logger

	size int64
	off  int64

	titleKeys map[int][16]byte
}

// Open reads the disc header and, for a Wii disc, the volume-group
// partition table, from provider. The Reader takes ownership of provider:
// closing the Reader closes it.
func Open(provider block.Provider, options Options) (*Reader, error) {
	logger := options.Logger
	if logger == nil {
		logger = core.DefaultLogger()
	}

	r := &Reader{
		provider:  provider,
		meta:      provider.Meta(),
		keys:      options.Keys,
		rebuild:   options.RebuildEncryption,
		logger:    logger,
		titleKeys: make(map[int][16]byte),
	}

	hdrBuf := make([]byte, HeaderSize)
	if _, err := r.readPassthrough(hdrBuf, 0); err != nil {
		return nil, core.WithContext(err, "disc: read header")
	}
	header, err := ParseHeader(hdrBuf)
	if err != nil {
		return nil, err
	}
	r.header = header

	if header.NoPartitionHashes() != header.NoPartitionEncryption() {
		logger.Warnf("disc: no_partition_hashes and no_partition_encryption disagree; trusting disc header flags")
	}

	if header.IsWii() {
		partitions, err := r.readPartitionTable()
		if err != nil {
			return nil, err
		}
		r.partitions = partitions
	}

	r.size = r.computeSize()

	if !header.IsWii() {
		r.partitions = []Info{{
			Index:           0,
			Kind:            KindData,
			StartSector:     0,
			DataStartSector: 0,
			DataEndSector:   uint32(r.size / block.SectorSize),
			Header:          nil,
			DiscHeader:      r.header,
		}}
	}

	return r, nil
}

// Header returns the disc's primary header.
func (r *Reader) Header() *Header { return r.header }

// Meta returns the container-level metadata gathered when the Block
// Provider was opened.
func (r *Reader) Meta() block.DiscMeta { return r.meta }

// DiscSize returns the logical size of the disc in bytes: the maximum of
// the provider-reported size and the structural end implied by the
// partition table or, lacking both, the conventional single/dual-layer
// media size.
func (r *Reader) DiscSize() int64 { return r.size }

// Partitions returns the Wii partitions discovered at Open time. For a
// GameCube disc, which has no partition table, it returns a single
// synthetic Info (index 0, KindData, nil Header) spanning the whole disc,
// matching the "only index 0 is valid" rule GameCube titles are read under.
func (r *Reader) Partitions() []Info { return r.partitions }

// Provider returns the underlying Block Provider, for components (such as
// the partition reader) that need an independent clone of it.
func (r *Reader) Provider() block.Provider { return r.provider }

// RebuildEncryption reports whether this Reader re-encrypts Wii partition
// data read from a container that stores it decrypted.
func (r *Reader) RebuildEncryption() bool { return r.rebuild }

// StoresDecrypted reports whether the underlying container keeps Wii
// partition user data decrypted on disk (WIA, RVZ, NFS) rather than
// encrypted as on the original medium.
func (r *Reader) StoresDecrypted() bool { return r.sourceStoresDecrypted() }

// Logger returns the logger warnings are reported through.
func (r *Reader) Logger() core.Logger { return r.logger }

func (r *Reader) computeSize() int64 {
	size := int64(0)
	if r.meta.DiscSize != nil {
		size = int64(*r.meta.DiscSize)
	}
	for _, p := range r.partitions {
		if end := int64(p.DataEndSector) * block.SectorSize; end > size {
			size = end
		}
	}
	if size > 0 {
		return size
	}
	if r.header.IsWii() {
		return dualLayerSize
	}
	return singleLayerSize
}

// readPartitionTable decodes the four volume-group descriptors at
// partitionTableOffset and every partition they name.
func (r *Reader) readPartitionTable() ([]Info, error) {
	groupBuf := make([]byte, numVolumeGroups*8)
	if _, err := r.readPassthrough(groupBuf, partitionTableOffset); err != nil {
		return nil, core.WithContext(err, "disc: read volume group descriptors")
	}
	groups := readGroupDescriptors(groupBuf)

	var infos []Info
	index := 0
	for _, g := range groups {
		if g.count == 0 {
			continue
		}
		entryBuf := make([]byte, int(g.count)*8)
		if _, err := r.readPassthrough(entryBuf, int64(g.offset)); err != nil {
			return nil, core.WithContextf(err, "disc: read partition entries at 0x%x", g.offset)
		}
		entries := readPartitionEntries(entryBuf, g.count)

		for _, e := range entries {
			hdrBuf := make([]byte, partitionHeaderSize)
			if _, err := r.readPassthrough(hdrBuf, int64(e.offset)); err != nil {
				return nil, core.WithContextf(err, "disc: read partition header at 0x%x", e.offset)
			}
			header, err := ParsePartitionHeader(hdrBuf)
			if err != nil {
				return nil, err
			}

			startSector := uint32(e.offset / block.SectorSize)
			dataStartSector := startSector + uint32(header.DataOffset/block.SectorSize)
			dataEndSector := dataStartSector + uint32(header.DataSize/block.SectorSize)

			infos = append(infos, Info{
				Index:           index,
				Kind:            e.kind,
				StartSector:     startSector,
				DataStartSector: dataStartSector,
				DataEndSector:   dataEndSector,
				Header:          header,
				DiscHeader:      r.header,
			})
			index++
		}
	}
	return infos, nil
}

// titleKey lazily derives and caches partition p's title key.
func (r *Reader) titleKey(p Info) ([16]byte, error) {
	if key, ok := r.titleKeys[p.Index]; ok {
		return key, nil
	}
	if r.keys == nil {
		return [16]byte{}, core.OtherError("disc: rebuild_encryption requires common keys but none were supplied")
	}
	idx := commonkey.Index(p.Header.CommonKeyIndex())
	commonKey, err := r.keys.Get(idx)
	if err != nil {
		return [16]byte{}, core.WithContextf(err, "disc: partition %d", p.Index)
	}
	key, err := wiicrypto.DeriveTitleKey(commonKey, p.Header.TitleID(), p.Header.EncryptedTitleKey())
	if err != nil {
		return [16]byte{}, core.WithContextf(err, "disc: partition %d", p.Index)
	}
	r.titleKeys[p.Index] = key
	return key, nil
}

// partitionAt returns the partition whose encrypted user-data region
// contains the disc-relative byte offset off, or false if none does.
func (r *Reader) partitionAt(off int64) (Info, bool) {
	for _, p := range r.partitions {
		start := int64(p.DataStartSector) * block.SectorSize
		end := int64(p.DataEndSector) * block.SectorSize
		if off >= start && off < end {
			return p, true
		}
	}
	return Info{}, false
}

// sourceStoresDecrypted reports whether the container underlying this
// reader keeps Wii partition data decrypted on disk, as WIA, RVZ and NFS
// do for better compression, rather than encrypted as a raw ISO is.
func (r *Reader) sourceStoresDecrypted() bool {
	switch r.meta.Format {
	case block.FormatWIA, block.FormatRVZ, block.FormatNFS:
		return true
	default:
		return false
	}
}

// readPassthrough reads len(p) bytes at disc offset off without applying
// rebuild_encryption, for the reader's own bootstrap reads (header,
// partition table) which must see the provider's bytes as stored.
func (r *Reader) readPassthrough(p []byte, off int64) (int, error) {
	total := 0
	blockSize := int64(r.provider.BlockSize())
	var scratch []byte
	for total < len(p) {
		pos := off + int64(total)
		blockIndex := uint32(pos / blockSize)
		inBlock := pos % blockSize

		ref, err := r.provider.ReadBlock(blockIndex, scratch)
		if err != nil {
			if err == io.EOF {
				if total > 0 {
					return total, nil
				}
				return 0, io.EOF
			}
			return total, core.WithContextf(err, "disc: read block %d", blockIndex)
		}

		data := blockBytes(ref)
		if inBlock >= int64(len(data)) {
			// Short final block or a sparse region past its synthesized
			// data: treat the remainder as zero.
			n := copy(p[total:], make([]byte, minInt(len(p)-total, ref.Size-int(inBlock))))
			total += n
			continue
		}
		n := copy(p[total:], data[inBlock:])
		total += n
	}
	return total, nil
}

// blockBytes resolves a Ref to its logical bytes, substituting zeros when
// the provider didn't populate Data (KindZero, or a KindJunk provider that
// chose to defer synthesis).
func blockBytes(ref block.Ref) []byte {
	if ref.Data != nil {
		return ref.Data
	}
	return make([]byte, ref.Size)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// nextPartitionDataStart returns the disc-relative byte offset of the
// nearest partition data region starting strictly after pos, if any.
func (r *Reader) nextPartitionDataStart(pos int64) (int64, bool) {
	best := int64(-1)
	for _, p := range r.partitions {
		start := int64(p.DataStartSector) * block.SectorSize
		if start > pos && (best < 0 || start < best) {
			best = start
		}
	}
	return best, best >= 0
}

// ReadAt reads len(p) bytes starting at disc offset off, applying
// rebuild_encryption when configured and the offset falls inside a Wii
// partition's encrypted user-data region of a container that stores that
// region decrypted.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if !r.rebuild || !r.header.IsWii() || !r.sourceStoresDecrypted() {
		return r.readPassthrough(p, off)
	}

	total := 0
	for total < len(p) {
		pos := off + int64(total)
		remaining := len(p) - total

		part, inPartition := r.partitionAt(pos)
		if !inPartition {
			runLen := remaining
			if next, ok := r.nextPartitionDataStart(pos); ok {
				if untilNext := next - pos; untilNext < int64(runLen) {
					runLen = int(untilNext)
				}
			}
			n, err := r.readPassthrough(p[total:total+runLen], pos)
			total += n
			if err != nil {
				return total, err
			}
			continue
		}

		dataStart := int64(part.DataStartSector) * block.SectorSize
		groupOffset := pos - dataStart
		group := groupOffset / wiicrypto.GroupSize
		inGroup := groupOffset % wiicrypto.GroupSize

		runLen := remaining
		if untilGroupEnd := wiicrypto.GroupSize - inGroup; untilGroupEnd < int64(runLen) {
			runLen = int(untilGroupEnd)
		}

		// WIA, RVZ and NFS store this region already decrypted: a plain
		// 32 KiB group of hash section followed by user data, with no
		// AES layer to undo before we can re-derive and re-encrypt it.
		plaintext := make([]byte, wiicrypto.GroupSize)
		if _, err := r.readPassthrough(plaintext, dataStart+group*wiicrypto.GroupSize); err != nil {
			return total, core.WithContextf(err, "disc: partition %d group %d", part.Index, group)
		}
		var hashes [wiicrypto.HashesSize]byte
		copy(hashes[:], plaintext[:wiicrypto.HashesSize])
		userData := plaintext[wiicrypto.HashesSize:]

		key, err := r.titleKey(part)
		if err != nil {
			return total, err
		}
		// Fold the rebuilt H0 table up into this group's own H1 and H2
		// slots too. The partition's separate H3 region, and the TMD
		// content hash that roots it, are left untouched: repairing those
		// correctly needs every group in the H3-group, not just this one,
		// so rebuild_encryption output over a needs_hash_recovery source
		// stays internally consistent up through H2 but its H3/TMD chain
		// is left as recorded (or absent).
		if err := wiicrypto.RebuildHashChain(&hashes, userData, group); err != nil {
			return total, err
		}
		reciphered, err := wiicrypto.EncryptGroup(key, hashes, userData)
		if err != nil {
			return total, err
		}

		n := copy(p[total:total+runLen], reciphered[inGroup:])
		total += n
	}
	return total, nil
}

// Read implements io.Reader, advancing the reader's cursor.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.ErrUnexpectedEOF && n > 0 {
		err = nil
	}
	return n, err
}

// Seek implements io.Seeker over the logical disc stream.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.off
	case io.SeekEnd:
		offset += r.size
	default:
		return 0, core.OtherError("disc: seek: invalid whence")
	}
	if offset < 0 {
		return 0, core.OtherError("disc: seek: negative offset")
	}
	r.off = offset
	return offset, nil
}

// Close releases the underlying Block Provider.
func (r *Reader) Close() error { return r.provider.Close() }
