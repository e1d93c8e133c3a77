// Package partition decrypts a Wii partition's user data and exposes it as
// a seekable byte stream, alongside parsers for the partition's ticket,
// TMD, certificate chain, H3 table and the boot/bi2/apploader/DOL/FST
// metadata held in its plaintext.
package partition

import (
	"io"

	"github.com/bodgit/nod/block"
	"github.com/bodgit/nod/disc"
	"github.com/bodgit/nod/internal/commonkey"
	"github.com/bodgit/nod/internal/core"
	"github.com/bodgit/nod/wiicrypto"
)

// Options configures how a Reader decrypts and validates a partition.
type Options struct {
	// ValidateHashes verifies each group's hash chain (H0, H1, H2 and,
	// once Meta has loaded the H3 table, H3) as it is decrypted, reporting
	// mismatches through Logger without aborting the read.
	ValidateHashes bool
	// Keys supplies the Wii common keys used to derive this partition's
	// title key.
	Keys *commonkey.Set
	// Logger receives HashMismatch warnings. Defaults to the owning
	// disc.Reader's logger.
	Logger core.Logger
}

// HashMismatch reports that a group's recomputed H0 digest didn't match
// the one recorded in its hash section.
type HashMismatch struct {
	Group int64
	Index int
}

// Reader presents a Wii partition's decrypted user data as a seekable byte
// stream. It borrows its owning disc.Reader for all underlying I/O rather
// than opening a file of its own, per the shared-handle ownership model:
// concurrent partition readers over the same disc each need their own
// disc.Reader (cloned from the same Block Provider).
type Reader struct {
	disc     *disc.Reader
	info     disc.Info
	titleKey [16]byte
	// plain is true for the synthetic GameCube "partition" that covers
	// the whole unencrypted disc; no crypto or hash tree applies to it.
	plain bool

	dataStart int64 // disc-relative byte offset of the partition's encrypted data
	userSize  int64 // plaintext byte length of the partition's user area
	numGroups int64

	validate bool
	logger   core.Logger

	off        int64
	groupIndex int64
	groupValid bool
	hashes     [wiicrypto.HashesSize]byte
	userData   [wiicrypto.UserDataSize]byte

	h3   []byte
	meta *Meta
}

// Open derives info's title key and constructs a Reader over its decrypted
// user data. d must have been opened with RebuildEncryption if its
// container stores Wii partition data decrypted (WIA, RVZ, NFS); otherwise
// the ciphertext this Reader expects to decrypt would actually be
// plaintext. info with a nil Header names the synthetic whole-disc
// partition used for GameCube, which carries no encryption.
func Open(d *disc.Reader, info disc.Info, options Options) (*Reader, error) {
	dataStart := int64(info.DataStartSector) * block.SectorSize
	dataEnd := int64(info.DataEndSector) * block.SectorSize

	if info.Header == nil {
		return &Reader{
			disc:      d,
			info:      info,
			plain:     true,
			dataStart: dataStart,
			userSize:  dataEnd - dataStart,
			logger:    loggerOrDefault(options.Logger, d),
		}, nil
	}

	if d.StoresDecrypted() && !d.RebuildEncryption() {
		return nil, core.OtherError("partition: disc reader must be opened with rebuild_encryption to read a partition from a container that stores Wii data decrypted")
	}
	if options.Keys == nil {
		return nil, core.OtherError("partition: common keys are required to derive the title key")
	}

	commonKey, err := options.Keys.Get(commonkey.Index(info.Header.CommonKeyIndex()))
	if err != nil {
		return nil, core.WithContextf(err, "partition %d", info.Index)
	}
	titleKey, err := wiicrypto.DeriveTitleKey(commonKey, info.Header.TitleID(), info.Header.EncryptedTitleKey())
	if err != nil {
		return nil, core.WithContextf(err, "partition %d", info.Index)
	}

	numGroups := (dataEnd - dataStart) / wiicrypto.GroupSize

	return &Reader{
		disc:       d,
		info:       info,
		titleKey:   titleKey,
		dataStart:  dataStart,
		userSize:   numGroups * wiicrypto.UserDataSize,
		numGroups:  numGroups,
		validate:   options.ValidateHashes,
		logger:     loggerOrDefault(options.Logger, d),
		groupIndex: -1,
	}, nil
}

func loggerOrDefault(l core.Logger, d *disc.Reader) core.Logger {
	if l != nil {
		return l
	}
	return d.Logger()
}

// Info returns the disc.Info this Reader was opened for.
func (r *Reader) Info() disc.Info { return r.info }

// Size returns the byte length of the partition's decrypted user area.
func (r *Reader) Size() int64 { return r.userSize }

// IdealBufferSize returns the partition's natural read granularity: its
// 31,744-byte plaintext group stride, or the disc's sector size for the
// unencrypted GameCube partition.
func (r *Reader) IdealBufferSize() int {
	if r.plain {
		return block.SectorSize
	}
	return wiicrypto.UserDataSize
}

// loadGroup decrypts group g into the Reader's cache if it isn't already
// resident, validating its hash chain when configured to.
func (r *Reader) loadGroup(g int64) error {
	if r.groupValid && r.groupIndex == g {
		return nil
	}

	ciphertext := make([]byte, wiicrypto.GroupSize)
	if _, err := r.disc.ReadAt(ciphertext, r.dataStart+g*wiicrypto.GroupSize); err != nil {
		return core.WithContextf(err, "partition %d: read group %d", r.info.Index, g)
	}

	hashes, userData, err := wiicrypto.DecryptGroup(r.titleKey, ciphertext)
	if err != nil {
		return core.WithContextf(err, "partition %d: decrypt group %d", r.info.Index, g)
	}

	if r.validate {
		// r.h3 is only populated once Meta has read the partition's H3
		// region; groups loaded before that (Meta's own bootstrap reads
		// of boot.bin/bi2.bin/the apploader/the DOL/the FST) are checked
		// through H2 only, and fall in anyway once H3 is cached.
		mismatches, err := wiicrypto.VerifyHashChain(hashes, userData, g, r.h3)
		if err != nil {
			return err
		}
		for _, m := range mismatches {
			r.logger.Warnf("partition %d: hash mismatch at level H%d, group %d, entry %d", r.info.Index, m.Level, g, m.Index)
		}
	}

	r.hashes = hashes
	copy(r.userData[:], userData)
	r.groupIndex = g
	r.groupValid = true
	return nil
}

// ReadAt reads len(p) bytes of decrypted partition data starting at
// plaintext offset off. For the synthetic GameCube partition this is a
// direct, 1:1 passthrough to the owning disc.Reader: there is no group
// structure or hash tree to strip.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if r.plain {
		if off >= r.userSize {
			return 0, io.EOF
		}
		n, err := r.disc.ReadAt(p, r.dataStart+off)
		if err == io.EOF && n > 0 {
			err = nil
		}
		return n, err
	}

	total := 0
	for total < len(p) {
		pos := off + int64(total)
		if pos >= r.userSize {
			if total > 0 {
				return total, nil
			}
			return 0, io.EOF
		}
		group := pos / wiicrypto.UserDataSize
		inGroup := pos % wiicrypto.UserDataSize

		if err := r.loadGroup(group); err != nil {
			return total, err
		}

		runLen := len(p) - total
		if untilGroupEnd := wiicrypto.UserDataSize - int(inGroup); untilGroupEnd < runLen {
			runLen = untilGroupEnd
		}
		if remaining := r.userSize - pos; int64(runLen) > remaining {
			runLen = int(remaining)
		}

		n := copy(p[total:total+runLen], r.userData[inGroup:])
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

// Seek implements io.Seeker over the partition's decrypted byte stream.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.off
	case io.SeekEnd:
		offset += r.userSize
	default:
		return 0, core.OtherError("partition: seek: invalid whence")
	}
	if offset < 0 {
		return 0, core.OtherError("partition: seek: negative offset")
	}
	r.off = offset
	return offset, nil
}
