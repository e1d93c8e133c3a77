package partition

import (
	"crypto/sha1"

	"github.com/bodgit/nod/block"
	"github.com/bodgit/nod/internal/core"
	"github.com/bodgit/nod/wiicrypto"
)

// Meta decrypts and parses the partition's boot, bi2, apploader and DOL
// images and FST buffer, and copies its ticket/TMD/cert-chain/H3 bytes
// from the container's unencrypted partition header region. The result is
// cached; later calls return the same Meta.
func (r *Reader) Meta() (*Meta, error) {
	if r.meta != nil {
		return r.meta, nil
	}

	isWii := r.info.DiscHeader.IsWii()

	boot := make([]byte, bootHeaderSize)
	if _, err := r.ReadAt(boot, 0); err != nil {
		return nil, core.WithContextf(err, "partition %d: read boot.bin", r.info.Index)
	}
	bootHeader, err := ParseBootHeader(boot, isWii)
	if err != nil {
		return nil, err
	}

	bi2 := make([]byte, bi2Size)
	if _, err := r.ReadAt(bi2, bootHeaderSize); err != nil {
		return nil, core.WithContextf(err, "partition %d: read bi2.bin", r.info.Index)
	}

	apploaderOffset := int64(bootHeaderSize + bi2Size)
	apHdrBuf := make([]byte, apploaderHeaderSize)
	if _, err := r.ReadAt(apHdrBuf, apploaderOffset); err != nil {
		return nil, core.WithContextf(err, "partition %d: read apploader header", r.info.Index)
	}
	apHeader, err := ParseApploaderHeader(apHdrBuf)
	if err != nil {
		return nil, err
	}
	apploader := make([]byte, apHeader.TotalSize())
	if _, err := r.ReadAt(apploader, apploaderOffset); err != nil {
		return nil, core.WithContextf(err, "partition %d: read apploader", r.info.Index)
	}

	dolHdrBuf := make([]byte, dolHeaderSize)
	if _, err := r.ReadAt(dolHdrBuf, int64(bootHeader.DolOffset)); err != nil {
		return nil, core.WithContextf(err, "partition %d: read DOL header", r.info.Index)
	}
	dolHeader, err := ParseDolHeader(dolHdrBuf)
	if err != nil {
		return nil, err
	}
	dol := make([]byte, dolHeader.TotalSize())
	if _, err := r.ReadAt(dol, int64(bootHeader.DolOffset)); err != nil {
		return nil, core.WithContextf(err, "partition %d: read DOL", r.info.Index)
	}

	fst := make([]byte, bootHeader.FSTSize)
	if _, err := r.ReadAt(fst, int64(bootHeader.FSTOffset)); err != nil {
		return nil, core.WithContextf(err, "partition %d: read FST", r.info.Index)
	}

	meta := &Meta{
		Boot:      bootHeader,
		BI2:       bi2,
		Apploader: apploader,
		Dol:       dol,
		FST:       fst,
	}

	// GameCube's synthetic whole-disc partition has no ticket, TMD,
	// certificate chain or hash tree to copy.
	if r.info.Header == nil {
		r.meta = meta
		return meta, nil
	}

	meta.Ticket = append([]byte(nil), r.info.Header.Ticket[:]...)

	partitionStart := int64(r.info.StartSector) * block.SectorSize

	if r.info.Header.TMDSize > 0 {
		tmd := make([]byte, r.info.Header.TMDSize)
		if _, err := r.disc.ReadAt(tmd, partitionStart+int64(r.info.Header.TMDOffset)); err != nil {
			return nil, core.WithContextf(err, "partition %d: read TMD", r.info.Index)
		}
		meta.TMD = tmd
	}
	if r.info.Header.CertChainSize > 0 {
		certs := make([]byte, r.info.Header.CertChainSize)
		if _, err := r.disc.ReadAt(certs, partitionStart+int64(r.info.Header.CertChainOffset)); err != nil {
			return nil, core.WithContextf(err, "partition %d: read cert chain", r.info.Index)
		}
		meta.CertChain = certs
	}
	if r.info.Header.H3Offset != 0 {
		h3EntryCount := (r.numGroups + wiicrypto.GroupsPerH3 - 1) / wiicrypto.GroupsPerH3
		h3 := make([]byte, h3EntryCount*sha1.Size)
		if _, err := r.disc.ReadAt(h3, partitionStart+int64(r.info.Header.H3Offset)); err != nil {
			return nil, core.WithContextf(err, "partition %d: read H3 table", r.info.Index)
		}
		meta.H3 = h3
		r.h3 = h3

		if r.validate {
			if digest, ok := TMDContentHash(meta.TMD); ok && !wiicrypto.VerifyH3Table(h3, digest) {
				r.logger.Warnf("partition %d: hash mismatch at level H%d (H3 table does not match TMD content hash)", r.info.Index, 4)
			}
		}
	}

	r.meta = meta
	return meta, nil
}
