package nod

import (
	"crypto/md5"
	"crypto/sha1"
	"hash/crc32"
	"io"

	"github.com/cespare/xxhash/v2"
)

// Digests holds the whole-image digests an NKit sidecar may record,
// computed directly from the logical disc stream.
type Digests struct {
	CRC32    uint32
	MD5      [16]byte
	SHA1     [20]byte
	XXHash64 uint64
}

// ComputeDigests streams the disc once from the start, hashing it with
// every algorithm an NKit sidecar might carry. It seeks back to the start
// first and leaves the cursor at the end of the stream.
//
// This is the core's single-threaded counterpart to the CLI's parallel
// digest workers described in the reader stack's external interfaces: the
// core reads sequentially exactly once, and a caller wanting concurrent
// per-algorithm hashing would instead read the core's output into
// immutable slices itself.
func (d *Disc) ComputeDigests() (Digests, error) {
	if _, err := d.Seek(0, io.SeekStart); err != nil {
		return Digests{}, err
	}

	crc := crc32.NewIEEE()
	m := md5.New()
	s := sha1.New()
	x := xxhash.New()

	if _, err := io.Copy(io.MultiWriter(crc, m, s, x), d); err != nil {
		return Digests{}, err
	}

	var out Digests
	out.CRC32 = crc.Sum32()
	copy(out.MD5[:], m.Sum(nil))
	copy(out.SHA1[:], s.Sum(nil))
	out.XXHash64 = x.Sum64()
	return out, nil
}

// VerifyImage computes the disc's digests and compares them against
// whichever whole-image hashes its container metadata recorded (typically
// surfaced from an NKit sidecar via block.DiscMeta). A digest absent from
// the metadata is not compared. It reports false if any digest present in
// both disagrees.
func (d *Disc) VerifyImage() (bool, Digests, error) {
	digests, err := d.ComputeDigests()
	if err != nil {
		return false, digests, err
	}

	meta := d.Meta()
	ok := true
	if meta.CRC32 != nil && *meta.CRC32 != digests.CRC32 {
		ok = false
	}
	if meta.MD5 != nil && *meta.MD5 != digests.MD5 {
		ok = false
	}
	if meta.SHA1 != nil && *meta.SHA1 != digests.SHA1 {
		ok = false
	}
	if meta.XXHash64 != nil && *meta.XXHash64 != digests.XXHash64 {
		ok = false
	}
	return ok, digests, nil
}
