package wiicrypto

import (
	"bytes"
	"crypto/sha1"

	"github.com/bodgit/nod/internal/core"
)

// Layout of each level of the Wii hash tree within a group's 1024-byte
// hash section: it is 31 SHA-1 hashes (H0, 0x14 bytes each,
// padded) at 0, followed by 8 H1 hashes at 0x280 and 8 H2 hashes at 0x340.
const (
	h0Count    = 31
	h0Stride   = 0x400 / h0Count // unused directly; H0 hashes cover 0x400-byte sub-blocks of user data
	h0DataSize = 0x400
	h1Offset   = 0x280
	h1Count    = 8
	h2Offset   = 0x340
	h2Count    = 8
)

// GroupsPerSubgroup is the number of consecutive groups that share one H1
// table: each of the 8 stores an identical copy of all 8 siblings' H1
// entries, so a group's own slot can be checked without reading the others.
const GroupsPerSubgroup = h1Count

// SubgroupsPerH3Group is the number of subgroups that share one H2 table,
// by the same redundant-copy arrangement as GroupsPerSubgroup.
const SubgroupsPerH3Group = h2Count

// Mismatch describes one hash-tree entry that didn't match its parent's
// recorded digest.
type Mismatch struct {
	Level int // 0, 1 or 2 for H0/H1/H2; 3 for H3
	Index int
}

// ComputeH0 hashes each of the 31 0x400-byte sub-blocks of a group's
// 31,744-byte plaintext user data, returning the 31 SHA-1 digests that
// belong at the start of the group's hash section.
func ComputeH0(userData []byte) ([h0Count][sha1.Size]byte, error) {
	var out [h0Count][sha1.Size]byte
	if len(userData) != UserDataSize {
		return out, core.DiscFormatErrorf("wiicrypto: user data must be %d bytes, got %d", UserDataSize, len(userData))
	}
	for i := 0; i < h0Count; i++ {
		out[i] = sha1.Sum(userData[i*h0DataSize : (i+1)*h0DataSize])
	}
	return out, nil
}

// VerifyGroupHashes recomputes a group's H0 hashes from its decrypted user
// data and compares them against the H0 table recorded in the decrypted
// hash section, returning one Mismatch per sub-block that doesn't match.
// It does not itself walk H1/H2/H3; VerifyHashChain extends it to those
// levels.
func VerifyGroupHashes(hashes [HashesSize]byte, userData []byte) ([]Mismatch, error) {
	computed, err := ComputeH0(userData)
	if err != nil {
		return nil, err
	}
	var mismatches []Mismatch
	for i, want := range computed {
		got := hashes[i*sha1.Size : (i+1)*sha1.Size]
		if !bytes.Equal(got, want[:]) {
			mismatches = append(mismatches, Mismatch{Level: 0, Index: i})
		}
	}
	return mismatches, nil
}

// RebuildGroupHashes recomputes and writes the H0 table of a group's hash
// section in place, for lossless reconstruction after a plaintext edit.
// The caller is responsible for propagating the updated H0 table's hash
// into the owning subgroup's H1 entry, and so on up to H3 and the TMD.
func RebuildGroupHashes(hashes *[HashesSize]byte, userData []byte) error {
	computed, err := ComputeH0(userData)
	if err != nil {
		return err
	}
	for i, h := range computed {
		copy(hashes[i*sha1.Size:(i+1)*sha1.Size], h[:])
	}
	return nil
}

// H1FromGroupHashes computes the H1 entry covering a group: the SHA-1 of
// the 31 H0 digests packed back-to-back (the first 0x26C bytes of the hash
// section, matching the on-disk layout Nintendo uses for this level).
func H1FromGroupHashes(hashes [HashesSize]byte) [sha1.Size]byte {
	return sha1.Sum(hashes[:h0Count*sha1.Size])
}

// H2FromH1Table hashes a subgroup's 8 H1 digests into its H2 entry.
func H2FromH1Table(h1 [h1Count][sha1.Size]byte) [sha1.Size]byte {
	var buf [h1Count * sha1.Size]byte
	for i, h := range h1 {
		copy(buf[i*sha1.Size:], h[:])
	}
	return sha1.Sum(buf[:])
}

// H3FromH2Table hashes a cluster's 8 H2 digests into its H3 entry, one
// entry of the H3 table stored at the partition's h3_offset and itself
// hashed in aggregate by the TMD's content record.
func H3FromH2Table(h2 [h2Count][sha1.Size]byte) [sha1.Size]byte {
	var buf [h2Count * sha1.Size]byte
	for i, h := range h2 {
		copy(buf[i*sha1.Size:], h[:])
	}
	return sha1.Sum(buf[:])
}

// VerifyH3Table hashes the full H3 table and compares it against the
// digest recorded in the title's TMD content record, the root of trust for
// the entire partition's hash tree.
func VerifyH3Table(h3Table []byte, tmdDigest [sha1.Size]byte) bool {
	return sha1.Sum(h3Table) == tmdDigest
}

// H1Table extracts the 8 H1 entries embedded in a group's hash section.
func H1Table(hashes [HashesSize]byte) (out [h1Count][sha1.Size]byte) {
	for i := range out {
		copy(out[i][:], hashes[h1Offset+i*sha1.Size:h1Offset+(i+1)*sha1.Size])
	}
	return out
}

// H2Table extracts the 8 H2 entries embedded in a group's hash section.
func H2Table(hashes [HashesSize]byte) (out [h2Count][sha1.Size]byte) {
	for i := range out {
		copy(out[i][:], hashes[h2Offset+i*sha1.Size:h2Offset+(i+1)*sha1.Size])
	}
	return out
}

// SetH1Entry overwrites the H1 table's slot index in a group's hash section.
func SetH1Entry(hashes *[HashesSize]byte, index int, h [sha1.Size]byte) {
	copy(hashes[h1Offset+index*sha1.Size:h1Offset+(index+1)*sha1.Size], h[:])
}

// SetH2Entry overwrites the H2 table's slot index in a group's hash section.
func SetH2Entry(hashes *[HashesSize]byte, index int, h [sha1.Size]byte) {
	copy(hashes[h2Offset+index*sha1.Size:h2Offset+(index+1)*sha1.Size], h[:])
}

// VerifyHashChain extends VerifyGroupHashes up through H1, H2 and, when h3
// is non-empty, H3: group is this group's 0-based index within the
// partition. It checks that the group's own contribution to its embedded
// H1 and H2 tables (which, by the hash tree's redundant-copy design, every
// sibling group in the same subgroup/H3-group carries an identical copy of)
// matches what the group itself computes, and that the H3 table entry for
// this group's H3-group matches the hash of the group's own H2 table.
//
// This validates the chain a single group's own bytes can attest to; it
// does not cross-check sibling groups' copies of the same tables against
// each other, since that needs their data too.
func VerifyHashChain(hashes [HashesSize]byte, userData []byte, group int64, h3 []byte) ([]Mismatch, error) {
	mismatches, err := VerifyGroupHashes(hashes, userData)
	if err != nil {
		return nil, err
	}

	h1Index := int(group % GroupsPerSubgroup)
	if got, want := H1Table(hashes)[h1Index], H1FromGroupHashes(hashes); got != want {
		mismatches = append(mismatches, Mismatch{Level: 1, Index: h1Index})
	}

	h2Index := int((group / GroupsPerSubgroup) % SubgroupsPerH3Group)
	if got, want := H2Table(hashes)[h2Index], H2FromH1Table(H1Table(hashes)); got != want {
		mismatches = append(mismatches, Mismatch{Level: 2, Index: h2Index})
	}

	if len(h3) > 0 {
		h3Index := int(group / GroupsPerH3)
		if (h3Index+1)*sha1.Size <= len(h3) {
			var want [sha1.Size]byte
			copy(want[:], h3[h3Index*sha1.Size:(h3Index+1)*sha1.Size])
			if got := H3FromH2Table(H2Table(hashes)); got != want {
				mismatches = append(mismatches, Mismatch{Level: 3, Index: h3Index})
			}
		}
	}

	return mismatches, nil
}

// RebuildHashChain rebuilds a group's H0 table from plaintext, then folds
// the result up into its own embedded H1 and H2 tables at the slot this
// group occupies within them. It leaves the partition's separate H3 region
// untouched: per the reader's rebuild_encryption behavior, H3 and the TMD
// content hash are read back unchanged (or, lacking an H3 region entirely,
// left absent) rather than recomputed, since a correct H3 rebuild needs
// every group across the whole H3-group, not just this one.
func RebuildHashChain(hashes *[HashesSize]byte, userData []byte, group int64) error {
	if err := RebuildGroupHashes(hashes, userData); err != nil {
		return err
	}

	h1Index := int(group % GroupsPerSubgroup)
	SetH1Entry(hashes, h1Index, H1FromGroupHashes(*hashes))

	h2Index := int((group / GroupsPerSubgroup) % SubgroupsPerH3Group)
	SetH2Entry(hashes, h2Index, H2FromH1Table(H1Table(*hashes)))

	return nil
}
