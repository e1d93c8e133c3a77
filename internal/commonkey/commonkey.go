// Package commonkey holds the AES-128 common keys used to decrypt Wii
// title keys. nod ships no embedded Nintendo key material: callers supply
// the three keys (retail, Korean, vWii) they've sourced themselves, and
// this package only fingerprints them so a transposed or truncated key
// fails fast with a clear error instead of producing silent garbage.
package commonkey

import (
	"crypto/sha1"

	"github.com/bodgit/nod/internal/core"
)

// Index selects which common key a ticket's common-key-index field names.
type Index byte

// Common key slots, per the Wii ticket format.
const (
	Retail Index = 0
	Korean Index = 1
	VWii   Index = 2
)

func (i Index) String() string {
	switch i {
	case Retail:
		return "retail"
	case Korean:
		return "Korean"
	case VWii:
		return "vWii"
	default:
		return "unknown"
	}
}

// Size is the length in bytes of an AES-128 common key.
const Size = 16

// Set holds the common keys a caller has sourced for decrypting title keys.
// A zero Set has no keys loaded; Get reports an error for any index that
// hasn't been supplied.
type Set struct {
	keys        [3][Size]byte
	present     [3]bool
	fingerprint [3][sha1.Size]byte
	haveFP      [3]bool
}

// Load installs key for the given slot. If an expected fingerprint was
// registered for that slot via WithFingerprint, key is checked against it
// and a mismatch is reported as a DiscFormat error rather than silently
// accepted: a bad common key decrypts every title key on the disc to
// garbage, which otherwise only surfaces much later as a hash-tree failure.
func (s *Set) Load(idx Index, key []byte) error {
	if len(key) != Size {
		return core.DiscFormatErrorf("commonkey: %s key must be %d bytes, got %d", idx, Size, len(key))
	}
	if s.haveFP[idx] {
		sum := sha1.Sum(key)
		if sum != s.fingerprint[idx] {
			return core.DiscFormatErrorf("commonkey: %s key fingerprint mismatch", idx)
		}
	}
	copy(s.keys[idx][:], key)
	s.present[idx] = true
	return nil
}

// WithFingerprint registers the expected SHA-1 fingerprint for a key slot,
// checked on the next Load. Callers that trust their key source may skip
// this; it exists so a vendored key file with a known-good hash can be
// validated without ever embedding the key itself in this library.
func (s *Set) WithFingerprint(idx Index, fingerprint [sha1.Size]byte) {
	s.fingerprint[idx] = fingerprint
	s.haveFP[idx] = true
}

// Get returns the key for idx.
func (s *Set) Get(idx Index) ([Size]byte, error) {
	if int(idx) < 0 || int(idx) >= len(s.keys) || !s.present[idx] {
		return [Size]byte{}, core.OtherError("commonkey: " + idx.String() + " key not loaded")
	}
	return s.keys[idx], nil
}
