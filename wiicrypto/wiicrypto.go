// Package wiicrypto implements the AES-128-CBC title-key derivation and
// per-group encryption used by Wii partitions, plus the H0-H3 SHA-1
// hash-tree that verifies and can rebuild a group's integrity metadata.
//
// It holds no disc- or container-specific I/O: disc.Reader uses it to
// re-encrypt plaintext groups on the fly for ISO export, and
// partition.Reader uses it to decrypt them for the partition's byte
// stream. Keeping it dependency-free on both avoids a cycle between those
// two packages while letting them share one implementation of the crypto.
package wiicrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"io"

	"github.com/bodgit/nod/internal/commonkey"
	"github.com/bodgit/nod/internal/core"
	"github.com/connesc/cipherio"
)

// GroupSize is the size in bytes of one Wii hash block ("group"): 1024
// bytes of H0/H1/H2 hash metadata followed by 31,744 bytes of user data.
const GroupSize = 32 * 1024

// HashesSize is the size of a group's leading hash section.
const HashesSize = 1024

// UserDataSize is the size of a group's plaintext user-data section.
const UserDataSize = GroupSize - HashesSize

// GroupsPerH3 is the number of hash blocks covered by one H3 entry
// (~2 MiB of plaintext).
const GroupsPerH3 = 64

// h2IVOffset is where, within the decrypted 1024-byte hash section, the
// last 16 bytes of the H2 table begin; they serve as the IV for the
// user-data section.
const h2IVOffset = 0x3D0

// DeriveTitleKey decrypts a ticket's title key: AES-128-CBC with the
// selected common key and an IV of the 8-byte title ID followed by 8 zero
// bytes.
func DeriveTitleKey(commonKey [commonkey.Size]byte, titleID [8]byte, encryptedTitleKey [16]byte) ([16]byte, error) {
	block, err := aes.NewCipher(commonKey[:])
	if err != nil {
		return [16]byte{}, core.IOError("wiicrypto: construct common key cipher", err)
	}
	var iv [16]byte
	copy(iv[:8], titleID[:])

	var key [16]byte
	cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(key[:], encryptedTitleKey[:])
	return key, nil
}

// DecryptGroup decrypts one 32 KiB ciphertext group with the partition's
// title key, returning the decrypted hash section and the 31,744-byte
// plaintext user data. Both halves are streamed through cipherio rather
// than decrypted in one CryptBlocks call, matching how the rest of this
// tree (block/nfs.go) wraps a cipher.BlockMode around a block's bytes.
func DecryptGroup(titleKey [16]byte, ciphertext []byte) (hashes [HashesSize]byte, userData []byte, err error) {
	if len(ciphertext) != GroupSize {
		return hashes, nil, core.DiscFormatErrorf("wiicrypto: group must be %d bytes, got %d", GroupSize, len(ciphertext))
	}
	block, err := aes.NewCipher(titleKey[:])
	if err != nil {
		return hashes, nil, core.IOError("wiicrypto: construct title key cipher", err)
	}

	var zeroIV [16]byte
	hashReader := cipherio.NewBlockReader(bytes.NewReader(ciphertext[:HashesSize]), cipher.NewCBCDecrypter(block, zeroIV[:]))
	if _, err := io.ReadFull(hashReader, hashes[:]); err != nil {
		return hashes, nil, core.IOError("wiicrypto: decrypt hash section", err)
	}

	userIV := append([]byte(nil), hashes[h2IVOffset:h2IVOffset+16]...)
	userData = make([]byte, UserDataSize)
	userReader := cipherio.NewBlockReader(bytes.NewReader(ciphertext[HashesSize:]), cipher.NewCBCDecrypter(block, userIV))
	if _, err := io.ReadFull(userReader, userData); err != nil {
		return hashes, nil, core.IOError("wiicrypto: decrypt user data", err)
	}

	return hashes, userData, nil
}

// EncryptGroup is the inverse of DecryptGroup: given the (possibly
// recomputed) hash section and plaintext user data, it produces the 32 KiB
// ciphertext group, streaming each half through cipherio's BlockWriter.
func EncryptGroup(titleKey [16]byte, hashes [HashesSize]byte, userData []byte) ([]byte, error) {
	if len(userData) != UserDataSize {
		return nil, core.DiscFormatErrorf("wiicrypto: user data must be %d bytes, got %d", UserDataSize, len(userData))
	}
	block, err := aes.NewCipher(titleKey[:])
	if err != nil {
		return nil, core.IOError("wiicrypto: construct title key cipher", err)
	}

	var hashBuf, userBuf bytes.Buffer

	var zeroIV [16]byte
	hashWriter := cipherio.NewBlockWriter(&hashBuf, cipher.NewCBCEncrypter(block, zeroIV[:]))
	if _, err := hashWriter.Write(hashes[:]); err != nil {
		return nil, core.IOError("wiicrypto: encrypt hash section", err)
	}
	if err := hashWriter.Close(); err != nil {
		return nil, core.IOError("wiicrypto: encrypt hash section", err)
	}

	userIV := append([]byte(nil), hashes[h2IVOffset:h2IVOffset+16]...)
	userWriter := cipherio.NewBlockWriter(&userBuf, cipher.NewCBCEncrypter(block, userIV))
	if _, err := userWriter.Write(userData); err != nil {
		return nil, core.IOError("wiicrypto: encrypt user data", err)
	}
	if err := userWriter.Close(); err != nil {
		return nil, core.IOError("wiicrypto: encrypt user data", err)
	}

	ciphertext := make([]byte, GroupSize)
	copy(ciphertext[:HashesSize], hashBuf.Bytes())
	copy(ciphertext[HashesSize:], userBuf.Bytes())
	return ciphertext, nil
}
