package nod

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"testing"

	"github.com/bodgit/nod/block"
	"github.com/bodgit/nod/disc"
	"github.com/bodgit/nod/partition"
	"github.com/bodgit/nod/wiicrypto"
	"github.com/spf13/afero"
)

// Layout of the synthetic single-partition, single-group Wii disc images
// built below: one Data partition whose header sits at wiiPartitionStart,
// naming exactly one 32 KiB hash block of user data at wiiDataDiscOffset.
const (
	wiiPartitionEntryOffset = 0x50000
	wiiPartitionStart       = 0x60000
	wiiPartitionDataOffset  = 0x20000
	wiiDataDiscOffset       = wiiPartitionStart + wiiPartitionDataOffset
	wiiImageSize            = wiiDataDiscOffset + wiicrypto.GroupSize
)

// warnRecorder is a Logger that keeps every warning it's given, so a test
// can assert that hash validation found (or didn't find) anything.
type warnRecorder struct {
	warnings []string
}

func (w *warnRecorder) Warnf(format string, args ...any) {
	w.warnings = append(w.warnings, fmt.Sprintf(format, args...))
}

// buildWiiImage assembles a minimal Wii disc image: header, one-entry
// volume-group table, a partition header/ticket, and one hash block of
// user data. The ticket is built so DeriveTitleKey(commonKey, ...)
// recovers titleKey exactly. When chainConsistent is false the stored H1
// and H2 entries are left at zero instead of folded up from H0, modeling a
// needs_hash_recovery source whose upper hash levels are stale until
// rebuild_encryption repairs them.
func buildWiiImage(t *testing.T, userData []byte, chainConsistent bool) (image []byte, commonKey, titleKey [16]byte) {
	t.Helper()
	if len(userData) != wiicrypto.UserDataSize {
		t.Fatalf("userData must be %d bytes, got %d", wiicrypto.UserDataSize, len(userData))
	}

	image = make([]byte, wiiImageSize)
	copy(image[0:6], "RWII01")
	binary.BigEndian.PutUint32(image[0x18:0x1C], 0x5D1C9EA3)

	binary.BigEndian.PutUint32(image[0x40000:0x40004], 1)
	binary.BigEndian.PutUint32(image[0x40004:0x40008], uint32(wiiPartitionEntryOffset/4))
	binary.BigEndian.PutUint32(image[wiiPartitionEntryOffset:wiiPartitionEntryOffset+4], uint32(wiiPartitionStart/4))
	binary.BigEndian.PutUint32(image[wiiPartitionEntryOffset+4:wiiPartitionEntryOffset+8], 0) // Data

	copy(commonKey[:], []byte("common-key-16byt"))
	copy(titleKey[:], []byte("title-key-16byte"))

	var titleID [8]byte
	copy(titleID[:], []byte{0, 1, 0, 2, 0, 3, 0, 4})

	block, err := aes.NewCipher(commonKey[:])
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	var iv [16]byte
	copy(iv[:8], titleID[:])
	var encTitleKey [16]byte
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(encTitleKey[:], titleKey[:])

	copy(image[wiiPartitionStart+0x1DC:wiiPartitionStart+0x1E4], titleID[:])
	image[wiiPartitionStart+0x1F1] = 0 // Retail common key index
	copy(image[wiiPartitionStart+0x1BF:wiiPartitionStart+0x1CF], encTitleKey[:])

	binary.BigEndian.PutUint32(image[wiiPartitionStart+0x2B8:wiiPartitionStart+0x2BC], uint32(wiiPartitionDataOffset/4))
	binary.BigEndian.PutUint32(image[wiiPartitionStart+0x2BC:wiiPartitionStart+0x2C0], uint32(wiicrypto.GroupSize/4))

	var hashes [wiicrypto.HashesSize]byte
	if chainConsistent {
		if err := wiicrypto.RebuildHashChain(&hashes, userData, 0); err != nil {
			t.Fatalf("RebuildHashChain: %v", err)
		}
	} else {
		if err := wiicrypto.RebuildGroupHashes(&hashes, userData); err != nil {
			t.Fatalf("RebuildGroupHashes: %v", err)
		}
	}
	copy(image[wiiDataDiscOffset:wiiDataDiscOffset+wiicrypto.HashesSize], hashes[:])
	copy(image[wiiDataDiscOffset+wiicrypto.HashesSize:], userData)

	return image, commonKey, titleKey
}

// TestOpenWiiDiscDecryptsAndValidatesPartition exercises the ordinary path:
// a container that stores the partition already encrypted, as a raw ISO
// does. It checks that the decrypted user data comes back unchanged and
// that a fully consistent H0/H1/H2 chain validates clean end to end.
func TestOpenWiiDiscDecryptsAndValidatesPartition(t *testing.T) {
	userData := make([]byte, wiicrypto.UserDataSize)
	for i := range userData {
		userData[i] = byte(i)
	}
	image, commonKey, titleKey := buildWiiImage(t, userData, true)

	var hashes [wiicrypto.HashesSize]byte
	copy(hashes[:], image[wiiDataDiscOffset:wiiDataDiscOffset+wiicrypto.HashesSize])
	ciphertext, err := wiicrypto.EncryptGroup(titleKey, hashes, userData)
	if err != nil {
		t.Fatalf("EncryptGroup: %v", err)
	}
	copy(image[wiiDataDiscOffset:], ciphertext)

	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "game.iso", image, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var keys CommonKeys
	if err := keys.Load(CommonKeyRetail, commonKey[:]); err != nil {
		t.Fatalf("Load: %v", err)
	}
	logger := &warnRecorder{}

	d, err := OpenWithOptions("game.iso", OpenOptions{Fs: fsys, Keys: &keys, ValidateHashes: true, Logger: logger})
	if err != nil {
		t.Fatalf("OpenWithOptions: %v", err)
	}
	defer d.Close()

	if !d.Header().IsWii() {
		t.Fatalf("expected a Wii disc")
	}

	p, err := d.OpenPartitionKind(disc.KindData)
	if err != nil {
		t.Fatalf("OpenPartitionKind: %v", err)
	}

	got := make([]byte, len(userData))
	if _, err := p.ReadAt(got, 0); err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, userData) {
		t.Fatalf("decrypted user data does not match original")
	}
	if len(logger.warnings) != 0 {
		t.Fatalf("unexpected hash warnings on a consistent chain: %v", logger.warnings)
	}
}

// TestValidateHashesDetectsTamperedGroup flips a byte of ciphertext before
// opening the disc and checks that decrypting through the full reader
// stack, not just the wiicrypto primitives in isolation, reports the
// resulting H0 mismatch instead of silently returning corrupted data.
func TestValidateHashesDetectsTamperedGroup(t *testing.T) {
	userData := make([]byte, wiicrypto.UserDataSize)
	image, commonKey, titleKey := buildWiiImage(t, userData, true)

	var hashes [wiicrypto.HashesSize]byte
	copy(hashes[:], image[wiiDataDiscOffset:wiiDataDiscOffset+wiicrypto.HashesSize])
	ciphertext, err := wiicrypto.EncryptGroup(titleKey, hashes, userData)
	if err != nil {
		t.Fatalf("EncryptGroup: %v", err)
	}
	ciphertext[wiicrypto.HashesSize] ^= 0xFF // corrupt the first user-data byte once decrypted
	copy(image[wiiDataDiscOffset:], ciphertext)

	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "game.iso", image, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var keys CommonKeys
	if err := keys.Load(CommonKeyRetail, commonKey[:]); err != nil {
		t.Fatalf("Load: %v", err)
	}
	logger := &warnRecorder{}

	d, err := OpenWithOptions("game.iso", OpenOptions{Fs: fsys, Keys: &keys, ValidateHashes: true, Logger: logger})
	if err != nil {
		t.Fatalf("OpenWithOptions: %v", err)
	}
	defer d.Close()

	p, err := d.OpenPartitionKind(disc.KindData)
	if err != nil {
		t.Fatalf("OpenPartitionKind: %v", err)
	}

	got := make([]byte, len(userData))
	if _, err := p.ReadAt(got, 0); err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	if len(logger.warnings) == 0 {
		t.Fatalf("expected a hash mismatch warning for a tampered group")
	}
}

// TestRebuildEncryptionRepairsHashChain models a needs_hash_recovery
// source (WIA/RVZ/NFS storing the partition already decrypted, with the
// H1/H2 entries embedded in its hash section left stale) and checks that
// opening with RebuildEncryption folds the freshly rebuilt H0 table up
// into H1 and H2 before re-encrypting, so the group decrypts clean. Before
// disc.Reader's rebuild path called RebuildHashChain instead of
// RebuildGroupHashes, the re-encrypted group kept its stale H1/H2 entries
// and this would report mismatches.
func TestRebuildEncryptionRepairsHashChain(t *testing.T) {
	userData := make([]byte, wiicrypto.UserDataSize)
	for i := range userData {
		userData[i] = byte(i * 7)
	}
	image, commonKey, _ := buildWiiImage(t, userData, false)

	provider := &fakeProvider{data: image, blockSize: block.SectorSize, format: block.FormatWIA}

	var keys CommonKeys
	if err := keys.Load(CommonKeyRetail, commonKey[:]); err != nil {
		t.Fatalf("Load: %v", err)
	}
	logger := &warnRecorder{}

	reader, err := disc.Open(provider, disc.Options{RebuildEncryption: true, Keys: &keys, Logger: logger})
	if err != nil {
		t.Fatalf("disc.Open: %v", err)
	}
	defer reader.Close()

	partitions := reader.Partitions()
	if len(partitions) != 1 {
		t.Fatalf("expected one partition, got %d", len(partitions))
	}

	p, err := partition.Open(reader, partitions[0], partition.Options{Keys: &keys, ValidateHashes: true, Logger: logger})
	if err != nil {
		t.Fatalf("partition.Open: %v", err)
	}

	got := make([]byte, len(userData))
	if _, err := p.ReadAt(got, 0); err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, userData) {
		t.Fatalf("decrypted user data does not match original after rebuild_encryption")
	}
	if len(logger.warnings) != 0 {
		t.Fatalf("rebuild_encryption should have repaired H1/H2 before re-encrypting, got warnings: %v", logger.warnings)
	}
}

// fakeProvider is a minimal in-memory block.Provider standing in for a
// WIA/RVZ/NFS container: its only job is to report the decrypted-storage
// format flag disc.Reader keys its rebuild_encryption path on.
type fakeProvider struct {
	data      []byte
	blockSize uint32
	format    block.Format
}

func (p *fakeProvider) Meta() block.DiscMeta {
	size := uint64(len(p.data))
	return block.DiscMeta{Format: p.format, DiscSize: &size}
}

func (p *fakeProvider) BlockSize() uint32 { return p.blockSize }

func (p *fakeProvider) ReadBlock(blockIndex uint32, _ []byte) (block.Ref, error) {
	offset := int64(blockIndex) * int64(p.blockSize)
	if offset >= int64(len(p.data)) {
		return block.Ref{}, io.EOF
	}
	end := offset + int64(p.blockSize)
	if end > int64(len(p.data)) {
		end = int64(len(p.data))
	}
	return block.Ref{Kind: block.KindCopy, Data: p.data[offset:end], Offset: offset, Size: int(end - offset)}, nil
}

func (p *fakeProvider) Clone() (block.Provider, error) { return p, nil }

func (p *fakeProvider) Close() error { return nil }
