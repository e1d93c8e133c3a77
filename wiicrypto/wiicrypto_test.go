package wiicrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"testing"
)

func TestEncryptDecryptGroupRoundTrip(t *testing.T) {
	var titleKey [16]byte
	if _, err := rand.Read(titleKey[:]); err != nil {
		t.Fatal(err)
	}

	userData := make([]byte, UserDataSize)
	if _, err := rand.Read(userData); err != nil {
		t.Fatal(err)
	}

	var hashes [HashesSize]byte
	if err := RebuildGroupHashes(&hashes, userData); err != nil {
		t.Fatalf("RebuildGroupHashes: %v", err)
	}

	ciphertext, err := EncryptGroup(titleKey, hashes, userData)
	if err != nil {
		t.Fatalf("EncryptGroup: %v", err)
	}
	if len(ciphertext) != GroupSize {
		t.Fatalf("ciphertext length = %d, want %d", len(ciphertext), GroupSize)
	}

	gotHashes, gotUserData, err := DecryptGroup(titleKey, ciphertext)
	if err != nil {
		t.Fatalf("DecryptGroup: %v", err)
	}
	if gotHashes != hashes {
		t.Fatalf("decrypted hash section does not match original")
	}
	if !bytes.Equal(gotUserData, userData) {
		t.Fatalf("decrypted user data does not match original")
	}
}

func TestVerifyGroupHashesDetectsTamper(t *testing.T) {
	userData := make([]byte, UserDataSize)

	var hashes [HashesSize]byte
	if err := RebuildGroupHashes(&hashes, userData); err != nil {
		t.Fatal(err)
	}

	if mismatches, err := VerifyGroupHashes(hashes, userData); err != nil || len(mismatches) != 0 {
		t.Fatalf("expected no mismatches on freshly rebuilt hashes, got %v (err %v)", mismatches, err)
	}

	userData[0] ^= 0xFF
	mismatches, err := VerifyGroupHashes(hashes, userData)
	if err != nil {
		t.Fatalf("VerifyGroupHashes: %v", err)
	}
	if len(mismatches) != 1 || mismatches[0].Level != 0 || mismatches[0].Index != 0 {
		t.Fatalf("expected exactly one H0 mismatch at sub-block 0, got %v", mismatches)
	}
}

func TestHashTreeChaining(t *testing.T) {
	var h1Table [h1Count][20]byte
	for i := range h1Table {
		h1Table[i][0] = byte(i)
	}
	h2 := H2FromH1Table(h1Table)

	var h2Table [h2Count][20]byte
	h2Table[3] = h2
	h3 := H3FromH2Table(h2Table)

	if !VerifyH3Table(flatten(h2Table), h3) {
		t.Fatalf("VerifyH3Table rejected a digest it just computed")
	}
}

func flatten(h2 [h2Count][20]byte) []byte {
	buf := make([]byte, 0, h2Count*20)
	for _, h := range h2 {
		buf = append(buf, h[:]...)
	}
	return buf
}

func TestDeriveTitleKeyMatchesManualCBC(t *testing.T) {
	var commonKey [16]byte
	copy(commonKey[:], []byte("0123456789abcdef"))

	var titleID [8]byte
	copy(titleID[:], []byte{0, 0, 0, 1, 0, 0, 0, 2})

	plainKey := make([]byte, 16)
	if _, err := rand.Read(plainKey); err != nil {
		t.Fatal(err)
	}

	block, err := aes.NewCipher(commonKey[:])
	if err != nil {
		t.Fatal(err)
	}
	var iv [16]byte
	copy(iv[:8], titleID[:])
	var encrypted [16]byte
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(encrypted[:], plainKey)

	got, err := DeriveTitleKey(commonKey, titleID, encrypted)
	if err != nil {
		t.Fatalf("DeriveTitleKey: %v", err)
	}
	if !bytes.Equal(got[:], plainKey) {
		t.Fatalf("DeriveTitleKey = %x, want %x", got, plainKey)
	}
}
