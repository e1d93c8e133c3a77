package commonkey

import (
	"crypto/sha1"
	"testing"
)

func TestLoadAndGet(t *testing.T) {
	var s Set
	key := []byte("0123456789abcdef")
	if err := s.Load(Retail, key); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := s.Get(Retail)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got[:]) != string(key) {
		t.Fatalf("Get returned %x, want %x", got, key)
	}
}

func TestGetUnloadedSlot(t *testing.T) {
	var s Set
	if _, err := s.Get(Korean); err == nil {
		t.Fatalf("expected an error for an unloaded slot")
	}
}

func TestLoadWrongSize(t *testing.T) {
	var s Set
	if err := s.Load(Retail, []byte("short")); err == nil {
		t.Fatalf("expected an error for a short key")
	}
}

func TestLoadFingerprintMismatch(t *testing.T) {
	var s Set
	s.WithFingerprint(VWii, sha1.Sum([]byte("expected-key-16-")))
	if err := s.Load(VWii, []byte("wrong-key-16-byt")); err == nil {
		t.Fatalf("expected a fingerprint mismatch error")
	}
}

func TestLoadFingerprintMatch(t *testing.T) {
	var s Set
	key := []byte("expected-key-16-")
	s.WithFingerprint(Retail, sha1.Sum(key))
	if err := s.Load(Retail, key); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
