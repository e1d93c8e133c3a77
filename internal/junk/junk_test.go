package junk

import "testing"

func TestFillDeterministic(t *testing.T) {
	g := New([]byte("GALE01"))

	a := make([]byte, 2048)
	b := make([]byte, 2048)
	g.Fill(a, 42)
	g.Fill(b, 42)

	if string(a) != string(b) {
		t.Fatalf("Fill is not deterministic for the same sector index")
	}
}

func TestFillDiffersBySector(t *testing.T) {
	g := New([]byte("GALE01"))

	a := make([]byte, 64)
	b := make([]byte, 64)
	g.Fill(a, 1)
	g.Fill(b, 2)

	if string(a) == string(b) {
		t.Fatalf("expected different junk for different sector indices")
	}
}

func TestFillDiffersByDiscID(t *testing.T) {
	a := make([]byte, 64)
	b := make([]byte, 64)
	New([]byte("GALE01")).Fill(a, 7)
	New([]byte("RMCE01")).Fill(b, 7)

	if string(a) == string(b) {
		t.Fatalf("expected different junk for different disc IDs")
	}
}

func TestByteMatchesFill(t *testing.T) {
	g := New([]byte("GALE01"))

	buf := make([]byte, 32)
	g.Fill(buf, 5)

	for i, want := range buf {
		if got := g.Byte(5, i); got != want {
			t.Fatalf("Byte(5, %d) = %#x, want %#x", i, got, want)
		}
	}
}
