package fst

import (
	"encoding/binary"
	"testing"
)

// buildNode appends a 12-byte FST node to buf.
func buildNode(buf []byte, kind byte, nameOffset uint32, offset, length uint32) []byte {
	b := make([]byte, NodeSize)
	b[0] = kind
	b[1] = byte(nameOffset >> 16)
	b[2] = byte(nameOffset >> 8)
	b[3] = byte(nameOffset)
	binary.BigEndian.PutUint32(b[4:8], offset)
	binary.BigEndian.PutUint32(b[8:12], length)
	return append(buf, b...)
}

// sample builds:
//
//	/ (dir, idx 0, length=5)
//	  DOCS/ (dir, idx 1, parent=0, length=4)
//	    A.TXT (file, idx 2)
//	    B.TXT (file, idx 3)
//	  MAIN.DOL (file, idx 4)
func sample(t *testing.T) *Fst {
	t.Helper()

	names := []byte("DOCS\x00A.TXT\x00B.TXT\x00MAIN.DOL\x00")
	off := func(name string) uint32 {
		idx := indexOf(names, name+"\x00")
		if idx < 0 {
			t.Fatalf("name %q not in string table", name)
		}
		return uint32(idx)
	}

	var buf []byte
	buf = buildNode(buf, 1, 0, 0, 5)                       // root
	buf = buildNode(buf, 1, off("DOCS"), 0, 4)              // DOCS/, parent 0, end idx 4
	buf = buildNode(buf, 0, off("A.TXT"), 0x1000, 0x20)     // DOCS/A.TXT
	buf = buildNode(buf, 0, off("B.TXT"), 0x2000, 0x30)     // DOCS/B.TXT
	buf = buildNode(buf, 0, off("MAIN.DOL"), 0x3000, 0x400) // MAIN.DOL
	buf = append(buf, names...)

	f, err := New(buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func indexOf(haystack []byte, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == needle {
			return i
		}
	}
	return -1
}

func TestFstIter(t *testing.T) {
	f := sample(t)

	var got []string
	it := f.Iter()
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		if e.NameErr != nil {
			t.Fatalf("entry %d: %v", e.Index, e.NameErr)
		}
		got = append(got, e.Name)
	}

	want := []string{"DOCS", "A.TXT", "B.TXT", "MAIN.DOL"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFstFind(t *testing.T) {
	f := sample(t)

	idx, node, ok := f.Find("/DOCS/A.TXT")
	if !ok {
		t.Fatalf("expected to find /DOCS/A.TXT")
	}
	if idx != 2 || !node.IsFile() || node.Offset(false) != 0x1000 || node.Length() != 0x20 {
		t.Fatalf("unexpected node for /DOCS/A.TXT: idx=%d node=%+v", idx, node)
	}

	// Case-insensitive.
	if _, _, ok := f.Find("docs/b.txt"); !ok {
		t.Fatalf("expected case-insensitive match for docs/b.txt")
	}

	if _, _, ok := f.Find("/MAIN.DOL"); !ok {
		t.Fatalf("expected to find /MAIN.DOL")
	}

	if _, _, ok := f.Find("/DOCS/MISSING.TXT"); ok {
		t.Fatalf("did not expect to find /DOCS/MISSING.TXT")
	}

	if _, _, ok := f.Find("/NONE"); ok {
		t.Fatalf("did not expect to find /NONE")
	}
}

func TestNodeWiiFileOffsetShift(t *testing.T) {
	n := Node{kind: 0, offset: 0x100}
	if got := n.Offset(true); got != 0x400 {
		t.Fatalf("Wii file offset = %#x, want %#x", got, 0x400)
	}
	if got := n.Offset(false); got != 0x100 {
		t.Fatalf("GC file offset = %#x, want %#x", got, 0x100)
	}
}
