package nod

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/bodgit/nod/disc"
	"github.com/bodgit/nod/fst"
	"github.com/spf13/afero"
)

// buildGameCubeISO assembles a minimal, well-formed GameCube disc image: a
// disc header doubling as boot.bin, an empty bi2.bin, an apploader with no
// code or trailer, a zero-length DOL, and an FST naming one file whose contents live
// elsewhere in the image.
func buildGameCubeISO() []byte {
	const (
		dolOffset  = 0x3000
		fstOffset  = 0x4000
		fileOffset = 0x5000
	)

	fileData := []byte("hello world")

	stringTable := []byte("\x00TEST.TXT\x00")
	// Root node (index 0): directory, length = node count.
	var fstBuf []byte
	fstBuf = append(fstBuf, fstNode(1, 0, 0, 2)...)
	// File node (index 1): name offset 1 (skips the leading NUL), raw
	// file offset and length.
	fstBuf = append(fstBuf, fstNode(0, 1, fileOffset, uint32(len(fileData)))...)
	fstBuf = append(fstBuf, stringTable...)

	buf := make([]byte, 0x8000)
	copy(buf[0:6], "GALE01")
	binary.BigEndian.PutUint32(buf[0x1C:0x20], 0xC2339F3D) // GameCube magic
	copy(buf[0x20:0x60], []byte("Test Disc"))

	binary.BigEndian.PutUint32(buf[0x420:0x424], dolOffset)
	binary.BigEndian.PutUint32(buf[0x424:0x428], fstOffset)
	binary.BigEndian.PutUint32(buf[0x428:0x42C], uint32(len(fstBuf)))
	binary.BigEndian.PutUint32(buf[0x42C:0x430], uint32(len(fstBuf)))

	// Apploader header at 0x2440 is left zeroed: zero code and trailer
	// size, so its image is just the 0x20-byte header itself.

	copy(buf[fstOffset:], fstBuf)
	copy(buf[fileOffset:], fileData)

	return buf
}

func fstNode(kind byte, nameOffset, offset, length uint32) []byte {
	b := make([]byte, fst.NodeSize)
	b[0] = kind
	b[1] = byte(nameOffset >> 16)
	b[2] = byte(nameOffset >> 8)
	b[3] = byte(nameOffset)
	binary.BigEndian.PutUint32(b[4:8], offset)
	binary.BigEndian.PutUint32(b[8:12], length)
	return b
}

func TestOpenGameCubeDiscAndReadFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "game.iso", buildGameCubeISO(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d, err := OpenWithOptions("game.iso", OpenOptions{Fs: fsys})
	if err != nil {
		t.Fatalf("OpenWithOptions: %v", err)
	}
	defer d.Close()

	if d.Header().IsWii() {
		t.Fatalf("expected a GameCube disc")
	}
	if got := d.Header().GameID(); got != "GALE01" {
		t.Fatalf("GameID = %q, want GALE01", got)
	}

	partitions := d.Partitions()
	if len(partitions) != 1 || !partitions[0].Kind.Is(disc.KindData) {
		t.Fatalf("expected a single synthetic Data partition, got %+v", partitions)
	}

	p, err := d.OpenPartitionKind(disc.KindData)
	if err != nil {
		t.Fatalf("OpenPartitionKind: %v", err)
	}

	meta, err := p.Meta()
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}

	fsView, err := fst.New(meta.FST)
	if err != nil {
		t.Fatalf("fst.New: %v", err)
	}

	idx, node, ok := fsView.Find("/TEST.TXT")
	if !ok {
		t.Fatalf("expected to find /TEST.TXT in the FST")
	}
	if idx != 1 || !node.IsFile() {
		t.Fatalf("unexpected node for /TEST.TXT: idx=%d node=%+v", idx, node)
	}

	fileBuf := make([]byte, node.Length())
	if _, err := p.ReadAt(fileBuf, int64(node.Offset(false))); err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(fileBuf) != "hello world" {
		t.Fatalf("file contents = %q, want %q", fileBuf, "hello world")
	}
}

func TestOpenUnknownPartitionIndex(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "game.iso", buildGameCubeISO(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d, err := OpenWithOptions("game.iso", OpenOptions{Fs: fsys})
	if err != nil {
		t.Fatalf("OpenWithOptions: %v", err)
	}
	defer d.Close()

	if _, err := d.OpenPartition(7); err == nil {
		t.Fatalf("expected an error opening a nonexistent partition index")
	}
}
