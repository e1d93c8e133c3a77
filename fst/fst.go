// Package fst parses and indexes the File System Table embedded in a Wii or
// GameCube partition: a packed array of fixed-size nodes followed by a
// Shift-JIS string table.
package fst

import (
	"bytes"
	"encoding/binary"

	"github.com/bodgit/nod/internal/core"
	"golang.org/x/text/encoding/japanese"
)

// NodeSize is the on-disk size of a single FST node.
const NodeSize = 12

// NodeKind identifies whether an FST node is a file or a directory.
type NodeKind int

// Node kinds, matching the FST's one-byte kind field.
const (
	KindFile NodeKind = iota
	KindDirectory
	// KindInvalid marks a kind byte outside {0, 1}; this should not occur
	// in a well-formed FST.
	KindInvalid
)

// Node is a single 12-byte FST entry.
type Node struct {
	kind       byte
	nameOffset [3]byte
	offset     uint32
	length     uint32
}

// parseNode decodes one 12-byte big-endian FST node.
func parseNode(b []byte) Node {
	return Node{
		kind:       b[0],
		nameOffset: [3]byte{b[1], b[2], b[3]},
		offset:     binary.BigEndian.Uint32(b[4:8]),
		length:     binary.BigEndian.Uint32(b[8:12]),
	}
}

// Kind reports whether the node is a file or directory.
func (n Node) Kind() NodeKind {
	switch n.kind {
	case 0:
		return KindFile
	case 1:
		return KindDirectory
	default:
		return KindInvalid
	}
}

// IsFile reports whether the node is a file.
func (n Node) IsFile() bool { return n.kind == 0 }

// IsDir reports whether the node is a directory.
func (n Node) IsDir() bool { return n.kind == 1 }

// NameOffset is the byte offset of the node's name within the FST's string
// table.
func (n Node) NameOffset() uint32 {
	return uint32(n.nameOffset[0])<<16 | uint32(n.nameOffset[1])<<8 | uint32(n.nameOffset[2])
}

// Offset returns, for a file, the partition-relative byte offset of its
// data (shifted left 2 bits first when isWii is true, since Wii FSTs store
// file offsets divided by 4); for a directory, the index of its parent
// node.
func (n Node) Offset(isWii bool) uint64 {
	if isWii && n.kind == 0 {
		return uint64(n.offset) * 4
	}
	return uint64(n.offset)
}

// Length returns, for a file, its byte size; for a directory, the index one
// past the last node in its subtree. The number of descendants is
// Length()-index-1.
func (n Node) Length() uint64 { return uint64(n.length) }

// Fst is a read-only view over a partition's file system table.
type Fst struct {
	buf         []byte
	Nodes       []Node
	StringTable []byte
}

// New parses an Fst view from a raw FST buffer. The buffer must remain
// valid for the lifetime of the returned Fst and everything derived from
// it; Fst does not copy it.
func New(buf []byte) (*Fst, error) {
	if len(buf) < NodeSize {
		return nil, core.DiscFormatError("fst: root node not found")
	}
	root := parseNode(buf[:NodeSize])
	if !root.IsDir() {
		return nil, core.DiscFormatError("fst: root node is not a directory")
	}

	count := root.Length()
	stringBase := count * NodeSize
	if stringBase > uint64(len(buf)) {
		return nil, core.DiscFormatErrorf("fst: string table out of bounds (node count %d)", count)
	}

	nodeBuf := buf[:stringBase]
	stringTable := buf[stringBase:]

	nodes := make([]Node, count)
	for i := range nodes {
		nodes[i] = parseNode(nodeBuf[i*NodeSize : i*NodeSize+NodeSize])
	}

	return &Fst{buf: buf, Nodes: nodes, StringTable: stringTable}, nil
}

// GetName decodes the Shift-JIS name of node, reading until the first NUL
// byte in the string table at its name offset.
func (f *Fst) GetName(node Node) (string, error) {
	off := node.NameOffset()
	if uint64(off) >= uint64(len(f.StringTable)) {
		return "", core.DiscFormatErrorf("fst: name offset %d out of bounds (string table size %d)", off, len(f.StringTable))
	}
	rest := f.StringTable[off:]
	nul := bytes.IndexByte(rest, 0)
	if nul < 0 {
		return "", core.DiscFormatErrorf("fst: name at offset %d not NUL-terminated", off)
	}
	raw := rest[:nul]

	decoded, err := japanese.ShiftJIS.NewDecoder().Bytes(raw)
	if err != nil {
		return "", core.DiscFormatErrorf("fst: failed to decode name at offset %d: %v", off, err)
	}
	return string(decoded), nil
}

// Entry is one element of an Fst iteration: the node's 1-based index, the
// node itself, and its lazily-decoded name. A decoding failure is reported
// in NameErr without terminating iteration.
type Entry struct {
	Index   int
	Node    Node
	Name    string
	NameErr error
}

// Iter returns the nodes in index order, starting at 1 (index 0 is the
// root and is never yielded). Each call to Iter starts a fresh iteration;
// the returned Iterator is not restartable.
func (f *Fst) Iter() *Iterator { return &Iterator{fst: f, idx: 1} }

// Iterator walks an Fst's nodes in order. Name decoding happens lazily per
// step and may fail independently of iteration terminating.
type Iterator struct {
	fst *Fst
	idx int
}

// Next returns the next entry, or false once every node has been visited.
func (it *Iterator) Next() (Entry, bool) {
	if it.idx >= len(it.fst.Nodes) {
		return Entry{}, false
	}
	node := it.fst.Nodes[it.idx]
	name, err := it.fst.GetName(node)
	e := Entry{Index: it.idx, Node: node, Name: name, NameErr: err}
	it.idx++
	return e, true
}

// Find locates a file or directory by a '/'-separated path, comparing each
// segment case-insensitively as ASCII. It returns the node's index and
// value, or false if no matching entry exists.
func (f *Fst) Find(path string) (int, Node, bool) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return 0, Node{}, false
	}
	current := segments[0]
	segments = segments[1:]

	idx := 1
	stopAt := -1
	for idx < len(f.Nodes) {
		node := f.Nodes[idx]
		name, err := f.GetName(node)
		if err == nil && equalFold(name, current) {
			if len(segments) > 0 {
				current = segments[0]
				segments = segments[1:]
			} else {
				return idx, node, true
			}
			// Descend into the matched directory.
			idx++
			stopAt = int(node.Length()) + idx
		} else if node.IsDir() {
			// Skip the unmatched directory's subtree.
			idx = int(node.Length())
		} else {
			idx++
		}
		if stopAt >= 0 && idx >= stopAt {
			break
		}
	}
	return 0, Node{}, false
}

func splitPath(path string) []string {
	trimmed := bytes.Trim([]byte(path), "/")
	if len(trimmed) == 0 {
		return nil
	}
	parts := bytes.Split(trimmed, []byte("/"))
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
