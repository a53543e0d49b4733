package merkle

import (
	"io"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/internal/ndserr"
)

// Generator streams a Merkle tree body to a random-access sink, one
// leaf hash at a time. Memory use is O(tree height): at most one
// pending sibling per depth is held at once, mirroring the stack
// hexfusion-fray's tree builder keeps while folding blocks bottom-up.
type Generator struct {
	meta  Meta
	shape shape
	sink  io.WriterAt
	h     int // digest size
	base  int64

	pending  [][]byte // one slot per depth, nil if empty
	lastNode [][]byte
	emitted  []int

	leavesAppended int
	root           []byte
	done           bool
}

// NewGenerator creates a Generator that writes its meta header to sink
// immediately, then streams node bytes at their precomputed offsets as
// leaf hashes are appended.
func NewGenerator(dataSize uint64, leafSize uint32, method chunking.HashMethod, sink io.WriterAt) (*Generator, error) {
	meta := Meta{DataSize: dataSize, LeafSize: leafSize, HashMethod: method}
	if meta.hashSize() == 0 {
		return nil, ndserr.New(ndserr.InvalidParam, "unknown hash method")
	}
	if leafSize == 0 {
		return nil, ndserr.New(ndserr.InvalidParam, "leaf size must be positive")
	}

	if meta.LeafCount() == 0 {
		return nil, ndserr.New(ndserr.InvalidParam, "data size must be positive")
	}

	metaBytes := encodeMeta(meta)
	header := make([]byte, 4+len(metaBytes))
	putUint32LE(header[:4], uint32(len(metaBytes)))
	copy(header[4:], metaBytes)
	if _, err := sink.WriteAt(header, 0); err != nil {
		return nil, ndserr.Wrap(ndserr.IoError, "write merkle meta header", err)
	}

	s := buildShape(meta.LeafCount())
	g := &Generator{
		meta:     meta,
		shape:    s,
		sink:     sink,
		h:        meta.hashSize(),
		base:     int64(len(header)),
		pending:  make([][]byte, len(s.counts)),
		lastNode: make([][]byte, len(s.counts)),
		emitted:  make([]int, len(s.counts)),
	}
	return g, nil
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// AppendLeafHashes feeds one or more real leaf digests, in order, into
// the tree. Each call may push one or more completed upper-layer nodes
// out to the sink as pairs complete; when a layer's real node count is
// odd, the padding duplicate is synthesized and folded in automatically.
func (g *Generator) AppendLeafHashes(hashes [][]byte) error {
	if g.done {
		return ndserr.New(ndserr.InvalidState, "generator already finalized")
	}
	for _, h := range hashes {
		if len(h) != g.h {
			return ndserr.New(ndserr.InvalidParam, "leaf hash has wrong length for hash method")
		}
		if g.leavesAppended >= g.meta.LeafCount() {
			return ndserr.New(ndserr.InvalidState, "more leaves appended than leaf_count")
		}
		if err := g.feed(0, h); err != nil {
			return err
		}
		g.leavesAppended++
	}
	return nil
}

// feed writes h as the next node at depth, then either records it as
// root (top depth), or pairs it with a pending sibling to promote a
// parent to depth+1. It also synthesizes the duplicate-right padding
// node once depth's real node count is reached, if that depth needed one.
func (g *Generator) feed(depth int, h []byte) error {
	idx := g.emitted[depth]
	offset := g.base + int64(g.shape.prevCount[depth]+idx)*int64(g.h)
	if _, err := g.sink.WriteAt(h, offset); err != nil {
		return ndserr.Wrap(ndserr.IoError, "write merkle node", err)
	}
	g.lastNode[depth] = h
	g.emitted[depth]++

	if depth == g.shape.topDepth() {
		g.root = h
	} else {
		if g.pending[depth] == nil {
			g.pending[depth] = h
		} else {
			left := g.pending[depth]
			g.pending[depth] = nil
			parent := hashPair(g.meta.HashMethod, left, h)
			if err := g.feed(depth+1, parent); err != nil {
				return err
			}
		}
	}

	if g.emitted[depth] == g.shape.realCount[depth] && g.shape.padded[depth] {
		dup := append([]byte(nil), g.lastNode[depth]...)
		return g.feed(depth, dup)
	}
	return nil
}

// Finalize checks that exactly leaf_count leaves were appended and
// returns the computed root hash.
func (g *Generator) Finalize() (chunking.ChunkId, error) {
	if g.done {
		return chunking.ChunkId{}, ndserr.New(ndserr.InvalidState, "generator already finalized")
	}
	if g.leavesAppended != g.meta.LeafCount() {
		return chunking.ChunkId{}, ndserr.New(ndserr.InvalidState, "fewer leaves appended than leaf_count")
	}
	g.done = true
	return chunking.NewChunkId(g.meta.HashMethod, g.root)
}

func hashPair(method chunking.HashMethod, left, right []byte) []byte {
	h, err := newHash(method)
	if err != nil {
		// method was validated at construction; unreachable.
		panic(err)
	}
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
