package merkle

import (
	"bytes"
	"io"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/internal/ndserr"
)

// PathEntry is one hash in a leaf's verification path: the hash stored
// at StreamIndex, needed to climb from a leaf to the root.
type PathEntry struct {
	Depth       int
	StreamIndex int
	Hash        []byte
}

// MerkleTreeObject is a loaded, verifiable Merkle tree body. Loading
// reads every leaf once to recompute the root independently of the
// stored upper-layer bytes; after that, verification paths are served
// with single seeks against the underlying reader.
type MerkleTreeObject struct {
	meta  Meta
	shape shape
	r     io.ReaderAt
	base  int64
	root  []byte
}

// LoadFromReader parses the meta header at the front of r and
// recomputes the tree's root hash from its leaf layer, using the same
// merge algorithm a Generator uses to build one.
func LoadFromReader(r io.ReaderAt) (*MerkleTreeObject, error) {
	lenBuf := make([]byte, 4)
	if _, err := r.ReadAt(lenBuf, 0); err != nil {
		return nil, ndserr.Wrap(ndserr.IoError, "read merkle meta length", err)
	}
	metaLen := uint32(lenBuf[0]) | uint32(lenBuf[1])<<8 | uint32(lenBuf[2])<<16 | uint32(lenBuf[3])<<24

	metaBuf := make([]byte, metaLen)
	if _, err := r.ReadAt(metaBuf, 4); err != nil {
		return nil, ndserr.Wrap(ndserr.IoError, "read merkle meta body", err)
	}
	meta, err := decodeMeta(metaBuf)
	if err != nil {
		return nil, err
	}
	if meta.hashSize() == 0 {
		return nil, ndserr.New(ndserr.InvalidData, "merkle meta has unknown hash method")
	}

	s := buildShape(meta.LeafCount())
	base := int64(4) + int64(metaLen)
	h := meta.hashSize()

	leaves := make([][]byte, meta.LeafCount())
	for i := range leaves {
		buf := make([]byte, h)
		offset := base + int64(i)*int64(h)
		if _, err := r.ReadAt(buf, offset); err != nil {
			return nil, ndserr.Wrap(ndserr.IoError, "read merkle leaf", err)
		}
		leaves[i] = buf
	}

	root, err := recomputeRoot(meta.HashMethod, s, leaves)
	if err != nil {
		return nil, err
	}

	return &MerkleTreeObject{meta: meta, shape: s, r: r, base: base, root: root}, nil
}

// recomputeRoot runs the same pending-pair merge as Generator.feed, but
// purely in memory: it never trusts the stored upper-layer bytes.
func recomputeRoot(method chunking.HashMethod, s shape, leaves [][]byte) ([]byte, error) {
	pending := make([][]byte, len(s.counts))
	lastNode := make([][]byte, len(s.counts))
	emitted := make([]int, len(s.counts))
	var root []byte

	var feed func(depth int, h []byte)
	feed = func(depth int, h []byte) {
		emitted[depth]++
		lastNode[depth] = h
		if depth == s.topDepth() {
			root = h
		} else if pending[depth] == nil {
			pending[depth] = h
		} else {
			left := pending[depth]
			pending[depth] = nil
			feed(depth+1, hashPair(method, left, h))
		}
		if emitted[depth] == s.realCount[depth] && s.padded[depth] {
			feed(depth, append([]byte(nil), lastNode[depth]...))
		}
	}

	for _, leaf := range leaves {
		feed(0, leaf)
	}
	if root == nil {
		return nil, ndserr.New(ndserr.InvalidState, "no leaves to build a root from")
	}
	return root, nil
}

// Meta returns the tree's shape parameters.
func (m *MerkleTreeObject) Meta() Meta { return m.meta }

// Root returns the recomputed root as a ChunkId.
func (m *MerkleTreeObject) Root() (chunking.ChunkId, error) {
	return chunking.NewChunkId(m.meta.HashMethod, m.root)
}

// VerifyPathByLeafIndex returns the O(log N) sequence of sibling hashes
// needed to climb from leaf leafIndex to the root, ending with the root
// node itself.
func (m *MerkleTreeObject) VerifyPathByLeafIndex(leafIndex int) ([]PathEntry, error) {
	if leafIndex < 0 || leafIndex >= m.meta.LeafCount() {
		return nil, ndserr.New(ndserr.InvalidParam, "leaf index out of range")
	}

	h := m.meta.hashSize()
	readNode := func(depth, idx int) ([]byte, error) {
		streamIdx := m.shape.prevCount[depth] + idx
		buf := make([]byte, h)
		offset := m.base + int64(streamIdx)*int64(h)
		if _, err := m.r.ReadAt(buf, offset); err != nil {
			return nil, ndserr.Wrap(ndserr.IoError, "read merkle node", err)
		}
		return buf, nil
	}

	var path []PathEntry
	idx := leafIndex
	for d := 0; d < m.shape.topDepth(); d++ {
		siblingIdx := idx ^ 1
		hash, err := readNode(d, siblingIdx)
		if err != nil {
			return nil, err
		}
		path = append(path, PathEntry{Depth: d, StreamIndex: m.shape.prevCount[d] + siblingIdx, Hash: hash})
		idx = idx / 2
	}

	top := m.shape.topDepth()
	rootHash, err := readNode(top, 0)
	if err != nil {
		return nil, err
	}
	path = append(path, PathEntry{Depth: top, StreamIndex: m.shape.prevCount[top], Hash: rootHash})
	return path, nil
}

// VerifyLeafAgainstPath rehashes leafHash up through path and reports
// whether the result matches path's final (root) entry. It depends only
// on leafCount and method, so it can validate a path received from a
// remote peer without having loaded the full tree body.
func VerifyLeafAgainstPath(method chunking.HashMethod, leafCount int, leafIndex int, leafHash []byte, path []PathEntry) (bool, error) {
	if leafIndex < 0 || leafIndex >= leafCount {
		return false, ndserr.New(ndserr.InvalidParam, "leaf index out of range")
	}
	s := buildShape(leafCount)
	if len(path) != s.topDepth()+1 {
		return false, ndserr.New(ndserr.InvalidData, "verification path has wrong length")
	}

	cur := leafHash
	idx := leafIndex
	for d := 0; d < s.topDepth(); d++ {
		sibling := path[d].Hash
		if idx%2 == 0 {
			cur = hashPair(method, cur, sibling)
		} else {
			cur = hashPair(method, sibling, cur)
		}
		idx = idx / 2
	}

	root := path[len(path)-1].Hash
	return bytes.Equal(cur, root), nil
}
