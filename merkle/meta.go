// Package merkle implements a streaming Merkle tree builder and
// verifier over fixed-size leaf blocks: a seekable hash-tree body from
// which any leaf's verification path can be retrieved in O(log N)
// reads.
package merkle

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/internal/ndserr"
)

// Meta describes the shape of one Merkle tree.
type Meta struct {
	DataSize   uint64
	LeafSize   uint32
	HashMethod chunking.HashMethod
}

// LeafCount returns ceil(DataSize / LeafSize).
func (m Meta) LeafCount() int {
	if m.LeafSize == 0 {
		return 0
	}
	return int((m.DataSize + uint64(m.LeafSize) - 1) / uint64(m.LeafSize))
}

// hashSize returns H, the digest size of HashMethod.
func (m Meta) hashSize() int {
	return m.HashMethod.HashSize()
}

func newHash(method chunking.HashMethod) (hash.Hash, error) {
	switch method {
	case chunking.SHA256:
		return sha256.New(), nil
	case chunking.SHA512:
		return sha512.New(), nil
	default:
		return nil, ndserr.New(ndserr.InvalidParam, "unknown hash method")
	}
}

// encodeMeta serializes Meta as a fixed binary layout:
//
//	8 bytes  LE uint64  data size
//	4 bytes  LE uint32  leaf size
//	1 byte             hash method tag length
//	N bytes            hash method tag (ascii)
//
// There is no "bincode" library in the Go ecosystem; a small
// fixed-field binary header is exactly what encoding/binary is for, so
// meta is hand-rolled rather than routed through a third-party codec.
func encodeMeta(m Meta) []byte {
	method := []byte(m.HashMethod)
	buf := make([]byte, 8+4+1+len(method))
	binary.LittleEndian.PutUint64(buf[0:8], m.DataSize)
	binary.LittleEndian.PutUint32(buf[8:12], m.LeafSize)
	buf[12] = byte(len(method))
	copy(buf[13:], method)
	return buf
}

func decodeMeta(buf []byte) (Meta, error) {
	if len(buf) < 13 {
		return Meta{}, ndserr.New(ndserr.InvalidData, "truncated merkle meta")
	}
	dataSize := binary.LittleEndian.Uint64(buf[0:8])
	leafSize := binary.LittleEndian.Uint32(buf[8:12])
	methodLen := int(buf[12])
	if len(buf) < 13+methodLen {
		return Meta{}, ndserr.New(ndserr.InvalidData, "truncated merkle meta method tag")
	}
	method := chunking.HashMethod(buf[13 : 13+methodLen])
	return Meta{DataSize: dataSize, LeafSize: leafSize, HashMethod: method}, nil
}

// shape describes the on-disk node layout derived purely from leafCount:
// counts[d] is the (possibly padded) node count at depth d, padded[d]
// records whether depth d needed a duplicate-right pad, and prevCount[d]
// is the cumulative node count of all shallower depths (prevCount[0]==0).
type shape struct {
	counts    []int
	padded    []bool
	realCount []int
	prevCount []int
}

// buildShape computes the complete-binary-tree shape for leafCount
// leaves under the padding rule: at any non-root depth, an odd count
// is raised to count+1 by duplicating the last node. The root is never
// padded. This only depends on leafCount, so the entire shape is known
// before a single leaf hash is appended.
func buildShape(leafCount int) shape {
	var s shape
	n := leafCount
	prev := 0
	for {
		padded := false
		real := n
		if n > 1 && n%2 == 1 {
			n++
			padded = true
		}
		s.counts = append(s.counts, n)
		s.padded = append(s.padded, padded)
		s.realCount = append(s.realCount, real)
		s.prevCount = append(s.prevCount, prev)
		prev += n
		if n == 1 {
			break
		}
		n = n / 2
	}
	return s
}

func (s shape) topDepth() int {
	return len(s.counts) - 1
}

func (s shape) totalNodeCount() int {
	total := 0
	for _, c := range s.counts {
		total += c
	}
	return total
}

// EstimateOutputBytes returns the total body size a Generator will
// write for the given parameters: meta_len + 4 + total_node_count * H.
func EstimateOutputBytes(dataSize uint64, leafSize uint32, method chunking.HashMethod) (uint64, error) {
	m := Meta{DataSize: dataSize, LeafSize: leafSize, HashMethod: method}
	if m.hashSize() == 0 {
		return 0, ndserr.New(ndserr.InvalidParam, "unknown hash method")
	}
	metaBytes := encodeMeta(m)
	s := buildShape(m.LeafCount())
	total := uint64(s.totalNodeCount()) * uint64(m.hashSize())
	return uint64(len(metaBytes)) + 4 + total, nil
}
