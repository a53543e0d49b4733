package chunking

import (
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"io"

	"github.com/buckyos/nds/internal/ndserr"
)

// Hasher computes a ChunkId over a byte stream incrementally, without
// buffering the whole stream in memory.
type Hasher struct {
	method HashMethod
	h      hash.Hash
	length uint64
}

// NewHasher creates a Hasher for the given method.
func NewHasher(method HashMethod) (*Hasher, error) {
	var h hash.Hash
	switch method {
	case SHA256:
		h = sha256.New()
	case SHA512:
		h = sha512.New()
	default:
		return nil, ndserr.New(ndserr.InvalidParam, "unknown hash method")
	}
	return &Hasher{method: method, h: h}, nil
}

// Update folds more bytes into the running digest.
func (h *Hasher) Update(p []byte) {
	h.h.Write(p)
	h.length += uint64(len(p))
}

// Finalize returns the plain (non-mix) ChunkId over everything written so far.
func (h *Hasher) Finalize() (ChunkId, error) {
	return NewChunkId(h.method, h.h.Sum(nil))
}

// FinalizeMix returns the length-prefixed ChunkId over everything
// written so far. The length is folded into the textual encoding only,
// never into the digest input, per spec.
func (h *Hasher) FinalizeMix() (ChunkId, error) {
	return NewMixChunkId(h.method, h.h.Sum(nil), h.length)
}

// Length returns the number of bytes folded in so far.
func (h *Hasher) Length() uint64 {
	return h.length
}

// CalcFromReader consumes r to EOF, computing a plain ChunkId and
// returning the total length read. It streams through a fixed buffer
// and never allocates O(size) memory.
func CalcFromReader(method HashMethod, r io.Reader) (ChunkId, int64, error) {
	h, err := NewHasher(method)
	if err != nil {
		return ChunkId{}, 0, err
	}

	buf := make([]byte, 64*1024)
	var total int64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			h.Update(buf[:n])
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return ChunkId{}, 0, ndserr.Wrap(ndserr.IoError, "read chunk stream", readErr)
		}
	}

	id, err := h.Finalize()
	if err != nil {
		return ChunkId{}, 0, err
	}
	return id, total, nil
}

// CalcMixFromReader is CalcFromReader's length-typed counterpart,
// producing a mix ChunkId whose encoded length matches the bytes read.
func CalcMixFromReader(method HashMethod, r io.Reader) (ChunkId, int64, error) {
	h, err := NewHasher(method)
	if err != nil {
		return ChunkId{}, 0, err
	}

	buf := make([]byte, 64*1024)
	var total int64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			h.Update(buf[:n])
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return ChunkId{}, 0, ndserr.Wrap(ndserr.IoError, "read chunk stream", readErr)
		}
	}

	id, err := h.FinalizeMix()
	if err != nil {
		return ChunkId{}, 0, err
	}
	return id, total, nil
}
