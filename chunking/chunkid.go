// Package chunking implements the content-addressed identifier types
// (ChunkId, ObjId) and the streaming hasher that produces them.
package chunking

import (
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/buckyos/nds/internal/ndserr"
)

// HashMethod identifies the digest algorithm backing a ChunkId.
type HashMethod string

const (
	// SHA256 is the default hash method.
	SHA256 HashMethod = "sha256"
	// SHA512 is available for larger security margins.
	SHA512 HashMethod = "sha512"
)

// HashSize returns the raw digest size for method, or 0 if unknown.
func (m HashMethod) HashSize() int {
	switch m {
	case SHA256:
		return 32
	case SHA512:
		return 64
	default:
		return 0
	}
}

func (m HashMethod) valid() bool {
	return m == SHA256 || m == SHA512
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ChunkId is the content-addressed name of a byte sequence.
//
// When MixLength is non-nil, the identifier is the length-prefixed
// "mix" variant: the serialized form folds the length into the
// encoding, not into the hash input (see MarshalText).
type ChunkId struct {
	Method    HashMethod
	Hash      []byte
	MixLength *uint64
}

// NewChunkId builds a plain (non-mix) ChunkId from a method and raw digest.
func NewChunkId(method HashMethod, hash []byte) (ChunkId, error) {
	if !method.valid() {
		return ChunkId{}, ndserr.New(ndserr.InvalidParam, fmt.Sprintf("unknown hash method %q", method))
	}
	if len(hash) != method.HashSize() {
		return ChunkId{}, ndserr.New(ndserr.InvalidParam, fmt.Sprintf("hash length %d does not match %s", len(hash), method))
	}
	out := make([]byte, len(hash))
	copy(out, hash)
	return ChunkId{Method: method, Hash: out}, nil
}

// NewMixChunkId builds a length-prefixed ChunkId for a variable-size chunk.
func NewMixChunkId(method HashMethod, hash []byte, length uint64) (ChunkId, error) {
	id, err := NewChunkId(method, hash)
	if err != nil {
		return ChunkId{}, err
	}
	id.MixLength = &length
	return id, nil
}

// IsMix reports whether id carries a length prefix.
func (id ChunkId) IsMix() bool {
	return id.MixLength != nil
}

// String renders id in its stable textual form:
//
//	plain: "<method>:<base32(hash)>"
//	mix:   "mix<method>:<base32(u64_BE(length) || hash)>"
func (id ChunkId) String() string {
	if id.IsMix() {
		buf := make([]byte, 8+len(id.Hash))
		binary.BigEndian.PutUint64(buf[:8], *id.MixLength)
		copy(buf[8:], id.Hash)
		return fmt.Sprintf("mix%s:%s", id.Method, b32encode(buf))
	}
	return fmt.Sprintf("%s:%s", id.Method, b32encode(id.Hash))
}

func b32encode(b []byte) string {
	return strings.ToLower(b32.EncodeToString(b))
}

func b32decode(s string) ([]byte, error) {
	return b32.DecodeString(strings.ToUpper(s))
}

// ParseChunkId parses the textual form produced by String.
func ParseChunkId(s string) (ChunkId, error) {
	methodPart, encoded, ok := strings.Cut(s, ":")
	if !ok {
		return ChunkId{}, ndserr.New(ndserr.InvalidParam, fmt.Sprintf("malformed chunk id %q", s))
	}

	isMix := strings.HasPrefix(methodPart, "mix")
	method := HashMethod(strings.TrimPrefix(methodPart, "mix"))
	if !method.valid() {
		return ChunkId{}, ndserr.New(ndserr.InvalidParam, fmt.Sprintf("unknown hash method in %q", s))
	}

	raw, err := b32decode(encoded)
	if err != nil {
		return ChunkId{}, ndserr.Wrap(ndserr.InvalidParam, "base32 decode chunk id", err)
	}

	if isMix {
		if len(raw) != 8+method.HashSize() {
			return ChunkId{}, ndserr.New(ndserr.InvalidParam, fmt.Sprintf("mix chunk id %q has wrong length", s))
		}
		length := binary.BigEndian.Uint64(raw[:8])
		return NewMixChunkId(method, raw[8:], length)
	}

	if len(raw) != method.HashSize() {
		return ChunkId{}, ndserr.New(ndserr.InvalidParam, fmt.Sprintf("chunk id %q has wrong length", s))
	}
	return NewChunkId(method, raw)
}

// ToObjId derives the ObjId view of a chunk: a "chunk"-typed object
// whose hash is the chunk's own digest (not the digest of a JSON body).
func (id ChunkId) ToObjId() ObjId {
	return ObjId{Type: "chunk", Hash: append([]byte(nil), id.Hash...)}
}

// Equal reports whether id and other name the same chunk.
func (id ChunkId) Equal(other ChunkId) bool {
	return id.String() == other.String()
}
