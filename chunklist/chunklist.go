// Package chunklist implements the streaming adaptor that presents an
// ordered sequence of chunks as a single sequential reader.
package chunklist

import (
	"io"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/internal/ndserr"
)

// Entry is one chunk in a list, carrying the size needed to do offset
// arithmetic without opening the chunk.
type Entry struct {
	ID   chunking.ChunkId
	Size int64
}

// List is an ordered, fixed sequence of chunks.
type List struct {
	entries []Entry
	total   int64
}

// NewList builds a List from entries, in order.
func NewList(entries []Entry) *List {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return &List{entries: entries, total: total}
}

// Len returns the number of chunks in the list.
func (l *List) Len() int { return len(l.entries) }

// TotalSize returns the sum of every chunk's size.
func (l *List) TotalSize() int64 { return l.total }

// GetChunk returns the ChunkId at index i.
func (l *List) GetChunk(i int) (chunking.ChunkId, bool) {
	if i < 0 || i >= len(l.entries) {
		return chunking.ChunkId{}, false
	}
	return l.entries[i].ID, true
}

// GetChunkIndexByOffset locates the chunk containing byte offset
// within the logical concatenation of the list, and the offset within
// that chunk.
func (l *List) GetChunkIndexByOffset(offset int64) (int, int64, error) {
	if offset < 0 || offset > l.total {
		return 0, 0, ndserr.New(ndserr.InvalidParam, "seek offset out of range")
	}
	if offset == l.total {
		return len(l.entries), 0, nil
	}
	var consumed int64
	for i, e := range l.entries {
		if offset < consumed+e.Size {
			return i, offset - consumed, nil
		}
		consumed += e.Size
	}
	return len(l.entries), 0, nil
}

// ChunkProvider is the subset of ndm.Manager's chunk-read surface a
// Reader needs. Depending on this interface instead of ndm.Manager
// directly keeps chunklist free of a package cycle with ndm, which
// constructs Readers by passing itself.
type ChunkProvider interface {
	OpenChunkReader(id chunking.ChunkId, seekFrom int64, autoCache bool) (io.ReadSeekCloser, int64, error)
}
