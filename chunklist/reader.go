package chunklist

import (
	"io"
	"sync"

	"github.com/buckyos/nds/internal/ndserr"
)

// Reader presents a List as a single sequential io.ReadCloser. All
// state transitions happen under mu, enforcing a single-cooperative-
// task invariant: the next chunk is never opened until the previous
// one's reader has been fully drained.
type Reader struct {
	mu          sync.Mutex
	provider    ChunkProvider
	list        *List
	autoCache   bool
	idx         int
	firstOffset int64
	pendingSeek bool

	current io.ReadSeekCloser
	closed  bool
}

// NewReader constructs a Reader starting at seekFrom within list's
// logical byte stream.
func NewReader(provider ChunkProvider, list *List, seekFrom int64, autoCache bool) (*Reader, error) {
	idx, within, err := list.GetChunkIndexByOffset(seekFrom)
	if err != nil {
		return nil, err
	}
	return &Reader{
		provider:    provider,
		list:        list,
		autoCache:   autoCache,
		idx:         idx,
		firstOffset: within,
		pendingSeek: true,
	}, nil
}

// Read pulls from the current chunk's reader until it is exhausted,
// then advances to the next chunk, opening it at offset 0 (or at the
// Reader's initial seek offset for the very first chunk it opens).
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ndserr.New(ndserr.InvalidState, "reader is closed")
	}

	for {
		if r.current == nil {
			if r.idx >= r.list.Len() {
				return 0, io.EOF
			}
			id, ok := r.list.GetChunk(r.idx)
			if !ok {
				return 0, io.EOF
			}

			seekFrom := int64(0)
			if r.pendingSeek {
				seekFrom = r.firstOffset
				r.pendingSeek = false
			}

			opened, _, err := r.provider.OpenChunkReader(id, seekFrom, r.autoCache)
			if err != nil {
				return 0, err
			}
			if r.closed {
				opened.Close()
				return 0, ndserr.New(ndserr.InvalidState, "reader is closed")
			}
			r.current = opened
		}

		n, err := r.current.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			r.current.Close()
			r.current = nil
			r.idx++
			continue
		}
		if err != nil {
			return 0, err
		}
	}
}

// Close releases the current chunk reader, if any, and marks the
// Reader unusable. Close takes the same lock as Read, so when called
// during an in-flight Read it waits for that Read, including any chunk
// open it is performing, to return; it does not abort the open.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.current != nil {
		err := r.current.Close()
		r.current = nil
		return err
	}
	return nil
}
