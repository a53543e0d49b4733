package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/internal/ndserr"
)

// byteRange is a half-open [Start, End) span of bytes already written
// to a partial chunk.
type byteRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// mergeRanges sorts and coalesces overlapping or adjacent ranges, the
// same normalization a resumable download keeps so its progress token
// never grows unbounded across many small writes.
func mergeRanges(ranges []byteRange) []byteRange {
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	out := []byteRange{ranges[0]}
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

func encodeProgressToken(ranges []byteRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = fmt.Sprintf("%d-%d", r.Start, r.End)
	}
	return strings.Join(parts, ",")
}

func decodeProgressToken(token string) ([]byteRange, error) {
	if token == "" {
		return nil, nil
	}
	parts := strings.Split(token, ",")
	ranges := make([]byteRange, 0, len(parts))
	for _, p := range parts {
		start, end, ok := strings.Cut(p, "-")
		if !ok {
			return nil, ndserr.New(ndserr.InvalidParam, fmt.Sprintf("malformed progress token segment %q", p))
		}
		s, err := strconv.ParseInt(start, 10, 64)
		if err != nil {
			return nil, ndserr.Wrap(ndserr.InvalidParam, "parse progress token start", err)
		}
		e, err := strconv.ParseInt(end, 10, 64)
		if err != nil {
			return nil, ndserr.Wrap(ndserr.InvalidParam, "parse progress token end", err)
		}
		ranges = append(ranges, byteRange{Start: s, End: e})
	}
	return mergeRanges(ranges), nil
}

// ChunkWriter is a resumable, write-once writer for a single chunk. Its
// zero state is an empty partial file; writes may arrive at arbitrary
// offsets and the writer coalesces covered ranges into an opaque
// progress token. The ranges are persisted to a sidecar file after each
// write, and reopening the chunk's writer reloads them from there; no
// call accepts a token back from the caller.
type ChunkWriter struct {
	mu       sync.Mutex
	store    *Store
	id       chunking.ChunkId
	partial  string
	progress string
	file     afero.File
	ranges   []byteRange
	released bool
}

// Progress returns the writer's current opaque progress token.
func (w *ChunkWriter) Progress() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return encodeProgressToken(w.ranges)
}

// WriteAt writes data at offset within the partial chunk and records
// the covered range, persisting the updated progress token so a crash
// between writes loses at most the in-flight write.
func (w *ChunkWriter) WriteAt(data []byte, offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return ndserr.New(ndserr.InvalidState, "writer already completed or released")
	}
	if _, err := w.file.WriteAt(data, offset); err != nil {
		return ndserr.Wrap(ndserr.IoError, "write chunk partial", err)
	}
	w.ranges = mergeRanges(append(w.ranges, byteRange{Start: offset, End: offset + int64(len(data))}))
	if err := w.persistProgress(); err != nil {
		return err
	}
	return nil
}

func (w *ChunkWriter) persistProgress() error {
	buf, err := json.Marshal(w.ranges)
	if err != nil {
		return ndserr.Wrap(ndserr.Internal, "marshal chunk progress", err)
	}
	if err := afero.WriteFile(w.store.fs, w.progress, buf, 0o644); err != nil {
		return ndserr.Wrap(ndserr.IoError, "write chunk progress sidecar", err)
	}
	return nil
}

// Release closes the writer's file handle and drops the per-chunk
// write lock without finalizing, leaving the partial file and its
// progress token intact for a later resume.
func (w *ChunkWriter) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.release()
}

func (w *ChunkWriter) release() error {
	if w.released {
		return nil
	}
	w.released = true
	err := w.file.Close()
	w.store.unlockChunk(w.id)
	if err != nil {
		return ndserr.Wrap(ndserr.IoError, "close chunk partial", err)
	}
	return nil
}
