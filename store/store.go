package store

import (
	"encoding/json"
	"io"
	"path"
	"sync"

	"github.com/spf13/afero"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/internal/metrics"
	"github.com/buckyos/nds/internal/ndserr"
)

// Store is one physical chunk + object store rooted at a directory on
// fs. Every write-side operation is write-once: a chunk or object that
// already exists at its content-addressed path is never overwritten.
type Store struct {
	fs       afero.Fs
	root     string
	readOnly bool
	metrics  *metrics.Registry

	locksMu sync.Mutex
	locks   map[string]struct{}
}

// New opens a Store rooted at root on fs. fs is typically
// afero.NewOsFs() in production and afero.NewMemMapFs() in tests,
// following the pack's convention of keeping storage code testable
// against an in-memory filesystem.
func New(fs afero.Fs, root string, readOnly bool, m *metrics.Registry) *Store {
	return &Store{
		fs:       fs,
		root:     root,
		readOnly: readOnly,
		metrics:  m,
		locks:    make(map[string]struct{}),
	}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// ReadOnly reports whether the store accepts writes.
func (s *Store) ReadOnly() bool { return s.readOnly }

func (s *Store) lockChunk(id chunking.ChunkId) error {
	key := id.String()
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if _, busy := s.locks[key]; busy {
		return ndserr.New(ndserr.Busy, "chunk is being written by another writer")
	}
	s.locks[key] = struct{}{}
	return nil
}

func (s *Store) unlockChunk(id chunking.ChunkId) {
	key := id.String()
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.locks, key)
}

// IsChunkExist reports whether id has a completed chunk in this store.
func (s *Store) IsChunkExist(id chunking.ChunkId) (bool, error) {
	exists, err := afero.Exists(s.fs, chunkPath(s.root, id))
	if err != nil {
		return false, ndserr.Wrap(ndserr.IoError, "stat chunk", err)
	}
	return exists, nil
}

// QueryChunkState reports id's current lifecycle state in this store
// and, for a Partial chunk, its resumable progress token.
func (s *Store) QueryChunkState(id chunking.ChunkId) (ChunkState, string, error) {
	if exists, err := afero.Exists(s.fs, chunkPath(s.root, id)); err != nil {
		return ChunkNotExist, "", ndserr.Wrap(ndserr.IoError, "stat chunk", err)
	} else if exists {
		return ChunkCompleted, "", nil
	}

	if exists, err := afero.Exists(s.fs, chunkCorruptedPath(s.root, id)); err != nil {
		return ChunkNotExist, "", ndserr.Wrap(ndserr.IoError, "stat corrupted chunk", err)
	} else if exists {
		return ChunkCorrupted, "", nil
	}

	partial := chunkPartialPath(s.root, id)
	if exists, err := afero.Exists(s.fs, partial); err != nil {
		return ChunkNotExist, "", ndserr.Wrap(ndserr.IoError, "stat partial chunk", err)
	} else if exists {
		ranges, err := s.readProgress(id)
		if err != nil {
			return ChunkNotExist, "", err
		}
		return ChunkPartial, encodeProgressToken(ranges), nil
	}

	return ChunkNotExist, "", nil
}

func (s *Store) readProgress(id chunking.ChunkId) ([]byteRange, error) {
	buf, err := afero.ReadFile(s.fs, chunkProgressPath(s.root, id))
	if err != nil {
		return nil, nil // no sidecar yet means no recorded ranges
	}
	var ranges []byteRange
	if err := json.Unmarshal(buf, &ranges); err != nil {
		return nil, ndserr.Wrap(ndserr.InvalidData, "decode chunk progress sidecar", err)
	}
	return ranges, nil
}

// OpenChunkReader opens a completed chunk for reading.
func (s *Store) OpenChunkReader(id chunking.ChunkId) (afero.File, error) {
	exists, err := s.IsChunkExist(id)
	if err != nil {
		return nil, err
	}
	if !exists {
		if s.metrics != nil {
			s.metrics.ObserveChunkReadNotFound()
		}
		return nil, ndserr.New(ndserr.NotFound, "chunk not found")
	}
	f, err := s.fs.Open(chunkPath(s.root, id))
	if err != nil {
		return nil, ndserr.Wrap(ndserr.IoError, "open chunk", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveChunkReadOK()
	}
	return f, nil
}

// OpenChunkWriter begins or resumes a write-once write against id.
// Only one writer may be open for a given id at a time; a second
// concurrent open returns Busy.
func (s *Store) OpenChunkWriter(id chunking.ChunkId) (*ChunkWriter, error) {
	if s.readOnly {
		return nil, ndserr.New(ndserr.PermissionDenied, "store is read-only")
	}
	if exists, err := s.IsChunkExist(id); err != nil {
		return nil, err
	} else if exists {
		return nil, ndserr.New(ndserr.AlreadyExists, "chunk already completed")
	}
	if err := s.lockChunk(id); err != nil {
		return nil, err
	}

	partial := chunkPartialPath(s.root, id)
	if err := s.fs.MkdirAll(path.Dir(partial), 0o755); err != nil {
		s.unlockChunk(id)
		return nil, ndserr.Wrap(ndserr.IoError, "create partial chunk dir", err)
	}
	f, err := s.fs.OpenFile(partial, flagCreateReadWrite(), 0o644)
	if err != nil {
		s.unlockChunk(id)
		return nil, ndserr.Wrap(ndserr.IoError, "open partial chunk", err)
	}

	ranges, err := s.readProgress(id)
	if err != nil {
		f.Close()
		s.unlockChunk(id)
		return nil, err
	}

	return &ChunkWriter{
		store:    s,
		id:       id,
		partial:  partial,
		progress: chunkProgressPath(s.root, id),
		file:     f,
		ranges:   ranges,
	}, nil
}

// CompleteChunkWriter verifies w's full content hashes to id, and if so
// atomically publishes it as the completed chunk, releasing w's lock
// either way. A hash mismatch quarantines the partial bytes instead of
// discarding them, so the corruption can be inspected.
func (s *Store) CompleteChunkWriter(w *ChunkWriter) (chunking.ChunkId, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return chunking.ChunkId{}, ndserr.New(ndserr.InvalidState, "writer already completed or released")
	}

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return chunking.ChunkId{}, ndserr.Wrap(ndserr.IoError, "seek partial chunk", err)
	}
	actual, _, err := chunking.CalcFromReader(w.id.Method, w.file)
	if err != nil {
		return chunking.ChunkId{}, err
	}

	if !actual.Equal(w.id) {
		w.file.Close()
		w.released = true
		s.unlockChunk(w.id)
		corrupted := chunkCorruptedPath(s.root, w.id)
		if err := s.fs.MkdirAll(path.Dir(corrupted), 0o755); err == nil {
			_ = s.fs.Rename(w.partial, corrupted)
		}
		_ = s.fs.Remove(w.progress)
		if s.metrics != nil {
			s.metrics.ObserveChunkCorrupted()
		}
		return chunking.ChunkId{}, ndserr.New(ndserr.InvalidData, "chunk content does not match declared id")
	}

	if err := w.file.Close(); err != nil {
		return chunking.ChunkId{}, ndserr.Wrap(ndserr.IoError, "close partial chunk", err)
	}

	final := chunkPath(s.root, w.id)
	if err := s.fs.MkdirAll(path.Dir(final), 0o755); err != nil {
		return chunking.ChunkId{}, ndserr.Wrap(ndserr.IoError, "create chunk dir", err)
	}
	if err := s.fs.Rename(w.partial, final); err != nil {
		return chunking.ChunkId{}, ndserr.Wrap(ndserr.IoError, "finalize chunk", err)
	}
	_ = s.fs.Remove(w.progress)

	w.released = true
	s.unlockChunk(w.id)
	if s.metrics != nil {
		s.metrics.ObserveChunkCompleted()
	}
	return actual, nil
}

// GetObject reads a stored object's canonical JSON body.
func (s *Store) GetObject(id chunking.ObjId) (json.RawMessage, error) {
	buf, err := afero.ReadFile(s.fs, objectPath(s.root, id))
	if err != nil {
		return nil, ndserr.New(ndserr.NotFound, "object not found")
	}
	return buf, nil
}

// PutObject computes v's canonical-JSON ObjId and stores it, if not
// already present. Because the path is content-addressed, a repeat
// PutObject of the same value is a safe no-op.
func (s *Store) PutObject(objType string, v interface{}) (chunking.ObjId, error) {
	if s.readOnly {
		return chunking.ObjId{}, ndserr.New(ndserr.PermissionDenied, "store is read-only")
	}
	id, canonical, err := chunking.PutObjectId(objType, v)
	if err != nil {
		return chunking.ObjId{}, err
	}

	target := objectPath(s.root, id)
	if exists, err := afero.Exists(s.fs, target); err != nil {
		return chunking.ObjId{}, ndserr.Wrap(ndserr.IoError, "stat object", err)
	} else if exists {
		return id, nil
	}

	if err := s.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
		return chunking.ObjId{}, ndserr.Wrap(ndserr.IoError, "create object dir", err)
	}
	tmp := target + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, canonical, 0o644); err != nil {
		return chunking.ObjId{}, ndserr.Wrap(ndserr.IoError, "write object temp file", err)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		return chunking.ObjId{}, ndserr.Wrap(ndserr.IoError, "finalize object", err)
	}
	return id, nil
}
