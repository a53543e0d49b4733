// Package ndm implements the Named Data Manager: the public facade
// over one or more physical chunk/object stores plus cache tiers, and
// the owner of the durable path↔object binding index.
package ndm

import (
	"encoding/json"
	"io"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/internal/metrics"
	"github.com/buckyos/nds/internal/ndserr"
	"github.com/buckyos/nds/store"
)

// Manager is the named data manager facade. mu guards only the
// open-writer table and the pinned set: OpenChunkWriter,
// UpdateChunkProgress, CompleteChunkWriter and IsPinned take it, and
// the writer calls stream bodies outside it. Chunk reads, object and
// path methods do not take mu; they rely on each store's per-chunk
// locks and the path index's database locking.
type Manager struct {
	id string

	mu          sync.Mutex
	mmap        *store.Store // nearest, fastest tier (optional)
	cache       *store.Store // local-disk cache tier (optional)
	stores      []*store.Store
	idx         *pathIndex
	metrics     *metrics.Registry
	sf          singleflight.Group
	openWriters map[string]*openWriter
	pinned      map[string]bool
}

type openWriter struct {
	storeIdx int
	writer   *store.ChunkWriter
}

// Options constructs a Manager's store topology.
type Options struct {
	ID      string
	Mmap    *store.Store
	Cache   *store.Store
	Stores  []*store.Store // ordered, first is primary
	Index   *pathIndex
	Metrics *metrics.Registry
	Pinned  []string
}

func newManager(opts Options) *Manager {
	pinned := make(map[string]bool, len(opts.Pinned))
	for _, p := range opts.Pinned {
		pinned[p] = true
	}
	return &Manager{
		id:          opts.ID,
		mmap:        opts.Mmap,
		cache:       opts.Cache,
		stores:      opts.Stores,
		idx:         opts.Index,
		metrics:     opts.Metrics,
		openWriters: make(map[string]*openWriter),
		pinned:      pinned,
	}
}

// ID returns the manager's mgr_id.
func (m *Manager) ID() string { return m.id }

// IsPinned reports whether objID is named in the manager's pinned
// object list, a read-only hint consulted by an external GC policy;
// the manager itself never reclaims storage.
func (m *Manager) IsPinned(objID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinned[objID]
}

func (m *Manager) readTiers() []*store.Store {
	var tiers []*store.Store
	if m.mmap != nil {
		tiers = append(tiers, m.mmap)
	}
	if m.cache != nil {
		tiers = append(tiers, m.cache)
	}
	tiers = append(tiers, m.stores...)
	return tiers
}

// HaveChunk reports whether id is completed in any tier.
func (m *Manager) HaveChunk(id chunking.ChunkId) (bool, error) {
	for _, s := range m.readTiers() {
		exists, err := s.IsChunkExist(id)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

// QueryChunkState reports id's state, preferring the nearest tier that
// has any record of it at all.
func (m *Manager) QueryChunkState(id chunking.ChunkId) (store.ChunkState, string, error) {
	for _, s := range m.readTiers() {
		state, token, err := s.QueryChunkState(id)
		if err != nil {
			return store.ChunkNotExist, "", err
		}
		if state != store.ChunkNotExist {
			return state, token, nil
		}
	}
	return store.ChunkNotExist, "", nil
}

// OpenChunkReader opens id for reading, trying the mmap tier, then the
// disk cache, then the ordered physical stores, returning the first
// hit. If autoCache is set and the hit came from a tier other than the
// nearest configured one, a best-effort copy into the nearest tier is
// kicked off in the background; its failure never affects this read.
func (m *Manager) OpenChunkReader(id chunking.ChunkId, seekFrom int64, autoCache bool) (io.ReadSeekCloser, int64, error) {
	tiers := m.readTiers()
	for i, s := range tiers {
		f, err := s.OpenChunkReader(id)
		if err != nil {
			if ndserr.Is(err, ndserr.NotFound) {
				continue
			}
			return nil, 0, err
		}
		info, statErr := f.Stat()
		if statErr != nil {
			f.Close()
			return nil, 0, ndserr.Wrap(ndserr.IoError, "stat chunk", statErr)
		}
		if seekFrom != 0 {
			if _, err := f.Seek(seekFrom, io.SeekStart); err != nil {
				f.Close()
				return nil, 0, ndserr.Wrap(ndserr.IoError, "seek chunk", err)
			}
		}
		if m.metrics != nil {
			if i < len(tiers)-len(m.stores) {
				m.metrics.ObserveCacheHit()
			} else {
				m.metrics.ObserveCacheMiss()
			}
		}
		if autoCache && i > 0 {
			nearest := m.nearestCacheTier()
			if nearest != nil {
				go m.fillCache(nearest, id)
			}
		}
		return f, info.Size(), nil
	}
	return nil, 0, ndserr.New(ndserr.NotFound, "chunk not found in any tier")
}

func (m *Manager) nearestCacheTier() *store.Store {
	if m.mmap != nil {
		return m.mmap
	}
	return m.cache
}

// fillCache materializes id into tier in the background. It dedupes
// concurrent fills of the same chunk via singleflight, and swallows
// every error: cache population is always best-effort.
func (m *Manager) fillCache(tier *store.Store, id chunking.ChunkId) {
	_, _, _ = m.sf.Do(tier.Root()+"/"+id.String(), func() (interface{}, error) {
		if exists, err := tier.IsChunkExist(id); err == nil && exists {
			return nil, nil
		}
		src, _, err := m.OpenChunkReader(id, 0, false)
		if err != nil {
			return nil, nil
		}
		defer src.Close()
		w, err := tier.OpenChunkWriter(id)
		if err != nil {
			return nil, nil
		}
		buf := make([]byte, 64*1024)
		var offset int64
		for {
			n, readErr := src.Read(buf)
			if n > 0 {
				if writeErr := w.WriteAt(buf[:n], offset); writeErr != nil {
					w.Release()
					return nil, nil
				}
				offset += int64(n)
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				w.Release()
				return nil, nil
			}
		}
		_, _ = tier.CompleteChunkWriter(w)
		return nil, nil
	})
}

// OpenChunkWriter opens id for writing against the first physical
// store willing to accept it (primary-store-first), registering the
// handle under id for the subsequent UpdateChunkProgress/
// CompleteChunkWriter calls the RPC surface makes by id alone.
func (m *Manager) OpenChunkWriter(id chunking.ChunkId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, already := m.openWriters[id.String()]; already {
		return ndserr.New(ndserr.Busy, "chunk writer already open")
	}

	var lastErr error
	for i, s := range m.stores {
		w, err := s.OpenChunkWriter(id)
		if err == nil {
			m.openWriters[id.String()] = &openWriter{storeIdx: i, writer: w}
			return nil
		}
		if ndserr.Is(err, ndserr.Busy) || ndserr.Is(err, ndserr.AlreadyExists) {
			return err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ndserr.New(ndserr.PermissionDenied, "no writable store configured")
	}
	return lastErr
}

// UpdateChunkProgress writes data at offset into id's open writer.
func (m *Manager) UpdateChunkProgress(id chunking.ChunkId, data []byte, offset int64) error {
	m.mu.Lock()
	ow, ok := m.openWriters[id.String()]
	m.mu.Unlock()
	if !ok {
		return ndserr.New(ndserr.InvalidState, "no open writer for chunk")
	}
	return ow.writer.WriteAt(data, offset)
}

// CompleteChunkWriter finalizes id's open writer.
func (m *Manager) CompleteChunkWriter(id chunking.ChunkId) (chunking.ChunkId, error) {
	m.mu.Lock()
	ow, ok := m.openWriters[id.String()]
	if ok {
		delete(m.openWriters, id.String())
	}
	m.mu.Unlock()
	if !ok {
		return chunking.ChunkId{}, ndserr.New(ndserr.InvalidState, "no open writer for chunk")
	}
	return m.stores[ow.storeIdx].CompleteChunkWriter(ow.writer)
}

// GetObject reads a stored object body, optionally extracting a
// "/"-separated JSON pointer subpath from it.
func (m *Manager) GetObject(id chunking.ObjId, innerJSONPath string) (json.RawMessage, error) {
	var raw json.RawMessage
	var err error
	for _, s := range m.readTiers() {
		raw, err = s.GetObject(id)
		if err == nil {
			break
		}
	}
	if raw == nil {
		return nil, ndserr.New(ndserr.NotFound, "object not found in any tier")
	}
	if innerJSONPath == "" {
		return raw, nil
	}
	return extractJSONPointer(raw, innerJSONPath)
}

func extractJSONPointer(raw json.RawMessage, pointer string) (json.RawMessage, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, ndserr.Wrap(ndserr.InvalidData, "decode object body", err)
	}
	cur := generic
	for _, seg := range strings.Split(strings.Trim(pointer, "/"), "/") {
		if seg == "" {
			continue
		}
		switch v := cur.(type) {
		case map[string]interface{}:
			next, ok := v[seg]
			if !ok {
				return nil, ndserr.New(ndserr.NotFound, "json pointer segment not found")
			}
			cur = next
		default:
			return nil, ndserr.New(ndserr.InvalidParam, "json pointer descends into a non-object")
		}
	}
	out, err := json.Marshal(cur)
	if err != nil {
		return nil, ndserr.Wrap(ndserr.Internal, "marshal json pointer result", err)
	}
	return out, nil
}

// PutObject stores body under the write-once layout of the first
// physical store that accepts it (primary-store-first).
func (m *Manager) PutObject(objType string, body interface{}) (chunking.ObjId, error) {
	var lastErr error
	for _, s := range m.stores {
		id, err := s.PutObject(objType, body)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ndserr.New(ndserr.PermissionDenied, "no writable store configured")
	}
	return chunking.ObjId{}, lastErr
}

// SignPathObj attaches a signed JWT to an existing path binding.
func (m *Manager) SignPathObj(path, signedJWT string) error {
	return m.idx.SignPathObj(path, signedJWT)
}

// CreateFile binds path to objID, incrementing its reference count.
func (m *Manager) CreateFile(path, objID, appID, userID string) error {
	return m.idx.CreateFile(path, objID, appID, userID)
}

// SetFile rebinds path to newObjID.
func (m *Manager) SetFile(path, newObjID, appID, userID string) error {
	return m.idx.SetFile(path, newObjID, appID, userID)
}

// RemoveFile removes path's binding.
func (m *Manager) RemoveFile(path string) error {
	return m.idx.RemoveFile(path)
}

// RemoveDir removes every binding under prefix.
func (m *Manager) RemoveDir(prefix string) error {
	return m.idx.RemoveDir(prefix)
}

// GetObjIdByPath resolves path's exact binding.
func (m *Manager) GetObjIdByPath(path string) (string, error) {
	row, err := m.idx.GetObjIdByPath(path)
	if err != nil {
		return "", err
	}
	return row.ChunkID, nil
}

// SelectResult is the outcome of a longest-prefix path lookup.
type SelectResult struct {
	ObjID     string
	SignedJWT *string
	Remainder string
}

// SelectObjIdByPath resolves the longest bound prefix of query.
func (m *Manager) SelectObjIdByPath(query string) (SelectResult, error) {
	row, remainder, err := m.idx.SelectObjIdByPath(query)
	if err != nil {
		return SelectResult{}, err
	}
	return SelectResult{ObjID: row.ChunkID, SignedJWT: row.JWT, Remainder: remainder}, nil
}

// RefCount returns objID's current reference count.
func (m *Manager) RefCount(objID string) (int, error) {
	return m.idx.RefCount(objID)
}
