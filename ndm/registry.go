package ndm

import (
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/buckyos/nds/internal/metrics"
	"github.com/buckyos/nds/internal/ndserr"
	"github.com/buckyos/nds/store"
)

// Registry is the process-wide NAMED_DATA_MGR_MAP: a mutex-guarded
// mgr_id → *Manager map. Only GetOrCreate mutates it.
type Registry struct {
	mu       sync.Mutex
	fs       afero.Fs
	metrics  *metrics.Registry
	managers map[string]*Manager
}

// NewRegistry creates an empty registry. fs backs every store opened
// through it; production processes pass afero.NewOsFs().
func NewRegistry(fs afero.Fs, m *metrics.Registry) *Registry {
	return &Registry{
		fs:       fs,
		metrics:  m,
		managers: make(map[string]*Manager),
	}
}

// GetOrCreate returns the manager for mgrID, auto-initializing it from
// <root>/ndn_mgr.json (or its documented defaults if absent) on first
// access.
func (r *Registry) GetOrCreate(mgrID, root string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[mgrID]; ok {
		return m, nil
	}

	cfgVal, err := loadManagerConfig(root, mgrID)
	if err != nil {
		return nil, err
	}

	if err := r.fs.MkdirAll(root, 0o755); err != nil {
		return nil, ndserr.Wrap(ndserr.IoError, "create manager root", err)
	}

	stores := make([]*store.Store, 0, len(cfgVal.Stores))
	for _, sc := range cfgVal.Stores {
		if err := r.fs.MkdirAll(sc.Root, 0o755); err != nil {
			return nil, ndserr.Wrap(ndserr.IoError, "create store root", err)
		}
		stores = append(stores, store.New(r.fs, sc.Root, sc.ReadOnly, r.metrics))
	}
	if len(stores) == 0 {
		return nil, ndserr.New(ndserr.InvalidParam, "manager has no configured stores")
	}

	var cache *store.Store
	if cfgVal.CacheRoot != "" {
		if err := r.fs.MkdirAll(cfgVal.CacheRoot, 0o755); err != nil {
			return nil, ndserr.Wrap(ndserr.IoError, "create cache root", err)
		}
		cache = store.New(r.fs, cfgVal.CacheRoot, false, r.metrics)
	}

	idx, err := openPathIndex(filepath.Join(root, "ndn_mgr.db"))
	if err != nil {
		return nil, err
	}

	mgr := newManager(Options{
		ID:      cfgVal.MgrID,
		Cache:   cache,
		Stores:  stores,
		Index:   idx,
		Metrics: r.metrics,
		Pinned:  cfgVal.PinnedObjects,
	})
	r.managers[mgrID] = mgr
	return mgr, nil
}

// Get returns an already-created manager, or nil if mgrID was never initialized.
func (r *Registry) Get(mgrID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.managers[mgrID]
}
