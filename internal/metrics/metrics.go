// Package metrics exposes the Prometheus counters shared
// across the chunk store, NDM cache tier, and backup engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the metrics NDS components record against. A nil
// *Registry is valid and every method on it is a no-op, so components
// can be constructed without metrics in tests.
type Registry struct {
	ChunkWrites     *prometheus.CounterVec
	ChunkReads      *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	MerkleBuilds    prometheus.Counter
	BackupTaskState *prometheus.CounterVec
	ChunksUploaded  prometheus.Counter
	BytesUploaded   prometheus.Counter
}

// New registers and returns a Registry against reg. Pass
// prometheus.NewRegistry() in production, or nil to build an
// unregistered Registry suitable for tests that don't care about export.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ChunkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nds",
			Subsystem: "store",
			Name:      "chunk_writes_total",
			Help:      "Completed chunk writer finalizations by outcome.",
		}, []string{"outcome"}),
		ChunkReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nds",
			Subsystem: "store",
			Name:      "chunk_reads_total",
			Help:      "Chunk reader opens by outcome.",
		}, []string{"outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nds",
			Subsystem: "ndm",
			Name:      "cache_hits_total",
			Help:      "Chunk reads satisfied from a cache tier.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nds",
			Subsystem: "ndm",
			Name:      "cache_misses_total",
			Help:      "Chunk reads that fell through to a physical store.",
		}),
		MerkleBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nds",
			Subsystem: "merkle",
			Name:      "builds_total",
			Help:      "Completed Merkle tree builds.",
		}),
		BackupTaskState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nds",
			Subsystem: "backup",
			Name:      "task_state_transitions_total",
			Help:      "Backup task state machine transitions by resulting state.",
		}, []string{"state"}),
		ChunksUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nds",
			Subsystem: "backup",
			Name:      "chunks_uploaded_total",
			Help:      "Chunks successfully pushed to a remote chunk server.",
		}),
		BytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nds",
			Subsystem: "backup",
			Name:      "bytes_uploaded_total",
			Help:      "Bytes successfully pushed to remote chunk servers.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			r.ChunkWrites, r.ChunkReads, r.CacheHits, r.CacheMisses,
			r.MerkleBuilds, r.BackupTaskState, r.ChunksUploaded, r.BytesUploaded,
		)
	}
	return r
}

func (r *Registry) chunkWrite(outcome string) {
	if r == nil {
		return
	}
	r.ChunkWrites.WithLabelValues(outcome).Inc()
}

// ObserveChunkCompleted records a completed chunk writer finalization.
func (r *Registry) ObserveChunkCompleted() { r.chunkWrite("completed") }

// ObserveChunkCorrupted records a finalization that failed hash verification.
func (r *Registry) ObserveChunkCorrupted() { r.chunkWrite("corrupted") }

func (r *Registry) chunkRead(outcome string) {
	if r == nil {
		return
	}
	r.ChunkReads.WithLabelValues(outcome).Inc()
}

// ObserveChunkReadOK records a successful chunk reader open.
func (r *Registry) ObserveChunkReadOK() { r.chunkRead("ok") }

// ObserveChunkReadNotFound records a chunk reader open against a missing chunk.
func (r *Registry) ObserveChunkReadNotFound() { r.chunkRead("not_found") }

// ObserveCacheHit records a chunk read satisfied from a cache tier.
func (r *Registry) ObserveCacheHit() {
	if r == nil {
		return
	}
	r.CacheHits.Inc()
}

// ObserveCacheMiss records a chunk read that required a physical store.
func (r *Registry) ObserveCacheMiss() {
	if r == nil {
		return
	}
	r.CacheMisses.Inc()
}

// ObserveMerkleBuild records a completed Merkle tree build.
func (r *Registry) ObserveMerkleBuild() {
	if r == nil {
		return
	}
	r.MerkleBuilds.Inc()
}

// ObserveTaskState records a backup task state machine transition.
func (r *Registry) ObserveTaskState(state string) {
	if r == nil {
		return
	}
	r.BackupTaskState.WithLabelValues(state).Inc()
}

// ObserveChunkUploaded records a successful remote chunk push.
func (r *Registry) ObserveChunkUploaded(bytes int64) {
	if r == nil {
		return
	}
	r.ChunksUploaded.Inc()
	r.BytesUploaded.Add(float64(bytes))
}
