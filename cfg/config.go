// Package cfg defines the configuration surface for an NDS process:
// named-data-manager defaults, the backup engine's concurrency and
// throttling knobs, and the ambient logging options.
package cfg

// Config is the top-level configuration for an NDS process.
type Config struct {
	// NDM configures the default Named Data Manager.
	NDM NDMConfig `yaml:"ndm"`

	// Backup configures the Backup Task Engine.
	Backup BackupConfig `yaml:"backup"`

	// Logging configures internal/logging.
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig describes one physical chunk/object store backing an NDM.
type StoreConfig struct {
	// Root is the on-disk directory for this store.
	Root string `yaml:"root"`
	// ReadOnly marks a store that never accepts writes (e.g. a mirror).
	ReadOnly bool `yaml:"read-only"`
}

// NDMConfig is the manager configuration persisted as ndn_mgr.json.
type NDMConfig struct {
	// MgrID identifies this manager in the process-wide registry.
	MgrID string `yaml:"mgr-id"`

	// Stores are consulted in order for reads and writes ("primary-store-first").
	Stores []StoreConfig `yaml:"stores"`

	// CacheRoot is an optional nearest-tier disk cache directory.
	CacheRoot string `yaml:"cache-root"`

	// CacheCapacityBytes bounds the disk cache; 0 means unbounded.
	CacheCapacityBytes int64 `yaml:"cache-capacity-bytes"`

	// PinnedObjects are ObjId/ChunkId strings exempt from GC eligibility
	// even at ref_count == 0. NDS only exposes the pin check; any GC
	// scheduler that consults it lives outside this core.
	PinnedObjects []string `yaml:"pinned-objects"`
}

// BackupConfig configures the Backup Task Engine's manager.
type BackupConfig struct {
	// StoragePath is the sqlite file backing backup/storage.
	StoragePath string `yaml:"storage-path"`

	// MaxConcurrentTasks bounds how many tasks run at once.
	MaxConcurrentTasks int `yaml:"max-concurrent-tasks"`

	// DefaultChunkSize is used when a task doesn't specify one.
	DefaultChunkSize int64 `yaml:"default-chunk-size"`

	// UploadBandwidthBytesPerSec throttles chunk uploads; 0 disables throttling.
	UploadBandwidthBytesPerSec int64 `yaml:"upload-bandwidth-bytes-per-sec"`

	// RetryBaseDelayMS is the initial ErrorAndRetry backoff.
	RetryBaseDelayMS int64 `yaml:"retry-base-delay-ms"`

	// RetryMaxDelayMS caps the exponential backoff.
	RetryMaxDelayMS int64 `yaml:"retry-max-delay-ms"`

	// FailAfterMS transitions a task to Fail once it has been retrying
	// this long since its first recorded failure.
	FailAfterMS int64 `yaml:"fail-after-ms"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	Development bool   `yaml:"development"`
}
