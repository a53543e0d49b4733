package cfg

// Default is the configuration used when no config file is given or
// the file is missing: a single local store at ./, no cache. The ndm
// registry does not use it; its ndn_mgr.json fallback is rooted at the
// manager's own root.
func Default() Config {
	return Config{
		NDM: NDMConfig{
			MgrID:  "default",
			Stores: []StoreConfig{{Root: "./"}},
		},
		Backup: BackupConfig{
			StoragePath:        "./backup_tasks.db",
			MaxConcurrentTasks: 8,
			DefaultChunkSize:   4 << 20, // 4 MiB
			RetryBaseDelayMS:   1000,
			RetryMaxDelayMS:    5 * 60 * 1000,
			FailAfterMS:        24 * 60 * 60 * 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
