package cfg

import "fmt"

// Validate reports the first structural problem found in c, or nil.
func Validate(c Config) error {
	if c.NDM.MgrID == "" {
		return fmt.Errorf("ndm.mgr-id must not be empty")
	}
	if len(c.NDM.Stores) == 0 {
		return fmt.Errorf("ndm.stores must have at least one entry")
	}
	for i, s := range c.NDM.Stores {
		if s.Root == "" {
			return fmt.Errorf("ndm.stores[%d].root must not be empty", i)
		}
	}
	if c.Backup.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("backup.max-concurrent-tasks must be positive")
	}
	if c.Backup.DefaultChunkSize <= 0 {
		return fmt.Errorf("backup.default-chunk-size must be positive")
	}
	if c.Backup.RetryBaseDelayMS <= 0 {
		return fmt.Errorf("backup.retry-base-delay-ms must be positive")
	}
	if c.Backup.RetryMaxDelayMS < c.Backup.RetryBaseDelayMS {
		return fmt.Errorf("backup.retry-max-delay-ms must be >= retry-base-delay-ms")
	}
	return nil
}
