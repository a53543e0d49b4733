// Package storage implements the Backup Task Engine's durable schema:
// upload tasks, the files within them, and the chunks within those
// files, each transactionally consistent at the statement boundary.
package storage

// UploadTask is one checkpoint of one backed-up directory, uniquely
// keyed by (zone_id, key, version).
type UploadTask struct {
	TaskID          string `gorm:"column:task_id;primaryKey"`
	ZoneID          string `gorm:"column:zone_id;uniqueIndex:ux_zone_key_version"`
	Key             string `gorm:"column:key;uniqueIndex:ux_zone_key_version"`
	Version         int64  `gorm:"column:version;uniqueIndex:ux_zone_key_version"`
	PrevVersion     *int64 `gorm:"column:prev_version"`
	Meta            *string `gorm:"column:meta"`
	DirPath         string  `gorm:"column:dir_path"`
	Priority        int     `gorm:"column:priority"`
	IsManual        bool    `gorm:"column:is_manual"`
	RemoteTaskID    *string `gorm:"column:remote_task_id"`
	IsAllFilesReady bool    `gorm:"column:is_all_files_ready"`
	// FilesPrepareReadyAt is set once set_files_prepare_ready has been
	// acknowledged by the remote task manager; nil means the directory
	// snapshot is fully uploaded but that terminal call is still owed.
	FilesPrepareReadyAt *int64 `gorm:"column:files_prepare_ready_at"`
	LastFailAt          *int64 `gorm:"column:last_fail_at"`
	CreateAt            int64  `gorm:"column:create_at"`
	UpdateAt            int64  `gorm:"column:update_at"`
}

func (UploadTask) TableName() string { return "upload_tasks" }

// UploadFile is one file within a task's directory snapshot.
// RemoteFileID and ChunkSize are populated once the file's info has
// been pushed to the remote file server; their presence is the pushed
// memoization bit the engine's handshake needs to persist.
type UploadFile struct {
	TaskID       string  `gorm:"column:task_id;primaryKey"`
	FileSeq      int     `gorm:"column:file_seq;primaryKey"`
	FilePath     string  `gorm:"column:file_path;uniqueIndex:ux_task_file_path"`
	FileHash     string  `gorm:"column:file_hash"`
	FileSize     int64   `gorm:"column:file_size"`
	ChunkSize    *int64  `gorm:"column:chunk_size"`
	ServerType   *string `gorm:"column:server_type"`
	ServerName   *string `gorm:"column:server_name"`
	RemoteFileID *string `gorm:"column:remote_file_id"`
	LastFailAt   *int64  `gorm:"column:last_fail_at"`
	CreateAt     int64   `gorm:"column:create_at"`
	FinishAt     *int64  `gorm:"column:finish_at"`
}

func (UploadFile) TableName() string { return "upload_files" }

// UploadChunk is one chunk within one file of one task. RemoteChunkID
// is populated once add_chunk has been acknowledged by the remote file
// server (4.G step 6); its presence is the chunk-info-pushed bit.
type UploadChunk struct {
	TaskID        string  `gorm:"column:task_id;primaryKey"`
	FileSeq       int     `gorm:"column:file_seq;primaryKey"`
	ChunkSeq      int     `gorm:"column:chunk_seq;primaryKey"`
	ChunkHash     string  `gorm:"column:chunk_hash"`
	ServerType    *string `gorm:"column:server_type"`
	ServerName    *string `gorm:"column:server_name"`
	RemoteChunkID *string `gorm:"column:remote_chunk_id"`
	IsUploaded    bool    `gorm:"column:is_uploaded"`
	LastFailAt    *int64  `gorm:"column:last_fail_at"`
	CreateAt      int64   `gorm:"column:create_at"`
	FinishAt      *int64  `gorm:"column:finish_at"`
}

func (UploadChunk) TableName() string { return "upload_chunks" }

// TaskKey identifies a task's checkpoint lineage independent of version.
type TaskKey struct {
	ZoneID string
	Key    string
}
