package storage

import (
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/buckyos/nds/internal/ndserr"
)

// Storage owns the upload_tasks/upload_files/upload_chunks database
// that tracks backup task progress so a run can resume exactly where
// it left off.
type Storage struct {
	db *gorm.DB
}

// Open opens (creating if absent) the backup task database at dsn.
func Open(dsn string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, ndserr.Wrap(ndserr.DbError, "open backup task storage", err)
	}
	if err := db.AutoMigrate(&UploadTask{}, &UploadFile{}, &UploadChunk{}); err != nil {
		return nil, ndserr.Wrap(ndserr.DbError, "migrate backup task storage", err)
	}
	return &Storage{db: db}, nil
}

// nowUnix is overridable in tests; production uses wall-clock time.
var nowUnix = func() int64 { return time.Now().Unix() }

// EncodeMeta JSON-encodes an arbitrary meta bag for storage on a task row.
func EncodeMeta(meta map[string]interface{}) (*string, error) {
	if meta == nil {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, ndserr.Wrap(ndserr.InvalidData, "encode task meta", err)
	}
	s := string(raw)
	return &s, nil
}

// DecodeMeta decodes a task's stored meta bag into target via
// mapstructure, letting callers recover a strongly typed view of the
// free-form JSON blob without a second schema migration.
func DecodeMeta(meta *string, target interface{}) error {
	if meta == nil {
		return nil
	}
	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(*meta), &generic); err != nil {
		return ndserr.Wrap(ndserr.InvalidData, "unmarshal task meta", err)
	}
	if err := mapstructure.Decode(generic, target); err != nil {
		return ndserr.Wrap(ndserr.InvalidData, "decode task meta", err)
	}
	return nil
}

// CreateTaskWithFiles inserts task (assigning a fresh TaskID if unset)
// and its files atomically. Returns the task's id.
func (s *Storage) CreateTaskWithFiles(task UploadTask, files []UploadFile) (string, error) {
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	now := nowUnix()
	task.CreateAt = now
	task.UpdateAt = now

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&task).Error; err != nil {
			return ndserr.Wrap(ndserr.DbError, "insert task", err)
		}
		for i := range files {
			files[i].TaskID = task.TaskID
			files[i].CreateAt = now
			if err := tx.Create(&files[i]).Error; err != nil {
				return ndserr.Wrap(ndserr.DbError, "insert task file", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return task.TaskID, nil
}

// GetIncompleteTasks returns tasks not yet marked fully ready, oldest
// first, for driving the engine's run loop.
func (s *Storage) GetIncompleteTasks(offset, limit int) ([]UploadTask, error) {
	var tasks []UploadTask
	q := s.db.Where("is_all_files_ready = ?", false).Order("create_at ASC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, ndserr.Wrap(ndserr.DbError, "list incomplete tasks", err)
	}
	return tasks, nil
}

// GetIncompleteFiles returns the files of the task identified by key+version
// whose upload is not yet complete: either its chunk size is still
// unknown (never pushed) or fewer uploaded chunks exist than the file
// needs to be fully covered.
func (s *Storage) GetIncompleteFiles(key TaskKey, version int64, minSeq, limit int) ([]UploadFile, error) {
	task, err := s.getTaskByKeyVersion(key, version)
	if err != nil {
		return nil, err
	}

	const uploadedCountSubquery = `(SELECT COUNT(*) FROM upload_chunks uc
		WHERE uc.task_id = upload_files.task_id AND uc.file_seq = upload_files.file_seq AND uc.is_uploaded = 1)`

	var files []UploadFile
	q := s.db.Where("task_id = ? AND file_seq >= ?", task.TaskID, minSeq).
		Where("chunk_size IS NULL OR file_size > chunk_size * "+uploadedCountSubquery).
		Order("file_seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&files).Error; err != nil {
		return nil, ndserr.Wrap(ndserr.DbError, "list incomplete files", err)
	}
	return files, nil
}

func (s *Storage) getTaskByKeyVersion(key TaskKey, version int64) (UploadTask, error) {
	var task UploadTask
	err := s.db.First(&task, "zone_id = ? AND key = ? AND version = ?", key.ZoneID, key.Key, version).Error
	if err == gorm.ErrRecordNotFound {
		return UploadTask{}, ndserr.New(ndserr.NotFound, "task not found")
	}
	if err != nil {
		return UploadTask{}, ndserr.Wrap(ndserr.DbError, "lookup task", err)
	}
	return task, nil
}

// IsTaskInfoPushed reports whether taskID's remote_task_id has been recorded.
func (s *Storage) IsTaskInfoPushed(taskID string) (bool, error) {
	var task UploadTask
	if err := s.db.First(&task, "task_id = ?", taskID).Error; err != nil {
		return false, ndserr.Wrap(ndserr.DbError, "lookup task", err)
	}
	return task.RemoteTaskID != nil, nil
}

// SetTaskInfoPushed records the remote task id returned by a successful push.
func (s *Storage) SetTaskInfoPushed(taskID, remoteTaskID string) error {
	res := s.db.Model(&UploadTask{}).Where("task_id = ?", taskID).
		Updates(map[string]interface{}{"remote_task_id": remoteTaskID, "update_at": nowUnix()})
	if res.Error != nil {
		return ndserr.Wrap(ndserr.DbError, "set task info pushed", res.Error)
	}
	if res.RowsAffected == 0 {
		return ndserr.New(ndserr.NotFound, "task not found")
	}
	return nil
}

// IsFileInfoPushed reports whether the file's remote_file_id has been recorded.
func (s *Storage) IsFileInfoPushed(taskID string, fileSeq int) (bool, error) {
	var file UploadFile
	if err := s.db.First(&file, "task_id = ? AND file_seq = ?", taskID, fileSeq).Error; err != nil {
		return false, ndserr.Wrap(ndserr.DbError, "lookup file", err)
	}
	return file.RemoteFileID != nil, nil
}

// SetFileInfoPushed records the remote file server assignment for a file.
func (s *Storage) SetFileInfoPushed(taskID string, fileSeq int, serverType, serverName, remoteFileID string, chunkSize int64) error {
	res := s.db.Model(&UploadFile{}).Where("task_id = ? AND file_seq = ?", taskID, fileSeq).
		Updates(map[string]interface{}{
			"server_type":    serverType,
			"server_name":    serverName,
			"remote_file_id": remoteFileID,
			"chunk_size":     chunkSize,
		})
	if res.Error != nil {
		return ndserr.Wrap(ndserr.DbError, "set file info pushed", res.Error)
	}
	if res.RowsAffected == 0 {
		return ndserr.New(ndserr.NotFound, "file not found")
	}
	return nil
}

// IsChunkInfoPushed reports whether the chunk's remote_chunk_id has been recorded.
func (s *Storage) IsChunkInfoPushed(taskID string, fileSeq, chunkSeq int) (bool, error) {
	var chunk UploadChunk
	if err := s.db.First(&chunk, "task_id = ? AND file_seq = ? AND chunk_seq = ?", taskID, fileSeq, chunkSeq).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, ndserr.New(ndserr.NotFound, "chunk not found")
		}
		return false, ndserr.Wrap(ndserr.DbError, "lookup chunk", err)
	}
	return chunk.RemoteChunkID != nil, nil
}

// SetChunkInfoPushed inserts or updates the chunk's remote assignment.
func (s *Storage) SetChunkInfoPushed(taskID string, fileSeq, chunkSeq int, chunkHash, serverType, serverName, remoteChunkID string) error {
	row := UploadChunk{
		TaskID:        taskID,
		FileSeq:       fileSeq,
		ChunkSeq:      chunkSeq,
		ChunkHash:     chunkHash,
		ServerType:    &serverType,
		ServerName:    &serverName,
		RemoteChunkID: &remoteChunkID,
		CreateAt:      nowUnix(),
	}
	if err := s.db.Save(&row).Error; err != nil {
		return ndserr.Wrap(ndserr.DbError, "set chunk info pushed", err)
	}
	return nil
}

// IsChunkUploaded reports whether the chunk has finished uploading.
func (s *Storage) IsChunkUploaded(taskID string, fileSeq, chunkSeq int) (bool, error) {
	var chunk UploadChunk
	if err := s.db.First(&chunk, "task_id = ? AND file_seq = ? AND chunk_seq = ?", taskID, fileSeq, chunkSeq).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, ndserr.Wrap(ndserr.DbError, "lookup chunk", err)
	}
	return chunk.IsUploaded, nil
}

// SetChunkUploaded marks a chunk uploaded and stamps its finish time.
// It does not touch the file row; SetFileUploaded records the file's
// finish time separately, and the chunk-level bit stays the source of
// truth for what must be retried.
func (s *Storage) SetChunkUploaded(taskID string, fileSeq, chunkSeq int) error {
	now := nowUnix()
	res := s.db.Model(&UploadChunk{}).Where("task_id = ? AND file_seq = ? AND chunk_seq = ?", taskID, fileSeq, chunkSeq).
		Updates(map[string]interface{}{"is_uploaded": true, "finish_at": now})
	if res.Error != nil {
		return ndserr.Wrap(ndserr.DbError, "set chunk uploaded", res.Error)
	}
	if res.RowsAffected == 0 {
		return ndserr.New(ndserr.NotFound, "chunk not found")
	}
	return nil
}

// SetFileUploaded marks a file's upload finished. The engine calls it
// before the file's last SetChunkUploaded; the order does not matter
// for correctness, because completion is derived from chunk state and
// FinishAt here is informational.
func (s *Storage) SetFileUploaded(taskID string, fileSeq int) error {
	now := nowUnix()
	res := s.db.Model(&UploadFile{}).Where("task_id = ? AND file_seq = ?", taskID, fileSeq).
		Update("finish_at", now)
	if res.Error != nil {
		return ndserr.Wrap(ndserr.DbError, "set file uploaded", res.Error)
	}
	if res.RowsAffected == 0 {
		return ndserr.New(ndserr.NotFound, "file not found")
	}
	return nil
}

// SetTaskAllFilesReady marks a task's directory snapshot complete.
func (s *Storage) SetTaskAllFilesReady(taskID string) error {
	res := s.db.Model(&UploadTask{}).Where("task_id = ?", taskID).
		Updates(map[string]interface{}{"is_all_files_ready": true, "update_at": nowUnix()})
	if res.Error != nil {
		return ndserr.Wrap(ndserr.DbError, "set task all files ready", res.Error)
	}
	if res.RowsAffected == 0 {
		return ndserr.New(ndserr.NotFound, "task not found")
	}
	return nil
}

// RecordTaskFailure stamps last_fail_at on a task for backoff scheduling.
func (s *Storage) RecordTaskFailure(taskID string) error {
	res := s.db.Model(&UploadTask{}).Where("task_id = ?", taskID).
		Update("last_fail_at", nowUnix())
	if res.Error != nil {
		return ndserr.Wrap(ndserr.DbError, "record task failure", res.Error)
	}
	return nil
}

// IsFilesPrepareReady reports whether set_files_prepare_ready has
// already been acknowledged for taskID.
func (s *Storage) IsFilesPrepareReady(taskID string) (bool, error) {
	task, err := s.GetTask(taskID)
	if err != nil {
		return false, err
	}
	return task.FilesPrepareReadyAt != nil, nil
}

// SetFilesPrepareReady records that set_files_prepare_ready succeeded.
func (s *Storage) SetFilesPrepareReady(taskID string) error {
	now := nowUnix()
	res := s.db.Model(&UploadTask{}).Where("task_id = ?", taskID).
		Updates(map[string]interface{}{"files_prepare_ready_at": now, "update_at": now})
	if res.Error != nil {
		return ndserr.Wrap(ndserr.DbError, "set files prepare ready", res.Error)
	}
	if res.RowsAffected == 0 {
		return ndserr.New(ndserr.NotFound, "task not found")
	}
	return nil
}

// GetLastCheckPointVersion returns the highest restorable version for
// key, if any.
func (s *Storage) GetLastCheckPointVersion(key TaskKey) (int64, bool, error) {
	versions, err := s.GetCheckPointVersionListInRange(key, 0, 0, true)
	if err != nil {
		return 0, false, err
	}
	if len(versions) == 0 {
		return 0, false, nil
	}
	return versions[len(versions)-1], true, nil
}

// GetCheckPointVersionList returns every version known for key,
// restorable or not, ascending.
func (s *Storage) GetCheckPointVersionList(key TaskKey) ([]int64, error) {
	return s.GetCheckPointVersionListInRange(key, 0, 0, false)
}

// GetCheckPointVersionListInRange returns key's versions within
// [fromVersion, toVersion] (toVersion==0 means unbounded), optionally
// restricted to restorable checkpoints: all of a task's chunks
// uploaded and the task itself marked all-files-ready.
func (s *Storage) GetCheckPointVersionListInRange(key TaskKey, fromVersion, toVersion int64, restorableOnly bool) ([]int64, error) {
	var tasks []UploadTask
	q := s.db.Where("zone_id = ? AND key = ? AND version >= ?", key.ZoneID, key.Key, fromVersion)
	if toVersion > 0 {
		q = q.Where("version <= ?", toVersion)
	}
	if err := q.Order("version ASC").Find(&tasks).Error; err != nil {
		return nil, ndserr.Wrap(ndserr.DbError, "list checkpoint versions", err)
	}

	versions := make([]int64, 0, len(tasks))
	for _, task := range tasks {
		if !restorableOnly {
			versions = append(versions, task.Version)
			continue
		}
		restorable, err := s.isTaskRestorable(task)
		if err != nil {
			return nil, err
		}
		if restorable {
			versions = append(versions, task.Version)
		}
	}
	return versions, nil
}

func (s *Storage) isTaskRestorable(task UploadTask) (bool, error) {
	if !task.IsAllFilesReady {
		return false, nil
	}
	var pending int64
	err := s.db.Model(&UploadChunk{}).Where("task_id = ? AND is_uploaded = ?", task.TaskID, false).
		Count(&pending).Error
	if err != nil {
		return false, ndserr.Wrap(ndserr.DbError, "count pending chunks", err)
	}
	return pending == 0, nil
}

// GetFiles returns every file row registered for a task, ordered by sequence.
func (s *Storage) GetFiles(taskID string) ([]UploadFile, error) {
	var files []UploadFile
	if err := s.db.Where("task_id = ?", taskID).Order("file_seq ASC").Find(&files).Error; err != nil {
		return nil, ndserr.Wrap(ndserr.DbError, "list task files", err)
	}
	return files, nil
}

// GetFile returns a single file row.
func (s *Storage) GetFile(taskID string, fileSeq int) (UploadFile, error) {
	var file UploadFile
	err := s.db.First(&file, "task_id = ? AND file_seq = ?", taskID, fileSeq).Error
	if err == gorm.ErrRecordNotFound {
		return UploadFile{}, ndserr.New(ndserr.NotFound, "file not found")
	}
	if err != nil {
		return UploadFile{}, ndserr.Wrap(ndserr.DbError, "lookup file", err)
	}
	return file, nil
}

// GetChunk returns a single chunk row.
func (s *Storage) GetChunk(taskID string, fileSeq, chunkSeq int) (UploadChunk, error) {
	var chunk UploadChunk
	err := s.db.First(&chunk, "task_id = ? AND file_seq = ? AND chunk_seq = ?", taskID, fileSeq, chunkSeq).Error
	if err == gorm.ErrRecordNotFound {
		return UploadChunk{}, ndserr.New(ndserr.NotFound, "chunk not found")
	}
	if err != nil {
		return UploadChunk{}, ndserr.Wrap(ndserr.DbError, "lookup chunk", err)
	}
	return chunk, nil
}

// GetChunks returns every chunk row registered for a file, ordered by sequence.
func (s *Storage) GetChunks(taskID string, fileSeq int) ([]UploadChunk, error) {
	var chunks []UploadChunk
	if err := s.db.Where("task_id = ? AND file_seq = ?", taskID, fileSeq).Order("chunk_seq ASC").Find(&chunks).Error; err != nil {
		return nil, ndserr.Wrap(ndserr.DbError, "list file chunks", err)
	}
	return chunks, nil
}

// GetTask returns a task by id.
func (s *Storage) GetTask(taskID string) (UploadTask, error) {
	var task UploadTask
	err := s.db.First(&task, "task_id = ?", taskID).Error
	if err == gorm.ErrRecordNotFound {
		return UploadTask{}, ndserr.New(ndserr.NotFound, "task not found")
	}
	if err != nil {
		return UploadTask{}, ndserr.Wrap(ndserr.DbError, "lookup task", err)
	}
	return task, nil
}
