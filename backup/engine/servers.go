package engine

import (
	"context"

	"github.com/buckyos/nds/backup/storage"
)

// TaskServer is the remote-side counterpart that owns a task's
// lifecycle: push_task_info, set_files_prepare_ready, set_file_uploaded.
type TaskServer interface {
	PushTaskInfo(ctx context.Context, task storage.UploadTask) (remoteTaskID string, err error)
	SetFilesPrepareReady(ctx context.Context, remoteTaskID string) error
	SetFileUploaded(ctx context.Context, remoteTaskID, filePath string) error
}

// FileServer is the remote-side counterpart that owns a file's chunk
// manifest: add_file, add_chunk, set_chunk_uploaded.
type FileServer struct {
	Type   string
	Name   string
	Client FileServerClient
}

// FileServerClient is the RPC surface a FileServer exposes.
type FileServerClient interface {
	AddFile(ctx context.Context, remoteTaskID string, file storage.UploadFile) (remoteFileID string, chunkSize int64, err error)
	// AddChunk registers a chunk against the file and tells the caller
	// which chunk server now owns its bytes.
	AddChunk(ctx context.Context, remoteFileID string, chunkSeq int, chunkHash string, size int64) (chunkServerType, chunkServerName, remoteChunkID string, err error)
	SetChunkUploaded(ctx context.Context, remoteFileID string, chunkSeq int) error
}

// ChunkServer is the remote-side counterpart that accepts chunk bytes.
type ChunkServer struct {
	Type   string
	Name   string
	Client ChunkServerClient
}

// ChunkServerClient is the RPC surface a ChunkServer exposes.
type ChunkServerClient interface {
	UploadChunk(ctx context.Context, remoteChunkID string, data []byte) error
}
