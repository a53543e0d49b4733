package engine_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/nds/backup/engine"
	"github.com/buckyos/nds/backup/storage"
)

type fakeTaskServer struct {
	pushed            []storage.UploadTask
	prepareReadyCalls int
	fileUploadedCalls []string
}

func (f *fakeTaskServer) PushTaskInfo(_ context.Context, task storage.UploadTask) (string, error) {
	f.pushed = append(f.pushed, task)
	return "remote-task-1", nil
}

func (f *fakeTaskServer) SetFilesPrepareReady(_ context.Context, remoteTaskID string) error {
	f.prepareReadyCalls++
	return nil
}

func (f *fakeTaskServer) SetFileUploaded(_ context.Context, remoteTaskID, filePath string) error {
	f.fileUploadedCalls = append(f.fileUploadedCalls, filePath)
	return nil
}

type fakeFileClient struct {
	addFileCalls  int
	addChunkCalls int
}

func (f *fakeFileClient) AddFile(_ context.Context, remoteTaskID string, file storage.UploadFile) (string, int64, error) {
	f.addFileCalls++
	return "remote-file-" + file.FilePath, 4, nil // chunk_size = 4 bytes
}

func (f *fakeFileClient) AddChunk(_ context.Context, remoteFileID string, chunkSeq int, chunkHash string, size int64) (string, string, string, error) {
	f.addChunkCalls++
	return "chunkserver", "primary", "remote-chunk", nil
}

func (f *fakeFileClient) SetChunkUploaded(_ context.Context, remoteFileID string, chunkSeq int) error {
	return nil
}

type fakeChunkClient struct {
	uploaded [][]byte
}

func (f *fakeChunkClient) UploadChunk(_ context.Context, remoteChunkID string, data []byte) error {
	cp := append([]byte(nil), data...)
	f.uploaded = append(f.uploaded, cp)
	return nil
}

func newTestEngine(t *testing.T) (*engine.Engine, *storage.Storage, *fakeTaskServer, *fakeFileClient, *fakeChunkClient) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "backup.db")
	s, err := storage.Open(dsn)
	require.NoError(t, err)

	ts := &fakeTaskServer{}
	fc := &fakeFileClient{}
	cc := &fakeChunkClient{}
	sel := engine.NewSelector(
		[]engine.TaskServer{ts},
		[]engine.FileServer{{Type: "fileserver", Name: "primary", Client: fc}},
		[]engine.ChunkServer{{Type: "chunkserver", Name: "primary", Client: cc}},
	)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "a.bin", []byte("0123456789"), 0o644)) // 10 bytes, chunk_size 4 -> 3 chunks
	require.NoError(t, afero.WriteFile(fs, "b.bin", []byte("xy"), 0o644))         // 2 bytes -> 1 chunk
	source := engine.NewLocalChunkSource(fs, "")

	e := engine.New(engine.Options{Storage: s, Selector: sel, Source: source})
	return e, s, ts, fc, cc
}

func newTwoFileTask(t *testing.T, s *storage.Storage) string {
	t.Helper()
	taskID, err := s.CreateTaskWithFiles(
		storage.UploadTask{ZoneID: "z", Key: "home", Version: 1, DirPath: "/"},
		[]storage.UploadFile{
			{FileSeq: 0, FilePath: "a.bin", FileHash: "hash-a", FileSize: 10},
			{FileSeq: 1, FilePath: "b.bin", FileHash: "hash-b", FileSize: 2},
		},
	)
	require.NoError(t, err)
	require.NoError(t, s.SetTaskAllFilesReady(taskID))
	return taskID
}

// TestBackupEngine_S4_TwoFileCheckpointRunsToSucceeded runs the seed
// scenario's two-file checkpoint through one uninterrupted RunOnce and
// checks it finishes with exactly one set_files_prepare_ready call. The
// resume half of the scenario is covered by
// TestBackupEngine_ResumeSkipsAlreadyUploadedChunks.
func TestBackupEngine_S4_TwoFileCheckpointRunsToSucceeded(t *testing.T) {
	e, s, ts, fc, cc := newTestEngine(t)
	taskID := newTwoFileTask(t, s)

	event := e.RunOnce(context.Background(), taskID)
	require.NoError(t, event.Err)
	assert.Equal(t, engine.StateSucceeded, event.State)
	assert.Equal(t, 1, ts.prepareReadyCalls)
	assert.Equal(t, 2, fc.addFileCalls)  // a.bin and b.bin
	assert.Equal(t, 4, fc.addChunkCalls) // 3 chunks for a.bin + 1 for b.bin
	assert.Len(t, cc.uploaded, 4)

	uploaded, err := s.IsChunkUploaded(taskID, 0, 0)
	require.NoError(t, err)
	assert.True(t, uploaded)
	uploaded, err = s.IsChunkUploaded(taskID, 0, 2)
	require.NoError(t, err)
	assert.True(t, uploaded)
}

// TestBackupEngine_ResumeSkipsAlreadyUploadedChunks simulates a crash
// by pre-marking the first two chunks of a.bin uploaded before the
// first RunOnce, and asserts the engine only uploads the remainder.
func TestBackupEngine_ResumeSkipsAlreadyUploadedChunks(t *testing.T) {
	e, s, ts, _, cc := newTestEngine(t)
	taskID := newTwoFileTask(t, s)

	require.NoError(t, s.SetTaskInfoPushed(taskID, "remote-task-1"))
	require.NoError(t, s.SetFileInfoPushed(taskID, 0, "fileserver", "primary", "remote-file-a.bin", 4))
	for seq := 0; seq < 2; seq++ {
		require.NoError(t, s.SetChunkInfoPushed(taskID, 0, seq, "hash", "chunkserver", "primary", "remote-chunk"))
		require.NoError(t, s.SetChunkUploaded(taskID, 0, seq))
	}

	event := e.RunOnce(context.Background(), taskID)
	require.NoError(t, event.Err)
	assert.Equal(t, engine.StateSucceeded, event.State)
	// Only chunk 2 of a.bin and the one chunk of b.bin were actually uploaded.
	assert.Len(t, cc.uploaded, 2)
	assert.Equal(t, 1, ts.prepareReadyCalls)
}

// TestBackupEngine_P6_RerunAfterSuccessIsIdempotent exercises property
// P6: running a completed task again produces no additional remote
// side effects.
func TestBackupEngine_P6_RerunAfterSuccessIsIdempotent(t *testing.T) {
	e, s, ts, fc, cc := newTestEngine(t)
	taskID := newTwoFileTask(t, s)

	first := e.RunOnce(context.Background(), taskID)
	require.Equal(t, engine.StateSucceeded, first.State)

	second := e.RunOnce(context.Background(), taskID)
	require.NoError(t, second.Err)
	assert.Equal(t, engine.StateSucceeded, second.State)

	assert.Equal(t, 1, ts.prepareReadyCalls)
	assert.Equal(t, 2, fc.addFileCalls)
	assert.Equal(t, 4, fc.addChunkCalls)
	assert.Len(t, cc.uploaded, 4)
}

func TestBackupEngine_Stop_HaltsAtNextBoundary(t *testing.T) {
	e, s, _, _, _ := newTestEngine(t)
	taskID := newTwoFileTask(t, s)

	e.Stop(taskID)
	event := e.RunOnce(context.Background(), taskID)
	assert.Equal(t, engine.StateStopped, event.State)
}

func TestBackupEngine_Pool_RunsManyTasksConcurrently(t *testing.T) {
	e, s, ts, _, _ := newTestEngine(t)
	taskA := newTwoFileTask(t, s)
	taskID2, err := s.CreateTaskWithFiles(
		storage.UploadTask{ZoneID: "z", Key: "other", Version: 1, DirPath: "/"},
		[]storage.UploadFile{{FileSeq: 0, FilePath: "b.bin", FileHash: "hash-b", FileSize: 2}},
	)
	require.NoError(t, err)
	require.NoError(t, s.SetTaskAllFilesReady(taskID2))

	pool := engine.NewPool(e, 2)
	events, err := pool.RunAll(context.Background(), []string{taskA, taskID2})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, engine.StateSucceeded, events[0].State)
	assert.Equal(t, engine.StateSucceeded, events[1].State)
	assert.Equal(t, 2, ts.prepareReadyCalls)
}
