package store_test

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/store"
)

func chunkOf(t *testing.T, data string) (chunking.ChunkId, string) {
	t.Helper()
	id, _, err := chunking.CalcFromReader(chunking.SHA256, strings.NewReader(data))
	require.NoError(t, err)
	return id, data
}

func TestStore_WriteOnceRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := store.New(fs, "/root", false, nil)

	id, data := chunkOf(t, "hello chunk store")

	exists, err := s.IsChunkExist(id)
	require.NoError(t, err)
	assert.False(t, exists)

	w, err := s.OpenChunkWriter(id)
	require.NoError(t, err)
	require.NoError(t, w.WriteAt([]byte(data), 0))

	final, err := s.CompleteChunkWriter(w)
	require.NoError(t, err)
	assert.True(t, final.Equal(id))

	exists, err = s.IsChunkExist(id)
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := s.OpenChunkReader(id)
	require.NoError(t, err)
	defer r.Close()
	buf := make([]byte, len(data))
	_, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, data, string(buf))
}

func TestStore_OpenChunkWriter_BusyOnSecondOpen(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := store.New(fs, "/root", false, nil)
	id, _ := chunkOf(t, "concurrent")

	w1, err := s.OpenChunkWriter(id)
	require.NoError(t, err)
	defer w1.Release()

	_, err = s.OpenChunkWriter(id)
	require.Error(t, err)
}

func TestStore_OpenChunkWriter_RejectsAlreadyCompleted(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := store.New(fs, "/root", false, nil)
	id, data := chunkOf(t, "final")

	w, err := s.OpenChunkWriter(id)
	require.NoError(t, err)
	require.NoError(t, w.WriteAt([]byte(data), 0))
	_, err = s.CompleteChunkWriter(w)
	require.NoError(t, err)

	_, err = s.OpenChunkWriter(id)
	assert.Error(t, err)
}

func TestStore_CompleteChunkWriter_RejectsHashMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := store.New(fs, "/root", false, nil)
	id, _ := chunkOf(t, "expected content")

	w, err := s.OpenChunkWriter(id)
	require.NoError(t, err)
	require.NoError(t, w.WriteAt([]byte("wrong content"), 0))

	_, err = s.CompleteChunkWriter(w)
	assert.Error(t, err)

	state, _, err := s.QueryChunkState(id)
	require.NoError(t, err)
	assert.Equal(t, store.ChunkCorrupted, state)
}

func TestStore_ResumableWriter_SurvivesReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := store.New(fs, "/root", false, nil)
	data := "resumable payload split across two writes"
	id, _ := chunkOf(t, data)

	w, err := s.OpenChunkWriter(id)
	require.NoError(t, err)
	half := len(data) / 2
	require.NoError(t, w.WriteAt([]byte(data[:half]), 0))
	token := w.Progress()
	require.NoError(t, w.Release())

	state, resumeToken, err := s.QueryChunkState(id)
	require.NoError(t, err)
	assert.Equal(t, store.ChunkPartial, state)
	assert.Equal(t, token, resumeToken)

	w2, err := s.OpenChunkWriter(id)
	require.NoError(t, err)
	require.NoError(t, w2.WriteAt([]byte(data[half:]), int64(half)))
	final, err := s.CompleteChunkWriter(w2)
	require.NoError(t, err)
	assert.True(t, final.Equal(id))
}

func TestStore_PutObject_IsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := store.New(fs, "/root", false, nil)

	body := map[string]interface{}{"name": "dir", "entries": []interface{}{"a", "b"}}
	id1, err := s.PutObject("file", body)
	require.NoError(t, err)
	id2, err := s.PutObject("file", body)
	require.NoError(t, err)
	assert.True(t, id1.Equal(id2))

	raw, err := s.GetObject(id1)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"entries"`)
}

func TestStore_GetObject_NotFound(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := store.New(fs, "/root", false, nil)
	_, err := s.GetObject(chunking.ObjId{Type: "file", Hash: make([]byte, 32)})
	assert.Error(t, err)
}

func TestStore_ReadOnly_RejectsWrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := store.New(fs, "/root", true, nil)
	id, _ := chunkOf(t, "blocked")
	_, err := s.OpenChunkWriter(id)
	assert.Error(t, err)
	_, err = s.PutObject("file", map[string]interface{}{"a": 1})
	assert.Error(t, err)
}
