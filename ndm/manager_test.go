package ndm_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/ndm"
)

func newTestRegistry(t *testing.T) (*ndm.Registry, string) {
	t.Helper()
	root := t.TempDir()
	return ndm.NewRegistry(afero.NewOsFs(), nil), root
}

// TestNDM_S2_PathRebindingPreservesRefCounts exercises the seed
// scenario: two paths bound to the same object, then one path rebound
// to a different object (leaving each object at ref_count 1), and then
// removing the other path leaves the orphaned object at ref_count 0.
func TestNDM_S2_PathRebindingPreservesRefCounts(t *testing.T) {
	reg, root := newTestRegistry(t)
	mgr, err := reg.GetOrCreate("default", root)
	require.NoError(t, err)

	const o1 = "file:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	const o2 = "file:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

	require.NoError(t, mgr.CreateFile("/x", o1, "app", "user"))
	require.NoError(t, mgr.CreateFile("/y", o1, "app", "user"))

	count, err := mgr.RefCount(o1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, mgr.SetFile("/x", o2, "app", "user"))

	count, err = mgr.RefCount(o1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = mgr.RefCount(o2)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, mgr.RemoveFile("/y"))
	count, err = mgr.RefCount(o1)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestNDM_LongestPrefixLookup(t *testing.T) {
	reg, root := newTestRegistry(t)
	mgr, err := reg.GetOrCreate("default", root)
	require.NoError(t, err)

	const oDir = "file:1111111111111111111111111111111111111111111111111111111111111111"
	const oFile = "file:2222222222222222222222222222222222222222222222222222222222222222"

	require.NoError(t, mgr.CreateFile("/a/b", oDir, "app", "user"))
	require.NoError(t, mgr.CreateFile("/a/b/c", oFile, "app", "user"))

	result, err := mgr.SelectObjIdByPath("/a/b/c/d")
	require.NoError(t, err)
	assert.Equal(t, oFile, result.ObjID)
	assert.Equal(t, "/d", result.Remainder)
}

func TestNDM_RemoveDir_RemovesAllBoundPaths(t *testing.T) {
	reg, root := newTestRegistry(t)
	mgr, err := reg.GetOrCreate("default", root)
	require.NoError(t, err)

	const obj = "file:3333333333333333333333333333333333333333333333333333333333333333"
	require.NoError(t, mgr.CreateFile("/dir/a", obj, "app", "user"))
	require.NoError(t, mgr.CreateFile("/dir/b", obj, "app", "user"))

	require.NoError(t, mgr.RemoveDir("/dir/"))
	_, err = mgr.GetObjIdByPath("/dir/a")
	assert.Error(t, err)
	count, err := mgr.RefCount(obj)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestNDM_ChunkWriteReadRoundTrip(t *testing.T) {
	reg, root := newTestRegistry(t)
	mgr, err := reg.GetOrCreate("default", root)
	require.NoError(t, err)

	data := []byte("round trip payload")
	id, _, err := chunking.CalcFromReader(chunking.SHA256, bytes.NewReader(data))
	require.NoError(t, err)

	require.NoError(t, mgr.OpenChunkWriter(id))
	require.NoError(t, mgr.UpdateChunkProgress(id, data, 0))
	final, err := mgr.CompleteChunkWriter(id)
	require.NoError(t, err)
	assert.True(t, final.Equal(id))

	have, err := mgr.HaveChunk(id)
	require.NoError(t, err)
	assert.True(t, have)

	r, size, err := mgr.OpenChunkReader(id, 0, false)
	require.NoError(t, err)
	defer r.Close()
	assert.EqualValues(t, len(data), size)
}

func TestNDM_PubLocalFileAsFileObj(t *testing.T) {
	reg, root := newTestRegistry(t)
	mgr, err := reg.GetOrCreate("default", root)
	require.NoError(t, err)

	localFs := afero.NewMemMapFs()
	localPath := filepath.Join("src", "hello.txt")
	require.NoError(t, localFs.MkdirAll("src", 0o755))
	require.NoError(t, afero.WriteFile(localFs, localPath, []byte("published content"), 0o644))

	fileObjID, err := mgr.PubLocalFileAsFileObj(localFs, localPath, "/pub/hello.txt", "/pub/hello.txt.content",
		map[string]interface{}{"template": "basic"}, "user", "app")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fileObjID.String(), "file:"))

	boundFile, err := mgr.GetObjIdByPath("/pub/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, fileObjID.String(), boundFile)

	_, err = mgr.GetObjIdByPath("/pub/hello.txt.content")
	require.NoError(t, err)
}
