package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetGlobals clears the package-level state Execute populates, so
// each test gets a fresh registry/storage rooted at its own temp dir.
func resetGlobals(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	cfgFile = ""
	mgrID = "default"
	mgrRoot = filepath.Join(dir, "mgr")
	configFileErr = nil
	log = nil
	registry = nil
	backupStorage = nil
	initConfig()
	config.Backup.StoragePath = filepath.Join(dir, "backup.db")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestNdsctl_ChunkPut(t *testing.T) {
	resetGlobals(t)
	require.NoError(t, setup())
	dir := t.TempDir()
	localFile := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(localFile, []byte("hello world"), 0o644))

	_, err := runCLI(t, "chunk", "put", localFile)
	require.NoError(t, err)

	mgr, err := currentManager()
	require.NoError(t, err)
	require.NotNil(t, mgr)
}

func TestNdsctl_PathAndObjectRoundTrip(t *testing.T) {
	resetGlobals(t)
	require.NoError(t, setup())
	mgr, err := currentManager()
	require.NoError(t, err)

	id, err := mgr.PutObject("demo", map[string]interface{}{"hello": "world"})
	require.NoError(t, err)

	require.NoError(t, mgr.CreateFile("/a/b", id.String(), "app1", "user1"))

	resolved, err := mgr.GetObjIdByPath("/a/b")
	require.NoError(t, err)
	assert.Equal(t, id.String(), resolved)

	count, err := mgr.RefCount(id.String())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNdsctl_BackupCreateAndListIncomplete(t *testing.T) {
	resetGlobals(t)
	require.NoError(t, setup())

	_, err := runCLI(t, "backup", "create", "--zone-id", "z", "--key", "home", "--version", "1", "a.bin", "b.bin")
	require.NoError(t, err)

	out, err := runCLI(t, "backup", "list-incomplete")
	require.NoError(t, err)
	assert.Contains(t, out, `"ZoneID": "z"`)
	assert.Contains(t, out, `"Key": "home"`)
}
