package merkle_test

import (
	"bytes"
	"crypto/sha256"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/merkle"
)

// memSink is a growable io.WriterAt backed by a byte slice, standing in
// for a chunk store's file handle in these tests.
type memSink struct {
	mu  sync.Mutex
	buf []byte
}

func (s *memSink) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(s.buf)) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[off:end], p)
	return len(p), nil
}

func (s *memSink) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if off >= int64(len(s.buf)) {
		return 0, io.EOF
	}
	n := copy(p, s.buf[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func sha(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// TestMerkle_S3_SixLeafShape exercises the six-leaf seed scenario:
// leaf_size 1, six one-byte leaves, counts [6,4,2,1] and prev_count
// [0,6,10,12], with leaf index 0's path surfacing stream indexes
// 1, 7, 11, 12.
func TestMerkle_S3_SixLeafShape(t *testing.T) {
	leaves := [][]byte{
		sha([]byte("a")), sha([]byte("b")), sha([]byte("c")),
		sha([]byte("d")), sha([]byte("e")), sha([]byte("f")),
	}

	sink := &memSink{}
	gen, err := merkle.NewGenerator(6, 1, chunking.SHA256, sink)
	require.NoError(t, err)
	require.NoError(t, gen.AppendLeafHashes(leaves))
	root, err := gen.Finalize()
	require.NoError(t, err)

	wantSize, err := merkle.EstimateOutputBytes(6, 1, chunking.SHA256)
	require.NoError(t, err)
	assert.EqualValues(t, wantSize, len(sink.buf))

	obj, err := merkle.LoadFromReader(sink)
	require.NoError(t, err)
	loadedRoot, err := obj.Root()
	require.NoError(t, err)
	assert.True(t, root.Equal(loadedRoot))

	path, err := obj.VerifyPathByLeafIndex(0)
	require.NoError(t, err)
	require.Len(t, path, 4)
	assert.Equal(t, 1, path[0].StreamIndex)
	assert.Equal(t, 7, path[1].StreamIndex)
	assert.Equal(t, 11, path[2].StreamIndex)
	assert.Equal(t, 12, path[3].StreamIndex)

	ok, err := merkle.VerifyLeafAgainstPath(chunking.SHA256, 6, 0, leaves[0], path)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMerkle_VerifyPath_AllLeaves(t *testing.T) {
	var leaves [][]byte
	for i := 0; i < 11; i++ {
		leaves = append(leaves, sha([]byte{byte(i)}))
	}

	sink := &memSink{}
	gen, err := merkle.NewGenerator(11, 1, chunking.SHA256, sink)
	require.NoError(t, err)
	require.NoError(t, gen.AppendLeafHashes(leaves))
	_, err = gen.Finalize()
	require.NoError(t, err)

	obj, err := merkle.LoadFromReader(sink)
	require.NoError(t, err)

	for i := range leaves {
		path, err := obj.VerifyPathByLeafIndex(i)
		require.NoError(t, err)
		ok, err := merkle.VerifyLeafAgainstPath(chunking.SHA256, 11, i, leaves[i], path)
		require.NoError(t, err)
		assert.True(t, ok, "leaf %d should verify", i)
	}

	ok, err := merkle.VerifyLeafAgainstPath(chunking.SHA256, 11, 3, sha([]byte("tampered")), mustPath(t, obj, 3))
	require.NoError(t, err)
	assert.False(t, ok)
}

func mustPath(t *testing.T, obj *merkle.MerkleTreeObject, i int) []merkle.PathEntry {
	t.Helper()
	path, err := obj.VerifyPathByLeafIndex(i)
	require.NoError(t, err)
	return path
}

func TestMerkle_SingleLeafTreeRootIsTheLeaf(t *testing.T) {
	leaf := sha([]byte("only"))
	sink := &memSink{}
	gen, err := merkle.NewGenerator(1, 4, chunking.SHA256, sink)
	require.NoError(t, err)
	require.NoError(t, gen.AppendLeafHashes([][]byte{leaf}))
	root, err := gen.Finalize()
	require.NoError(t, err)
	assert.True(t, bytes.Equal(root.Hash, leaf))

	obj, err := merkle.LoadFromReader(sink)
	require.NoError(t, err)
	path, err := obj.VerifyPathByLeafIndex(0)
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.True(t, bytes.Equal(path[0].Hash, leaf))
}

func TestMerkle_Finalize_RejectsWrongLeafCount(t *testing.T) {
	sink := &memSink{}
	gen, err := merkle.NewGenerator(6, 1, chunking.SHA256, sink)
	require.NoError(t, err)
	require.NoError(t, gen.AppendLeafHashes([][]byte{sha([]byte("a")), sha([]byte("b"))}))
	_, err = gen.Finalize()
	assert.Error(t, err)
}

func TestMerkle_AppendLeafHashes_RejectsTooMany(t *testing.T) {
	sink := &memSink{}
	gen, err := merkle.NewGenerator(1, 1, chunking.SHA256, sink)
	require.NoError(t, err)
	require.NoError(t, gen.AppendLeafHashes([][]byte{sha([]byte("a"))}))
	err = gen.AppendLeafHashes([][]byte{sha([]byte("b"))})
	assert.Error(t, err)
}
