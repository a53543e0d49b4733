package chunklist_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/nds/chunking"
	"github.com/buckyos/nds/chunklist"
)

type fakeProvider struct {
	chunks map[string][]byte
	opens  []string
}

func (p *fakeProvider) OpenChunkReader(id chunking.ChunkId, seekFrom int64, autoCache bool) (io.ReadSeekCloser, int64, error) {
	p.opens = append(p.opens, id.String())
	body := p.chunks[id.String()]
	r := bytes.NewReader(body)
	if seekFrom != 0 {
		if _, err := r.Seek(seekFrom, io.SeekStart); err != nil {
			return nil, 0, err
		}
	}
	return nopCloser{r}, int64(len(body)), nil
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

func idFor(t *testing.T, tag string) chunking.ChunkId {
	t.Helper()
	id, _, err := chunking.CalcFromReader(chunking.SHA256, bytes.NewReader([]byte(tag)))
	require.NoError(t, err)
	return id
}

// TestChunklist_S5_ReadsAcrossBoundary exercises the seed scenario: two
// chunks of sizes 10 and 5, seek_from 12 lands 2 bytes into the second
// chunk, yielding its last 3 bytes then EOF with no further opens.
func TestChunklist_S5_ReadsAcrossBoundary(t *testing.T) {
	c0 := idFor(t, "chunk-zero")
	c1Body := []byte("abcde")
	c1 := idFor(t, "chunk-one")

	provider := &fakeProvider{chunks: map[string][]byte{
		c0.String(): bytes.Repeat([]byte{'x'}, 10),
		c1.String(): c1Body,
	}}
	list := chunklist.NewList([]chunklist.Entry{
		{ID: c0, Size: 10},
		{ID: c1, Size: 5},
	})

	r, err := chunklist.NewReader(provider, list, 12, false)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 64)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("cde"), buf[:n])

	_, err = r.Read(buf)
	assert.Equal(t, io.EOF, err)

	assert.Equal(t, []string{c1.String()}, provider.opens)
}

func TestChunklist_ReadsFromTheStart(t *testing.T) {
	c0 := idFor(t, "first")
	c1 := idFor(t, "second")
	provider := &fakeProvider{chunks: map[string][]byte{
		c0.String(): []byte("hello"),
		c1.String(): []byte("world"),
	}}
	list := chunklist.NewList([]chunklist.Entry{
		{ID: c0, Size: 5},
		{ID: c1, Size: 5},
	})

	r, err := chunklist.NewReader(provider, list, 0, false)
	require.NoError(t, err)
	defer r.Close()

	out, err := io.ReadAll(readerFunc(r.Read))
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(out))
	assert.Equal(t, []string{c0.String(), c1.String()}, provider.opens)
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestChunklist_GetChunkIndexByOffset_RejectsOutOfRange(t *testing.T) {
	c0 := idFor(t, "only")
	list := chunklist.NewList([]chunklist.Entry{{ID: c0, Size: 4}})
	_, _, err := list.GetChunkIndexByOffset(100)
	assert.Error(t, err)
}

func TestChunklist_Close_IsIdempotent(t *testing.T) {
	c0 := idFor(t, "a")
	provider := &fakeProvider{chunks: map[string][]byte{c0.String(): []byte("a")}}
	list := chunklist.NewList([]chunklist.Entry{{ID: c0, Size: 1}})
	r, err := chunklist.NewReader(provider, list, 0, false)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Read(make([]byte, 1))
	assert.Error(t, err)
}
