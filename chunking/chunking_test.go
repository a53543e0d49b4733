package chunking_test

import (
	"bytes"
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/nds/chunking"
)

func TestChunkId_S1_OneByteChunk(t *testing.T) {
	id, length, err := chunking.CalcFromReader(chunking.SHA256, strings.NewReader("a"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, length)

	sum := sha256.Sum256([]byte("a"))
	want, err := chunking.NewChunkId(chunking.SHA256, sum[:])
	require.NoError(t, err)
	assert.True(t, id.Equal(want))
	assert.True(t, strings.HasPrefix(id.String(), "sha256:"))
}

func TestChunkId_RoundTripsThroughString(t *testing.T) {
	id, _, err := chunking.CalcFromReader(chunking.SHA256, bytes.NewReader([]byte("hello world")))
	require.NoError(t, err)

	parsed, err := chunking.ParseChunkId(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
}

func TestChunkId_MixVariantRoundTrips(t *testing.T) {
	id, length, err := chunking.CalcMixFromReader(chunking.SHA256, strings.NewReader("variable-size-chunk"))
	require.NoError(t, err)
	require.True(t, id.IsMix())
	assert.EqualValues(t, length, *id.MixLength)
	assert.True(t, strings.HasPrefix(id.String(), "mixsha256:"))

	parsed, err := chunking.ParseChunkId(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
	require.True(t, parsed.IsMix())
	assert.Equal(t, *id.MixLength, *parsed.MixLength)
}

func TestChunkId_ToObjId(t *testing.T) {
	id, _, err := chunking.CalcFromReader(chunking.SHA256, strings.NewReader("a"))
	require.NoError(t, err)
	obj := id.ToObjId()
	assert.Equal(t, "chunk", obj.Type)
	assert.Equal(t, id.Hash, obj.Hash)
}

func TestObjId_S6_CanonicalRoundTrip(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1}
	b := map[string]interface{}{"a": 1, "b": 2}

	idA, canonA, err := chunking.PutObjectId("test", a)
	require.NoError(t, err)
	idB, canonB, err := chunking.PutObjectId("test", b)
	require.NoError(t, err)

	assert.True(t, idA.Equal(idB))
	assert.Equal(t, `{"a":1,"b":2}`, string(canonA))
	assert.Equal(t, string(canonA), string(canonB))
}

func TestObjId_RoundTripsThroughString(t *testing.T) {
	id, _, err := chunking.PutObjectId("file", map[string]interface{}{"x": "y"})
	require.NoError(t, err)

	parsed, err := chunking.ParseObjId(id.String())
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
}

func TestParseChunkId_RejectsMalformed(t *testing.T) {
	_, err := chunking.ParseChunkId("not-a-chunk-id")
	assert.Error(t, err)
}
