package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/nds/backup/engine"
)

func TestSelector_RoundRobinsAcrossFileServers(t *testing.T) {
	fc1 := &fakeFileClient{}
	fc2 := &fakeFileClient{}
	sel := engine.NewSelector(nil,
		[]engine.FileServer{
			{Type: "s3", Name: "a", Client: fc1},
			{Type: "s3", Name: "b", Client: fc2},
		},
		nil,
	)

	first, err := sel.SelectNewFileServer()
	require.NoError(t, err)
	second, err := sel.SelectNewFileServer()
	require.NoError(t, err)
	third, err := sel.SelectNewFileServer()
	require.NoError(t, err)

	assert.Equal(t, "a", first.Name)
	assert.Equal(t, "b", second.Name)
	assert.Equal(t, "a", third.Name)
}

func TestSelector_LookupFileServer_NotFound(t *testing.T) {
	sel := engine.NewSelector(nil, nil, nil)
	_, err := sel.LookupFileServer("s3", "missing")
	assert.Error(t, err)
}

func TestSelector_SelectTaskServer_NoneConfigured(t *testing.T) {
	sel := engine.NewSelector(nil, nil, nil)
	_, err := sel.SelectTaskServer()
	assert.Error(t, err)
}
