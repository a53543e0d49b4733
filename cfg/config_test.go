package cfg_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/nds/cfg"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	c, err := cfg.Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, cfg.Default(), c)
}

func TestValidate_RejectsEmptyStores(t *testing.T) {
	c := cfg.Default()
	c.NDM.Stores = nil
	assert.Error(t, cfg.Validate(c))
}

func TestValidate_RejectsBadRetryWindow(t *testing.T) {
	c := cfg.Default()
	c.Backup.RetryMaxDelayMS = c.Backup.RetryBaseDelayMS - 1
	assert.Error(t, cfg.Validate(c))
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	assert.NoError(t, cfg.Validate(cfg.Default()))
}
