package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/buckyos/nds/backup/engine"
)

func TestBackoffPolicy_DelayDoublesUpToCap(t *testing.T) {
	p := engine.BackoffPolicy{Base: time.Second, Max: 8 * time.Second, FailAfter: time.Hour}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 8*time.Second, p.Delay(10))
}

func TestBackoffPolicy_ShouldFailAfterDeadline(t *testing.T) {
	p := engine.DefaultBackoffPolicy()
	assert.False(t, p.ShouldFail(1000, 1000+3600))
	assert.True(t, p.ShouldFail(1000, 1000+int64(25*time.Hour/time.Second)))
}
