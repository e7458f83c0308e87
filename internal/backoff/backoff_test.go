package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_DoublesAndCaps(t *testing.T) {
	base := 30 * time.Second
	cap := 15 * time.Minute

	assert.Equal(t, 30*time.Second, Delay(base, cap, 0))
	assert.Equal(t, 60*time.Second, Delay(base, cap, 1))
	assert.Equal(t, 120*time.Second, Delay(base, cap, 2))
	assert.Equal(t, cap, Delay(base, cap, 10))
}

func TestBackoff_NextGrowsAndResetReturnsToBase(t *testing.T) {
	b := New(100*time.Millisecond, time.Second)

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 400*time.Millisecond, b.Next())
	assert.Equal(t, 800*time.Millisecond, b.Next())
	assert.Equal(t, time.Second, b.Next()) // capped

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}
