package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBurstThenDeny(t *testing.T) {
	l := New(3, time.Second)
	now := time.Now()

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowAt(now), "token %d", i)
	}
	assert.False(t, l.AllowAt(now))
}

func TestRefill(t *testing.T) {
	l := New(2, time.Second)
	now := time.Now()
	assert.True(t, l.AllowAt(now))
	assert.True(t, l.AllowAt(now))
	assert.False(t, l.AllowAt(now))

	// Two tokens per second, so one is back after half a second.
	assert.True(t, l.AllowAt(now.Add(500*time.Millisecond)))
	assert.False(t, l.AllowAt(now.Add(500*time.Millisecond)))
}

func TestInvalidArgumentsFallBack(t *testing.T) {
	l := New(0, 0)
	now := time.Now()
	assert.True(t, l.AllowAt(now))
	assert.False(t, l.AllowAt(now))
	assert.True(t, l.AllowAt(now.Add(time.Second)))
}
