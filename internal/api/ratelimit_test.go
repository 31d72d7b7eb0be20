package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("instructor-1")
		assert.True(t, ok, "request %d", i+1)
	}
	ok, retryAfter := rl.Allow("instructor-1")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)

	// Other users have their own window.
	ok, _ = rl.Allow("p1")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = rl.Allow("instructor-1")
	assert.True(t, ok, "new window resets the count")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(10)
	rl.now = func() time.Time { return now }

	rl.Allow("stale")
	now = now.Add(4 * time.Minute)
	rl.Allow("fresh")
	now = now.Add(2 * time.Minute)

	rl.Cleanup()
	assert.Equal(t, 1, rl.size())
}

func TestRateLimiter_RunStopsWithContext(t *testing.T) {
	rl := NewRateLimiter(10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		rl.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
