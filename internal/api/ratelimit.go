package api

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a per-user fixed-window limiter for mutating requests.
// ARCHITECTURAL DISCOVERY: Per-client state tracking with periodic cleanup
// keeps memory bounded by the number of recently active users.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimit
	limit   int
	window  time.Duration
	now     func() time.Time
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows perMinute requests per user per minute.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*clientLimit),
		limit:   perMinute,
		window:  time.Minute,
		now:     time.Now,
	}
}

// Allow records a request by userID and reports whether it is within the
// limit. When it is not, retryAfter is the time left in the window.
func (rl *RateLimiter) Allow(userID string) (ok bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[userID]
	if !exists || now.Sub(limit.windowStart) >= rl.window {
		rl.clients[userID] = &clientLimit{count: 1, windowStart: now}
		return true, 0
	}

	if limit.count >= rl.limit {
		return false, limit.windowStart.Add(rl.window).Sub(now)
	}

	limit.count++
	return true, 0
}

// Cleanup removes clients idle for more than five windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, userID)
		}
	}
}

// Run calls Cleanup every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
