package router

import (
	"sync"
	"time"
)

// RateLimiter implements per-connection rate limiting
// ARCHITECTURAL DISCOVERY: Per-client state tracking with proper cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*ClientLimit
	limit   int
	window  time.Duration
	now     func() time.Time
}

// ClientLimit tracks rate limiting for a single connection
// FUNCTIONAL DISCOVERY: Fixed window reset keeps the check O(1) per event
type ClientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows limit events per window per connection. A
// non-positive limit disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		clients: make(map[string]*ClientLimit),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow checks whether the connection may send another event
func (rl *RateLimiter) Allow(connectionID string) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[connectionID]
	if !exists {
		rl.clients[connectionID] = &ClientLimit{messageCount: 1, windowStart: now}
		return true
	}

	if now.Sub(limit.windowStart) >= rl.window {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.limit {
		return false
	}

	limit.messageCount++
	return true
}

// Forget drops a connection's window once it disconnects
func (rl *RateLimiter) Forget(connectionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, connectionID)
}

// Cleanup removes entries idle for five windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for connectionID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, connectionID)
		}
	}
}

// Tracked returns how many connections currently hold a window
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
