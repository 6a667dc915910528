package api

import (
	"sync"
	"time"
)

// RateLimiter implements per-player rate limiting of mutating requests
// ARCHITECTURAL DISCOVERY: Per-player state tracking with periodic cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*ClientLimit
}

// ClientLimit tracks the current window for a single player
type ClientLimit struct {
	requestCount int
	windowStart  time.Time
}

// NewRateLimiter allows limit requests per player in every window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*ClientLimit),
	}
}

// Allow records one request from playerID and reports whether it fits the window
func (rl *RateLimiter) Allow(playerID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	limit, exists := rl.clients[playerID]
	if !exists {
		// FUNCTIONAL DISCOVERY: First request always allowed, initialize tracking
		rl.clients[playerID] = &ClientLimit{
			requestCount: 1,
			windowStart:  now,
		}
		return true
	}

	// TECHNICAL DISCOVERY: Fixed window resets exactly once per window length
	if now.Sub(limit.windowStart) >= rl.window {
		limit.requestCount = 1
		limit.windowStart = now
		return true
	}

	if limit.requestCount >= rl.limit {
		return false
	}

	limit.requestCount++
	return true
}

// Cleanup removes players idle for five windows (call periodically)
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0
	for playerID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, playerID)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of players with live rate-limit state
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
