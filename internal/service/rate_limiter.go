package service

import (
	"sync"
	"time"

	"github.com/target/rolefusion/internal/ports"
)

// Defaults for impersonation start quotas.
const (
	DefaultImpersonationRateLimit  = 5
	DefaultImpersonationRateWindow = time.Hour
)

// RateLimiter bounds attempts per key inside a fixed window. Windows open on the
// first attempt and reset lazily on the next attempt after they elapse.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	limit   int
	window  time.Duration
	clock   ports.Clock
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// RateWindow is the persisted form of one open window.
type RateWindow struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// NewRateLimiter creates a limiter allowing limit attempts per windowSize per key.
// Non-positive arguments fall back to the impersonation defaults.
func NewRateLimiter(limit int, windowSize time.Duration, clk ports.Clock) *RateLimiter {
	if limit <= 0 {
		limit = DefaultImpersonationRateLimit
	}
	if windowSize <= 0 {
		windowSize = DefaultImpersonationRateWindow
	}
	if clk == nil {
		panic("rate limiter requires a clock")
	}
	return &RateLimiter{
		windows: make(map[string]*rateWindow),
		limit:   limit,
		window:  windowSize,
		clock:   clk,
	}
}

// RateLimitKey builds the per-admin, per-source limiter key.
func RateLimitKey(adminID, sourceAddress string) string {
	return adminID + "|" + sourceAddress
}

// Allow records an attempt for key and reports whether it fits in the window.
// Rejected attempts are not counted.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.fitsLocked(key) {
		return false
	}
	rl.recordLocked(key)
	return true
}

// Check reports whether one more attempt for key fits in the window without counting it.
func (rl *RateLimiter) Check(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.fitsLocked(key)
}

// Record counts one attempt for key, opening a window if none is open.
func (rl *RateLimiter) Record(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.recordLocked(key)
}

func (rl *RateLimiter) fitsLocked(key string) bool {
	w, ok := rl.windows[key]
	if !ok || !rl.clock.Now().Before(w.resetAt) {
		return true
	}
	return w.count < rl.limit
}

func (rl *RateLimiter) recordLocked(key string) {
	now := rl.clock.Now()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		rl.windows[key] = &rateWindow{count: 1, resetAt: now.Add(rl.window)}
		return
	}
	w.count++
}

// Remaining returns how many attempts are left in the current window.
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || !rl.clock.Now().Before(w.resetAt) {
		return rl.limit
	}
	if rem := rl.limit - w.count; rem > 0 {
		return rem
	}
	return 0
}

// ResetAt returns when the window for key closes, or the zero time if none is open.
func (rl *RateLimiter) ResetAt(key string) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || !rl.clock.Now().Before(w.resetAt) {
		return time.Time{}
	}
	return w.resetAt
}

// Limit returns the configured attempts per window.
func (rl *RateLimiter) Limit() int { return rl.limit }

// Prune drops elapsed windows and returns how many were removed.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	removed := 0
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}

// Windows returns the open windows keyed like Allow.
func (rl *RateLimiter) Windows() map[string]RateWindow {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	out := make(map[string]RateWindow, len(rl.windows))
	for key, w := range rl.windows {
		if now.Before(w.resetAt) {
			out[key] = RateWindow{Count: w.count, ResetAt: w.resetAt}
		}
	}
	return out
}

// Load merges previously saved windows. Elapsed windows are skipped, and a key
// keeps whichever of the two windows has counted more attempts.
func (rl *RateLimiter) Load(windows map[string]RateWindow) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for key, saved := range windows {
		if saved.Count <= 0 || !now.Before(saved.ResetAt) {
			continue
		}
		if w, ok := rl.windows[key]; ok && now.Before(w.resetAt) && w.count >= saved.Count {
			continue
		}
		resetAt := saved.ResetAt
		if latest := now.Add(rl.window); resetAt.After(latest) {
			resetAt = latest
		}
		rl.windows[key] = &rateWindow{count: min(saved.Count, rl.limit), resetAt: resetAt}
	}
}
