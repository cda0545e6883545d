// unadulting/models/services.go
package models

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// --- Stateful Services ---

// RateLimiter is the server-side cadence guard, keyed by principal or IP.
// It is the mandatory counterpart to the advisory ActionLimiter below.
type RateLimiter struct {
	Mu       sync.RWMutex
	Limiters map[string]*rate.Limiter
	LastSeen map[string]time.Time

	every  time.Duration
	burst  int
	prune  time.Duration
	expire time.Duration
}

// NewRateLimiter creates and starts a new rate limiter.
func NewRateLimiter(every time.Duration, burst int, prune, expire time.Duration) *RateLimiter {
	rl := &RateLimiter{
		Limiters: make(map[string]*rate.Limiter),
		LastSeen: make(map[string]time.Time),
		every:    every,
		burst:    burst,
		prune:    prune,
		expire:   expire,
	}
	go rl.cleanup()
	return rl
}

// GetLimiter retrieves or creates a rate limiter for a given key.
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	limiter, exists := rl.Limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.every), rl.burst)
		rl.Limiters[key] = limiter
	}
	rl.LastSeen[key] = time.Now()
	return limiter
}

// cleanup periodically removes old entries from the rate limiter maps.
func (rl *RateLimiter) cleanup() {
	for range time.Tick(rl.prune) {
		rl.Mu.Lock()
		cutoff := time.Now().Add(-rl.expire)
		for key, lastSeen := range rl.LastSeen {
			if lastSeen.Before(cutoff) {
				delete(rl.Limiters, key)
				delete(rl.LastSeen, key)
			}
		}
		rl.Mu.Unlock()
	}
}

// --- Action Limiter ---

// ActionStore is the slice of the keyed string store the limiter needs.
type ActionStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// ActionLimiter enforces a minimum interval between repeated actions under
// the same key, e.g. "post:<topicID>:<userID>". Timestamps are mirrored to
// a persistent store when one is configured; if the store is unavailable
// the action is allowed rather than blocked. This guard is advisory only
// and must be paired with server-side enforcement.
type ActionLimiter struct {
	mu    sync.Mutex
	store ActionStore
	last  map[string]time.Time
	now   func() time.Time
}

// NewActionLimiter creates a limiter backed by the given store (may be nil).
func NewActionLimiter(store ActionStore) *ActionLimiter {
	return &ActionLimiter{
		store: store,
		last:  make(map[string]time.Time),
		now:   time.Now,
	}
}

// SetClock overrides the limiter's time source. Tests only.
func (al *ActionLimiter) SetClock(now func() time.Time) {
	al.mu.Lock()
	al.now = now
	al.mu.Unlock()
}

// Allow reports whether an action under key may proceed. When it may not,
// the returned duration is how long the caller has to wait. A successful
// call records the current time under the key.
func (al *ActionLimiter) Allow(key string, interval time.Duration) (bool, time.Duration) {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := al.now()
	last := al.lastSeen(key)
	if wait := last.Add(interval).Sub(now); wait > 0 {
		return false, wait
	}

	al.last[key] = now
	if al.store != nil {
		// Best-effort: a storage failure never blocks the action.
		_ = al.store.Set(storeKey(key), strconv.FormatInt(now.UnixMilli(), 10))
	}
	return true, 0
}

// WaitMessage formats the user-visible cadence error.
func WaitMessage(wait time.Duration) string {
	return fmt.Sprintf("Please wait %.1fs before trying again.", wait.Seconds())
}

func (al *ActionLimiter) lastSeen(key string) time.Time {
	if al.store != nil {
		if raw, ok, err := al.store.Get(storeKey(key)); err == nil && ok {
			if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
				return time.UnixMilli(ms)
			}
		}
	}
	return al.last[key]
}

func storeKey(key string) string {
	return "rl:" + key
}
