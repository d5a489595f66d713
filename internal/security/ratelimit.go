package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("security: rate limit exceeded")

// RateLimitConfig holds configurable per-user request limits.
type RateLimitConfig struct {
	// RequestsPerMin caps requests per user per minute. Zero disables limiting.
	RequestsPerMin int `yaml:"requests_per_min"`

	// MaxKeys bounds the number of tracked users. Default: 10000.
	MaxKeys int `yaml:"max_keys"`
}

// RateLimiter implements sliding window rate limiting keyed by user.
// Each bucket tracks timestamps of recent events within the window.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  RateLimitConfig
	window  time.Duration
	now     func() time.Time
}

type bucket struct {
	events []time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &RateLimiter{
		config:  cfg,
		window:  time.Minute,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Enabled reports whether any limit is configured.
func (rl *RateLimiter) Enabled() bool {
	return rl.config.RequestsPerMin > 0
}

// Allow records one request for key. Returns nil if allowed,
// ErrRateLimited if the key exceeded its budget for the window.
func (rl *RateLimiter) Allow(key string) error {
	if !rl.Enabled() {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= rl.config.MaxKeys {
			rl.sweep(now)
		}
		b = &bucket{}
		rl.buckets[key] = b
	}
	b.evict(now, rl.window)

	if len(b.events) >= rl.config.RequestsPerMin {
		return ErrRateLimited
	}

	b.events = append(b.events, now)
	return nil
}

// sweep drops buckets with no events left in the window.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, b := range rl.buckets {
		b.evict(now, rl.window)
		if len(b.events) == 0 {
			delete(rl.buckets, key)
		}
	}
}

// evict removes events outside the sliding window.
func (b *bucket) evict(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	// Events are chronologically ordered.
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
