package recollect

import (
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"strings"
	"sync"
	"time"
)

// RateLimitResult is the outcome of RateLimiter.Check. Message is set
// when the request isn't allowed.
type RateLimitResult struct {
	Allowed bool
	Message string
}

type rateLimitEntry struct {
	lastAt      time.Time
	fingerprint uint64
	duplicates  int
}

// RateLimiter enforces a per-user cooldown between requests.
//
// Within the cooldown, a repeat of the last prompt is allowed once (to
// cover a user editing and resending the same thing), and rejected after
// that. A different prompt within the cooldown is rejected. State for a
// user is dropped after [RateLimitConfig.IdleTTL] of inactivity, and at
// most [RateLimitConfig.MaxIdentities] users are tracked, least recently
// active evicted first.
type RateLimiter struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, rateLimitEntry]
	config  *RateLimitConfig
	now     func() time.Time
}

func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultConfig().RateLimit
	}
	return &RateLimiter{
		entries: expirable.NewLRU[string, rateLimitEntry](
			config.MaxIdentities,
			nil,
			config.IdleTTL,
		),
		config: config,
		now:    time.Now,
	}
}

// Check reports whether identity may send prompt now, and records the
// attempt.
func (r *RateLimiter) Check(identity string, prompt string) RateLimitResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	fingerprint := promptFingerprint(prompt)

	entry, ok := r.entries.Get(identity)
	if ok && now.Sub(entry.lastAt) < r.config.Cooldown {
		if entry.fingerprint != fingerprint {
			return RateLimitResult{Message: r.config.SlowDownMessage}
		}
		entry.duplicates++
		r.entries.Add(identity, entry)
		if entry.duplicates > 1 {
			return RateLimitResult{Message: r.config.SpamMessage}
		}
		return RateLimitResult{Allowed: true}
	}

	r.entries.Add(
		identity,
		rateLimitEntry{lastAt: now, fingerprint: fingerprint},
	)
	return RateLimitResult{Allowed: true}
}

// Forget drops any state held for identity.
func (r *RateLimiter) Forget(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Remove(identity)
}

// Len returns the number of users currently tracked.
func (r *RateLimiter) Len() int {
	return r.entries.Len()
}

// promptFingerprint hashes a prompt, ignoring case and whitespace
// differences.
func promptFingerprint(prompt string) uint64 {
	normalized := strings.ToLower(strings.Join(strings.Fields(prompt), " "))
	return xxhash.Sum64String(normalized)
}
