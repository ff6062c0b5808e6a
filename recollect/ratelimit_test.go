package recollect

import (
	"fmt"
	"github.com/stretchr/testify/assert"
	"sync"
	"testing"
	"time"
)

func newTestRateLimiter(t testing.TB) (*RateLimiter, *time.Time) {
	t.Helper()
	config := DefaultConfig().RateLimit
	limiter := NewRateLimiter(config)
	clock, now := fixedClock(testClockStart)
	limiter.now = clock
	return limiter, now
}

func TestRateLimiter_Cooldown(t *testing.T) {
	t.Parallel()
	limiter, now := newTestRateLimiter(t)

	rv := limiter.Check("u1", "hello")
	assert.True(t, rv.Allowed)
	assert.Empty(t, rv.Message)

	*now = now.Add(time.Second)
	rv = limiter.Check("u1", "something else")
	assert.False(t, rv.Allowed)
	assert.Equal(t, DefaultRateLimitSlowDown, rv.Message)

	// other users aren't affected
	assert.True(t, limiter.Check("u2", "hello").Allowed)

	*now = now.Add(DefaultRateLimitCooldown)
	assert.True(t, limiter.Check("u1", "something else").Allowed)
}

func TestRateLimiter_RejectedAttemptsDontExtendCooldown(t *testing.T) {
	t.Parallel()
	limiter, now := newTestRateLimiter(t)

	assert.True(t, limiter.Check("u1", "first").Allowed)
	*now = now.Add(2 * time.Second)
	assert.False(t, limiter.Check("u1", "second").Allowed)
	*now = now.Add(2 * time.Second)
	assert.True(t, limiter.Check("u1", "third").Allowed)
}

func TestRateLimiter_Duplicates(t *testing.T) {
	t.Parallel()
	limiter, now := newTestRateLimiter(t)

	assert.True(t, limiter.Check("u1", "Hello  there").Allowed)

	*now = now.Add(500 * time.Millisecond)
	rv := limiter.Check("u1", "hello there")
	assert.True(t, rv.Allowed, "the first repeat within the cooldown is allowed")

	*now = now.Add(500 * time.Millisecond)
	rv = limiter.Check("u1", "HELLO THERE")
	assert.False(t, rv.Allowed)
	assert.Equal(t, DefaultRateLimitSpam, rv.Message)

	*now = now.Add(DefaultRateLimitCooldown)
	assert.True(t, limiter.Check("u1", "hello there").Allowed)
}

func TestRateLimiter_Forget(t *testing.T) {
	t.Parallel()
	limiter, _ := newTestRateLimiter(t)

	assert.True(t, limiter.Check("u1", "a").Allowed)
	assert.False(t, limiter.Check("u1", "b").Allowed)
	assert.Equal(t, 1, limiter.Len())

	limiter.Forget("u1")
	assert.Equal(t, 0, limiter.Len())
	assert.True(t, limiter.Check("u1", "b").Allowed)
}

func TestRateLimiter_MaxIdentities(t *testing.T) {
	t.Parallel()
	config := DefaultConfig().RateLimit
	config.MaxIdentities = 2
	limiter := NewRateLimiter(config)

	limiter.Check("u1", "a")
	limiter.Check("u2", "a")
	limiter.Check("u3", "a")
	assert.Equal(t, 2, limiter.Len())

	// u1 was evicted, so it starts over
	assert.True(t, limiter.Check("u1", "b").Allowed)
}

func TestRateLimiter_Concurrent(t *testing.T) {
	t.Parallel()
	limiter := NewRateLimiter(DefaultConfig().RateLimit)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%5)
			limiter.Check(user, fmt.Sprintf("prompt %d", i))
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, limiter.Len())
}

func TestPromptFingerprint(t *testing.T) {
	t.Parallel()
	assert.Equal(t, promptFingerprint("Hello   World"), promptFingerprint(" hello world\n"))
	assert.NotEqual(t, promptFingerprint("hello world"), promptFingerprint("hello, world"))
}
