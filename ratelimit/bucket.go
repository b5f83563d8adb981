// Package ratelimit implements a four-dimension token-bucket rate limiter:
// per-agent, per-message-type, per-priority and global quotas, admitted
// only if all four have capacity.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Bucket is a single token bucket: (tokens_current, tokens_max, interval,
// last_replenished_at). Consumption and replenishment are atomic under its
// own lock.
type Bucket struct {
	mu              sync.Mutex
	tokens          float64
	max             int
	interval        time.Duration
	lastReplenished time.Time
}

// NewBucket creates a full bucket.
func NewBucket(max int, interval time.Duration) *Bucket {
	return &Bucket{
		tokens:          float64(max),
		max:             max,
		interval:        interval,
		lastReplenished: time.Now(),
	}
}

// replenish adds floor((now-last)/interval * max) tokens, capped at max.
// last_replenished is only advanced when at least one whole token was
// added — a deliberate drift-conservative choice, not a bug.
func (b *Bucket) replenish(now time.Time) {
	if b.interval <= 0 {
		return
	}
	elapsed := now.Sub(b.lastReplenished)
	if elapsed <= 0 {
		return
	}
	toAdd := math.Floor(elapsed.Seconds() / b.interval.Seconds() * float64(b.max))
	if toAdd < 1 {
		return
	}
	b.tokens += toAdd
	if b.tokens > float64(b.max) {
		b.tokens = float64(b.max)
	}
	b.lastReplenished = now
}

// wouldAdmit checks capacity without consuming. Limiter.Check does not use
// it (it uses tryConsume); it is kept for direct bucket-level checks.
func (b *Bucket) wouldAdmit(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replenish(now)
	return b.tokens >= 1
}

// consume deducts exactly one token if at least one is available.
// Limiter.Check does not use it (it uses tryConsume).
func (b *Bucket) consume(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replenish(now)
	if b.tokens >= 1 {
		b.tokens--
	}
}

// tryConsume atomically replenishes, checks and (on success) deducts one
// token in a single critical section, so a concurrent caller can never
// observe capacity between the check and the deduction.
func (b *Bucket) tryConsume(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replenish(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// refund credits back exactly one token, capped at max — used to roll back
// a bucket that already admitted a request when a later dimension in the
// same call then denies it.
func (b *Bucket) refund() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens++
	if b.tokens > float64(b.max) {
		b.tokens = float64(b.max)
	}
}

// retryAfter computes ceil(last_replenished + interval - now), clamped >= 1s.
func (b *Bucket) retryAfter(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	wait := b.lastReplenished.Add(b.interval).Sub(now)
	wait = time.Duration(math.Ceil(wait.Seconds())) * time.Second
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// Snapshot returns the bucket's current configuration for the admin
// get_rate_limits surface.
type Snapshot struct {
	TokensCurrent float64
	TokensMax     int
	Interval      time.Duration
}

// Snapshot returns a point-in-time view of the bucket.
func (b *Bucket) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replenish(time.Now())
	return Snapshot{TokensCurrent: b.tokens, TokensMax: b.max, Interval: b.interval}
}

// Reconfigure replaces max/interval, used by the admin update_rate_limit
// operation.
func (b *Bucket) Reconfigure(max int, interval time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.max = max
	b.interval = interval
	if b.tokens > float64(max) {
		b.tokens = float64(max)
	}
}
