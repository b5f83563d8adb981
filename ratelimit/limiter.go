package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gomind-ai/agentcore/core"
)

const (
	dimAgent       = "agent"
	dimMessageType = "message_type"
	dimPriority    = "priority"
	dimGlobal      = "global"

	globalKey = "*"
)

// Decision is the outcome of Check.
type Decision struct {
	Allowed           bool
	RetryAfter        time.Duration
	LimitingDimension string
}

// Limiter enforces four independent quotas: per-agent, per-message-type,
// per-priority and global — admitting only if all four have capacity. The
// buckets are consumed one after another, each under its own lock; a call
// that is denied refunds the buckets it already consumed from.
type Limiter struct {
	store  Store
	config core.RateLimitConfig
	logger core.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLimiter creates a Limiter backed by store, using cfg for per-dimension
// defaults.
func NewLimiter(store Store, cfg core.RateLimitConfig, logger core.Logger) *Limiter {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Limiter{store: store, config: cfg, logger: logger}
}

// messageTypeLimit returns (max, interval) for a message type, falling back
// to the "default" entry.
func (l *Limiter) messageTypeLimit(messageType string) (int, time.Duration) {
	mt := strings.ToLower(messageType)
	if max, ok := l.config.MessageTypeMax[mt]; ok {
		return max, l.config.MessageTypeInterval
	}
	return l.config.MessageTypeMax["default"], l.config.MessageTypeInterval
}

// priorityLimit returns (max, interval) for a priority, defaulting to the
// medium bucket's configuration if the priority is unrecognized.
func (l *Limiter) priorityLimit(priority string) (int, time.Duration) {
	p := strings.ToLower(priority)
	if max, ok := l.config.PriorityMax[p]; ok {
		return max, l.config.PriorityInterval
	}
	return l.config.PriorityMax["medium"], l.config.PriorityInterval
}

// Check evaluates all four dimensions for (agentID, messageType, priority).
// On Allowed, one token has already been deducted from every dimension; on
// Denied, none has.
func (l *Limiter) Check(ctx context.Context, agentID, messageType, priority string) Decision {
	now := time.Now()

	agentBucket := l.store.GetOrCreate(dimAgent, agentID, l.config.AgentDefaultMax, l.config.AgentDefaultInterval)
	mtMax, mtInterval := l.messageTypeLimit(messageType)
	mtBucket := l.store.GetOrCreate(dimMessageType, strings.ToLower(messageType), mtMax, mtInterval)
	prMax, prInterval := l.priorityLimit(priority)
	prBucket := l.store.GetOrCreate(dimPriority, strings.ToLower(priority), prMax, prInterval)
	globalBucket := l.store.GetOrCreate(dimGlobal, globalKey, l.config.GlobalMax, l.config.GlobalInterval)

	buckets := []struct {
		name string
		b    *Bucket
	}{
		{dimAgent, agentBucket},
		{dimMessageType, mtBucket},
		{dimPriority, prBucket},
		{dimGlobal, globalBucket},
	}

	// Consume each dimension in order, rolling back every already-consumed
	// bucket the moment one denies. A separate check-then-commit pass would
	// let two concurrent callers both pass the check on a single remaining
	// token before either deducts it — this single pass never leaves that
	// window open, since each tryConsume both checks and deducts under its
	// own bucket's lock.
	for i, entry := range buckets {
		if entry.b.tryConsume(now) {
			continue
		}
		for _, admitted := range buckets[:i] {
			admitted.b.refund()
		}
		retryAfter := entry.b.retryAfter(now)
		l.logger.Debug("rate limit denied", map[string]interface{}{
			"agent_id": agentID, "message_type": messageType, "priority": priority,
			"dimension": entry.name, "retry_after_seconds": retryAfter.Seconds(),
		})
		return Decision{Allowed: false, RetryAfter: retryAfter, LimitingDimension: entry.name}
	}

	if rs, ok := l.store.(*RedisStore); ok {
		rs.ReportUsage(ctx, dimAgent, agentID)
	}

	return Decision{Allowed: true}
}

// StartReplenisher runs a background 1Hz tick. Lazy replenishment inside
// Check already keeps the observable contract correct; this amortizes the
// cost for buckets nobody is actively hitting. It is idempotent to call
// Stop multiple times and completes at most one more iteration after
// cancellation.
func (l *Limiter) StartReplenisher(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now()
				for _, b := range l.store.All() {
					b.mu.Lock()
					b.replenish(now)
					b.mu.Unlock()
				}
			}
		}
	}()
}

// Stop cancels the background replenisher and waits for it to exit.
func (l *Limiter) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// GetConfig returns the limits for a dimension/key, matching the admin
// surface's get_rate_limits. It only reports buckets that already exist and
// returns false otherwise; an empty key is looked up like any other key and
// does not return the dimension's default configuration.
func (l *Limiter) GetConfig(dimension, key string) (Snapshot, bool) {
	buckets := l.store.All()
	b, ok := buckets[bucketKey(dimension, key)]
	if !ok {
		return Snapshot{}, false
	}
	return b.Snapshot(), true
}

// UpdateLimit replaces a bucket's (max, interval), matching the admin
// surface's update_rate_limit.
func (l *Limiter) UpdateLimit(dimension, key string, max int, interval time.Duration) bool {
	buckets := l.store.All()
	b, ok := buckets[bucketKey(dimension, key)]
	if !ok {
		b = l.store.GetOrCreate(dimension, key, max, interval)
		return b != nil
	}
	b.Reconfigure(max, interval)
	return true
}
