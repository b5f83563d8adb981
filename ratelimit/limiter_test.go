package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomind-ai/agentcore/core"
)

func testConfig() core.RateLimitConfig {
	return core.RateLimitConfig{
		AgentDefaultMax:      100,
		AgentDefaultInterval: 60 * time.Second,
		GlobalMax:            1000,
		GlobalInterval:       60 * time.Second,
		MessageTypeMax: map[string]int{
			"direct": 50, "default": 50,
		},
		MessageTypeInterval: 60 * time.Second,
		PriorityMax: map[string]int{
			"high": 50, "medium": 100, "low": 200,
		},
		PriorityInterval: 60 * time.Second,
	}
}

func TestLimiter_AllowsWithinQuota(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), testConfig(), nil)
	d := l.Check(context.Background(), "agent-a", "direct", "medium")
	assert.True(t, d.Allowed)
}

func TestLimiter_DeniesAndReturnsRetryAfter(t *testing.T) {
	cfg := testConfig()
	cfg.AgentDefaultMax = 1
	cfg.AgentDefaultInterval = time.Second

	l := NewLimiter(NewMemoryStore(), cfg, nil)
	ctx := context.Background()

	first := l.Check(ctx, "agent-a", "direct", "medium")
	require.True(t, first.Allowed)

	second := l.Check(ctx, "agent-a", "direct", "medium")
	require.False(t, second.Allowed)
	assert.GreaterOrEqual(t, second.RetryAfter, time.Second)
	assert.Equal(t, dimAgent, second.LimitingDimension)
}

func TestLimiter_DenyDoesNotDeductAnyDimension(t *testing.T) {
	cfg := testConfig()
	cfg.AgentDefaultMax = 1
	cfg.AgentDefaultInterval = time.Minute

	l := NewLimiter(NewMemoryStore(), cfg, nil)
	ctx := context.Background()

	require.True(t, l.Check(ctx, "agent-a", "direct", "medium").Allowed)
	// Exhausted the agent bucket; the message-type and priority buckets
	// must remain untouched since the agent dimension short-circuits first.
	require.False(t, l.Check(ctx, "agent-a", "direct", "medium").Allowed)

	snap, ok := l.GetConfig(dimMessageType, "direct")
	require.True(t, ok)
	assert.Equal(t, float64(49), snap.TokensCurrent) // one message consumed, not two
}

func TestLimiter_RecoversAfterInterval(t *testing.T) {
	cfg := testConfig()
	cfg.AgentDefaultMax = 1
	cfg.AgentDefaultInterval = 50 * time.Millisecond

	l := NewLimiter(NewMemoryStore(), cfg, nil)
	ctx := context.Background()

	require.True(t, l.Check(ctx, "agent-a", "direct", "medium").Allowed)
	require.False(t, l.Check(ctx, "agent-a", "direct", "medium").Allowed)

	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.Check(ctx, "agent-a", "direct", "medium").Allowed)
}

func TestLimiter_IndependentAgentBuckets(t *testing.T) {
	cfg := testConfig()
	cfg.AgentDefaultMax = 1
	cfg.AgentDefaultInterval = time.Minute

	l := NewLimiter(NewMemoryStore(), cfg, nil)
	ctx := context.Background()

	require.True(t, l.Check(ctx, "agent-a", "direct", "medium").Allowed)
	require.False(t, l.Check(ctx, "agent-a", "direct", "medium").Allowed)
	assert.True(t, l.Check(ctx, "agent-b", "direct", "medium").Allowed)
}

func TestBucket_ReplenishSkipsSubOneTokenDrift(t *testing.T) {
	b := NewBucket(1, time.Second)
	now := time.Now()
	b.consume(now)

	// Less than a full interval has passed: no whole token to add, and
	// last_replenished must not move; the drift-conservative choice.
	almost := now.Add(500 * time.Millisecond)
	assert.False(t, b.wouldAdmit(almost))

	// Because last_replenished stayed at creation time, a full interval has
	// elapsed by 1.1s and one token is available again.
	later := now.Add(1100 * time.Millisecond)
	assert.True(t, b.wouldAdmit(later))
}
